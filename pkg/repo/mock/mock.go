package mock

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/foomo/sysfshelper/device"
)

// Scanner hands out a prepared snapshot instead of reading sysfs
type Scanner struct {
	mu       sync.Mutex
	snapshot *device.Snapshot
	err      error
	delay    time.Duration
	calls    atomic.Int64
}

func NewScanner(snapshot *device.Snapshot) *Scanner {
	return &Scanner{snapshot: snapshot}
}

func (s *Scanner) Scan(ctx context.Context) (*device.Snapshot, error) {
	s.calls.Add(1)
	s.mu.Lock()
	snapshot, err, delay := s.snapshot, s.err, s.delay
	s.mu.Unlock()
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return snapshot, nil
}

func (s *Scanner) SetSnapshot(v *device.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot = v
}

func (s *Scanner) SetErr(v error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = v
}

func (s *Scanner) SetDelay(v time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delay = v
}

// Calls number of scans so far
func (s *Scanner) Calls() int64 {
	return s.calls.Load()
}

// MakeSnapshot a snapshot with a serial adapter and a webcam
func MakeSnapshot() *device.Snapshot {
	snapshot := device.NewSnapshot()
	snapshot.Host = "mock"
	snapshot.ScannedAt = time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	snapshot.Functions = []*device.Function{
		{
			VID:       "67b",
			PID:       "2303",
			USBNode:   "/sys/devices/pci0000:00/0000:00:14.0/usb1/1-1/1-1:1.0",
			ClassName: "tty",
			DevName:   "ttyUSB0",
			DevPath:   "/dev/ttyUSB0",
		},
		{
			VID:       "46d",
			PID:       "825",
			USBNode:   "/sys/devices/pci0000:00/0000:00:14.0/usb1/1-2/1-2:1.2",
			ClassName: "sound",
			DevName:   "snd/controlC1",
			DevPath:   "/dev/snd/controlC1",
		},
		{
			VID:       "46d",
			PID:       "825",
			USBNode:   "/sys/devices/pci0000:00/0000:00:14.0/usb1/1-2/1-2:1.0",
			ClassName: "video4linux",
			DevName:   "video0",
			DevPath:   "/dev/video0",
		},
	}
	snapshot.IDs = []device.ID{
		{VID: "1d6b", PID: "2"},
		{VID: "46d", PID: "825"},
		{VID: "67b", PID: "2303"},
	}
	return snapshot
}
