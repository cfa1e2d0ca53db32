package repo

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/foomo/sysfshelper/device"
	"github.com/foomo/sysfshelper/pkg/metrics"
	"github.com/foomo/sysfshelper/pkg/sysfs"
	"github.com/foomo/sysfshelper/responses"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Repo inventory of the usb functions of the host
type (
	Repo struct {
		l                       *zap.Logger
		scanner                 Scanner
		poll                    bool
		pollInterval            time.Duration
		devRoot                 string
		onLoaded                func()
		loaded                  *atomic.Bool
		history                 *History
		updateInProgressChannel chan chan updateResponse
		snapshot                *device.Snapshot
		snapshotLock            sync.RWMutex
		jsonBuffer              *bytes.Buffer
		jsonBufferLock          sync.RWMutex
	}
	// Scanner takes snapshots, see sysfs.Helper
	Scanner interface {
		Scan(ctx context.Context) (*device.Snapshot, error)
	}
	Option func(*Repo)
)

// ------------------------------------------------------------------------------------------------
// ~ Constructor
// ------------------------------------------------------------------------------------------------

func New(l *zap.Logger, scanner Scanner, history *History, opts ...Option) *Repo {
	inst := &Repo{
		l:                       l.Named("repo"),
		scanner:                 scanner,
		poll:                    false,
		loaded:                  &atomic.Bool{},
		pollInterval:            time.Minute,
		devRoot:                 sysfs.DefaultDevRoot,
		history:                 history,
		snapshot:                device.NewSnapshot(),
		updateInProgressChannel: make(chan chan updateResponse),
	}

	for _, opt := range opts {
		opt(inst)
	}

	return inst
}

// ------------------------------------------------------------------------------------------------
// ~ Options
// ------------------------------------------------------------------------------------------------

func WithPoll(v bool) Option {
	return func(o *Repo) {
		o.poll = v
	}
}

func WithPollInterval(v time.Duration) Option {
	return func(o *Repo) {
		o.pollInterval = v
	}
}

// WithDevRoot must match the dev root of the scanner for Find
func WithDevRoot(v string) Option {
	return func(o *Repo) {
		o.devRoot = strings.TrimSuffix(v, "/")
	}
}

// ------------------------------------------------------------------------------------------------
// ~ Getter
// ------------------------------------------------------------------------------------------------

func (r *Repo) Loaded() bool {
	return r.loaded.Load()
}

// Snapshot returns the current snapshot, it must not be modified
func (r *Repo) Snapshot() *device.Snapshot {
	r.snapshotLock.RLock()
	defer r.snapshotLock.RUnlock()
	return r.snapshot
}

func (r *Repo) SetSnapshot(v *device.Snapshot) {
	r.snapshotLock.Lock()
	defer r.snapshotLock.Unlock()
	r.snapshot = v
}

func (r *Repo) JSONBufferBytes() []byte {
	r.jsonBufferLock.RLock()
	defer r.jsonBufferLock.RUnlock()
	if r.jsonBuffer == nil {
		return nil
	}
	return r.jsonBuffer.Bytes()
}

func (r *Repo) SetJSONBuffer(v *bytes.Buffer) {
	r.jsonBufferLock.Lock()
	defer r.jsonBufferLock.Unlock()
	r.jsonBuffer = v
}

// ------------------------------------------------------------------------------------------------
// ~ Public methods
// ------------------------------------------------------------------------------------------------

func (r *Repo) OnLoaded(fn func()) {
	r.onLoaded = fn
}

// Functions all functions of the current snapshot
func (r *Repo) Functions() []*device.Function {
	return r.Snapshot().Functions
}

// IDs all vid:pid pairs of the current snapshot
func (r *Repo) IDs() []device.ID {
	return r.Snapshot().IDs
}

// FindByID functions matching the given ids, which are normalized first
func (r *Repo) FindByID(vid, pid string) []*device.Function {
	vid, pid = sysfs.NormalizeID(vid), sysfs.NormalizeID(pid)
	out := []*device.Function{}
	for _, f := range r.Functions() {
		if f.Matches(vid, pid) {
			out = append(out, f)
		}
	}
	return out
}

// Find looks up the function behind a device node like "/dev/ttyUSB0",
// "ttyUSB0" or "snd/controlC0"
func (r *Repo) Find(dev string) *device.Lookup {
	lookup := &device.Lookup{
		Status:  device.StatusNotFound,
		DevNode: dev,
	}
	if dev == "" {
		return lookup
	}
	name := sysfs.TrimDevRoot(r.devRoot, dev)
	for _, f := range r.Functions() {
		if f.DevName == name {
			r.l.Debug("device node resolved", zap.String("dev", dev), zap.String("id", f.ID().String()))
			lookup.Status = device.StatusOk
			lookup.Function = f
			return lookup
		}
	}
	r.l.Debug("device node not found", zap.String("dev", dev))
	return lookup
}

// WriteSnapshotBytes writes the current snapshot to the provided writer.
// It serves from the in-memory buffer, falling back to storage only when empty.
// The result is wrapped as service response, e.g: {"reply": <snapshot>}
func (r *Repo) WriteSnapshotBytes(ctx context.Context, w io.Writer) error {
	data := r.JSONBufferBytes()

	if len(data) == 0 {
		// cold start or not yet loaded
		var buf bytes.Buffer
		if err := r.history.GetCurrent(ctx, &buf); err != nil {
			return fmt.Errorf("failed to read snapshot from storage: %w", err)
		}
		data = buf.Bytes()
	}

	if _, err := w.Write([]byte(`{"reply":`)); err != nil {
		return fmt.Errorf("failed to write snapshot JSON prefix: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("failed to write snapshot JSON data: %w", err)
	}
	if _, err := w.Write([]byte(`}`)); err != nil {
		return fmt.Errorf("failed to write snapshot JSON suffix: %w", err)
	}
	return nil
}

func (r *Repo) Update(ctx context.Context) (updateResponse *responses.Update) {
	return r.runUpdate(ctx, func() (int64, error) {
		return r.tryUpdate()
	})
}

func (r *Repo) runUpdate(ctx context.Context, request func() (int64, error)) (updateResponse *responses.Update) {
	floatSeconds := func(nanoSeconds int64) float64 {
		return float64(nanoSeconds) / float64(time.Second)
	}

	r.l.Info("Update triggered")

	start := time.Now()
	scanRuntime, err := request()
	updateResponse = &responses.Update{}
	updateResponse.Stats.ScanRuntime = floatSeconds(scanRuntime)

	if err != nil {
		updateResponse.Success = false
		updateResponse.Stats.NumberOfFunctions = -1
		updateResponse.Stats.NumberOfIDs = -1

		// only try to restore if the update failed during processing
		if !errors.Is(err, ErrUpdateRejected) {
			updateResponse.ErrorMessage = err.Error()
			r.l.Error("Failed to update inventory", zap.Error(err))

			if restoreErr := r.tryToRestoreCurrent(ctx); restoreErr != nil {
				r.l.Error("Failed to restore preceding snapshot", zap.Error(restoreErr))
			} else {
				r.l.Info("Successfully restored current snapshot from history")
			}
		}
	} else {
		updateResponse.Success = true
		if historyErr := r.history.Add(ctx, r.JSONBufferBytes()); historyErr != nil {
			r.l.Error("Could not persist current snapshot in history", zap.Error(historyErr))
			metrics.HistoryPersistFailedCounter.WithLabelValues().Inc()
		} else {
			r.l.Info("Successfully persisted current snapshot to history")
		}
		snapshot := r.Snapshot()
		updateResponse.Stats.NumberOfFunctions = len(snapshot.Functions)
		updateResponse.Stats.NumberOfIDs = len(snapshot.IDs)
	}
	updateResponse.Stats.OwnRuntime = floatSeconds(time.Since(start).Nanoseconds()) - updateResponse.Stats.ScanRuntime
	return updateResponse
}

func (r *Repo) Start(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)

	l := r.l.Named("start")

	up := make(chan bool, 1)
	g.Go(func() error {
		l.Debug("starting update routine")
		up <- true
		return r.UpdateRoutine(gCtx)
	})
	l.Debug("waiting for UpdateRoutine")
	<-up

	l.Debug("trying to restore previous snapshot")
	if err := r.tryToRestoreCurrent(gCtx); errors.Is(err, os.ErrNotExist) {
		l.Info("previous snapshot does not exist")
	} else if err != nil {
		l.Warn("could not restore previous snapshot", zap.Error(err))
	} else {
		l.Info("restored previous snapshot")
	}

	if r.poll {
		g.Go(func() error {
			l.Debug("starting poll routine")
			return r.PollRoutine(gCtx)
		})
	}

	// a restored snapshot may be stale, devices come and go
	l.Debug("trying to update initial state")
	// queued, the update routine may not be receiving yet
	if resp := r.runUpdate(gCtx, func() (int64, error) {
		return r.queueUpdate(gCtx)
	}); !resp.Success {
		l.Error("failed to update initial state",
			zap.String("error", resp.ErrorMessage),
			zap.Int("num_functions", resp.Stats.NumberOfFunctions),
			zap.Int("num_ids", resp.Stats.NumberOfIDs),
			zap.Float64("own_runtime", resp.Stats.OwnRuntime),
			zap.Float64("scan_runtime", resp.Stats.ScanRuntime),
		)
	}

	return g.Wait()
}
