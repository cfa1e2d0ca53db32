package repo

import (
	"bytes"
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/foomo/sysfshelper/device"
	"github.com/foomo/sysfshelper/pkg/repo/mock"
	"github.com/foomo/sysfshelper/pkg/sysfs"
	"github.com/foomo/sysfshelper/pkg/sysfs/sysfstest"
	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

func NewTestRepo(tb testing.TB, l *zap.Logger, scanner Scanner, varDir string, opts ...Option) *Repo {
	tb.Helper()
	h, err := NewHistory(l, HistoryWithHistoryLimit(2), HistoryWithHistoryDir(varDir))
	require.NoError(tb, err)
	r := New(l, scanner, h, opts...)
	startTestRepo(tb, r)
	require.Eventually(tb, r.Loaded, time.Second, time.Millisecond)
	return r
}

// startTestRepo runs r until the test context is canceled and waits for it on cleanup
func startTestRepo(tb testing.TB, r *Repo) {
	tb.Helper()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = r.Start(tb.Context())
	}()
	tb.Cleanup(func() {
		<-done
	})
}

func assertRepoIsEmpty(t *testing.T, r *Repo, empty bool) {
	t.Helper()
	if empty {
		if len(r.Functions()) > 0 {
			t.Fatal("inventory should have been empty, but is not")
		}
	} else {
		if len(r.Functions()) == 0 {
			t.Fatal("inventory is empty, but should have been not")
		}
	}
}

func TestUpdate(t *testing.T) {
	var (
		l       = zaptest.NewLogger(t)
		scanner = mock.NewScanner(mock.MakeSnapshot())
		r       = NewTestRepo(t, l, scanner, t.TempDir())
	)
	assertRepoIsEmpty(t, r, false)
	assert.True(t, r.Loaded())

	response := r.Update(t.Context())
	require.True(t, response.Success, "could not update inventory")
	assert.Empty(t, response.ErrorMessage)
	assert.Equal(t, 3, response.Stats.NumberOfFunctions)
	assert.Equal(t, 3, response.Stats.NumberOfIDs)
	assert.GreaterOrEqual(t, response.Stats.ScanRuntime, 0.0)

	var buf bytes.Buffer
	require.NoError(t, r.history.GetCurrent(t.Context(), &buf))
	assert.Equal(t, r.JSONBufferBytes(), buf.Bytes())
}

func TestUpdateScanRuntime(t *testing.T) {
	var (
		l       = zaptest.NewLogger(t)
		scanner = mock.NewScanner(mock.MakeSnapshot())
		r       = NewTestRepo(t, l, scanner, t.TempDir())
	)
	scanner.SetDelay(50 * time.Millisecond)

	response := r.Update(t.Context())
	require.True(t, response.Success)
	if response.Stats.OwnRuntime > response.Stats.ScanRuntime {
		t.Fatal("how could all take less time, than the scan alone")
	}
	if response.Stats.ScanRuntime < 0.05 {
		t.Fatal("the scan was too fast")
	}
}

func TestUpdateFailureRestoresHistory(t *testing.T) {
	var (
		l       = zaptest.NewLogger(t)
		scanner = mock.NewScanner(mock.MakeSnapshot())
		r       = NewTestRepo(t, l, scanner, t.TempDir())
	)
	assertRepoIsEmpty(t, r, false)

	scanner.SetErr(errors.New("sysfs is gone"))
	response := r.Update(t.Context())
	require.False(t, response.Success)
	assert.Contains(t, response.ErrorMessage, "sysfs is gone")
	assert.Equal(t, -1, response.Stats.NumberOfFunctions)
	assert.Equal(t, -1, response.Stats.NumberOfIDs)

	// the last good snapshot survives
	assert.Len(t, r.Functions(), 3)
}

func TestUpdateRejected(t *testing.T) {
	var (
		l       = zaptest.NewLogger(t)
		scanner = mock.NewScanner(mock.MakeSnapshot())
		r       = NewTestRepo(t, l, scanner, t.TempDir())
		calls   = scanner.Calls()
	)
	scanner.SetDelay(500 * time.Millisecond)

	done := make(chan bool)
	go func() {
		done <- r.Update(t.Context()).Success
	}()
	require.Eventually(t, func() bool {
		return scanner.Calls() > calls
	}, time.Second, 5*time.Millisecond)

	response := r.Update(t.Context())
	assert.False(t, response.Success)
	assert.Empty(t, response.ErrorMessage)
	assert.True(t, <-done)
}

func TestStartAlwaysLoads(t *testing.T) {
	l := zaptest.NewLogger(t)
	for i := 0; i < 100; i++ {
		h, err := NewHistory(l, HistoryWithStorage(NewFilesystemStorageFromFs(afero.NewMemMapFs())))
		require.NoError(t, err)
		r := New(l, mock.NewScanner(mock.MakeSnapshot()), h)

		ctx, cancel := context.WithCancel(t.Context())
		done := make(chan struct{})
		go func() {
			defer close(done)
			_ = r.Start(ctx)
		}()
		loaded := assert.Eventually(t, r.Loaded, time.Second, time.Millisecond, "start %d never loaded", i)
		cancel()
		<-done
		if !loaded {
			return
		}
	}
}

func TestOnLoaded(t *testing.T) {
	var (
		l       = zaptest.NewLogger(t)
		scanner = mock.NewScanner(mock.MakeSnapshot())
		loaded  atomic.Int32
	)
	h, err := NewHistory(l, HistoryWithHistoryDir(t.TempDir()))
	require.NoError(t, err)
	r := New(l, scanner, h)
	r.OnLoaded(func() {
		loaded.Add(1)
	})
	startTestRepo(t, r)

	require.Eventually(t, r.Loaded, time.Second, 5*time.Millisecond)
	require.True(t, r.Update(t.Context()).Success)
	assert.Equal(t, int32(1), loaded.Load())
}

func TestRestoreOnStart(t *testing.T) {
	var (
		l      = zaptest.NewLogger(t)
		varDir = t.TempDir()
	)
	first := NewTestRepo(t, l, mock.NewScanner(mock.MakeSnapshot()), varDir)
	assertRepoIsEmpty(t, first, false)

	scanner := mock.NewScanner(nil)
	scanner.SetErr(errors.New("no sysfs"))
	h, err := NewHistory(l, HistoryWithHistoryLimit(2), HistoryWithHistoryDir(varDir))
	require.NoError(t, err)
	r := New(l, scanner, h)
	startTestRepo(t, r)
	require.Eventually(t, func() bool {
		return scanner.Calls() > 0 && len(r.Functions()) == 3
	}, time.Second, time.Millisecond)

	assert.False(t, r.Loaded())
	assert.Equal(t, "mock", r.Snapshot().Host)
	assert.Len(t, r.Functions(), 3)
}

func TestQueries(t *testing.T) {
	var (
		l = zaptest.NewLogger(t)
		r = NewTestRepo(t, l, mock.NewScanner(mock.MakeSnapshot()), t.TempDir())
	)

	assert.Len(t, r.IDs(), 3)
	assert.Len(t, r.FindByID("46d", "825"), 2)
	assert.Len(t, r.FindByID("0x046D", "0825"), 2)
	assert.Empty(t, r.FindByID("dead", "beef"))

	for _, dev := range []string{"/dev/ttyUSB0", "ttyUSB0"} {
		lookup := r.Find(dev)
		require.Equal(t, device.StatusOk, lookup.Status, dev)
		assert.Equal(t, dev, lookup.DevNode)
		assert.Equal(t, "2303", lookup.Function.PID)
	}

	lookup := r.Find("snd/controlC1")
	require.Equal(t, device.StatusOk, lookup.Status)
	assert.Equal(t, "sound", lookup.Function.ClassName)

	lookup = r.Find("/dev/ttyS0")
	assert.Equal(t, device.StatusNotFound, lookup.Status)
	assert.Nil(t, lookup.Function)

	assert.Equal(t, device.StatusNotFound, r.Find("").Status)
	// absolute paths must live below the dev root
	assert.Equal(t, device.StatusNotFound, r.Find("/ttyUSB0").Status)
}

func TestFindWithDevRoot(t *testing.T) {
	var (
		l      = zaptest.NewLogger(t)
		tree   = sysfstest.NewDefaultTree(t)
		helper = sysfs.New(l, append(tree.Options(), sysfs.WithDevRoot("/mnt/dev/"))...)
	)
	h, err := NewHistory(l, HistoryWithHistoryDir(t.TempDir()))
	require.NoError(t, err)
	r := New(l, helper, h, WithDevRoot("/mnt/dev/"))
	startTestRepo(t, r)
	require.Eventually(t, r.Loaded, time.Second, time.Millisecond)

	for dev, found := range map[string]bool{
		"/mnt/dev/ttyACM0":       true,
		"ttyACM0":                true,
		"/mnt/dev/snd/controlC0": true,
		"/dev/ttyACM0":           false,
		"/mnt/dev/ttyS0":         false,
	} {
		_, localErr := helper.Find(t.Context(), dev)
		lookup := r.Find(dev)
		assert.Equal(t, found, localErr == nil, dev)
		assert.Equal(t, found, lookup.Status == device.StatusOk, dev)
		if found {
			assert.Equal(t, "/mnt/dev/"+lookup.Function.DevName, lookup.Function.DevPath)
		}
	}
}

func TestRepoWithSysfs(t *testing.T) {
	var (
		l    = zaptest.NewLogger(t)
		tree = sysfstest.NewDefaultTree(t)
		r    = NewTestRepo(t, l, sysfs.New(l, tree.Options()...), t.TempDir())
	)

	response := r.Update(t.Context())
	require.True(t, response.Success, response.ErrorMessage)
	assert.Equal(t, 4, response.Stats.NumberOfFunctions)
	assert.Equal(t, 3, response.Stats.NumberOfIDs)

	lookup := r.Find("/dev/ttyACM0")
	require.Equal(t, device.StatusOk, lookup.Status)
	assert.Equal(t, "67b", lookup.Function.VID)

	// webcam functions fall back to the root hub
	tree.WriteFile("sys/devices/pci0000:00/usb1/1-2/uevent", "DEVTYPE=usb_device\n")
	response = r.Update(t.Context())
	require.True(t, response.Success, response.ErrorMessage)
	assert.Empty(t, r.FindByID("46d", "825"))
	assert.Len(t, r.FindByID("1d6b", "2"), 2)
}

func TestPoll(t *testing.T) {
	var (
		l       = zaptest.NewLogger(t)
		scanner = mock.NewScanner(mock.MakeSnapshot())
		_       = NewTestRepo(t, l, scanner, t.TempDir(), WithPoll(true), WithPollInterval(20*time.Millisecond))
	)
	assert.Eventually(t, func() bool {
		return scanner.Calls() >= 4
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWriteSnapshotBytes(t *testing.T) {
	var (
		l = zaptest.NewLogger(t)
		r = NewTestRepo(t, l, mock.NewScanner(mock.MakeSnapshot()), t.TempDir())
	)

	var buf bytes.Buffer
	require.NoError(t, r.WriteSnapshotBytes(t.Context(), &buf))

	var reply struct {
		Reply *device.Snapshot `json:"reply"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &reply))
	require.NotNil(t, reply.Reply)
	assert.Equal(t, "mock", reply.Reply.Host)
	assert.Len(t, reply.Reply.Functions, 3)
}

func TestWriteSnapshotBytesFromHistory(t *testing.T) {
	l := zaptest.NewLogger(t)
	h, err := NewHistory(l, HistoryWithHistoryDir(t.TempDir()))
	require.NoError(t, err)
	require.NoError(t, h.Add(t.Context(), []byte(`{"host":"stored"}`)))

	r := New(l, mock.NewScanner(mock.MakeSnapshot()), h)
	var buf bytes.Buffer
	require.NoError(t, r.WriteSnapshotBytes(t.Context(), &buf))
	assert.JSONEq(t, `{"reply":{"host":"stored"}}`, buf.String())
}

func TestWriteSnapshotBytesEmpty(t *testing.T) {
	l := zaptest.NewLogger(t)
	h, err := NewHistory(l, HistoryWithHistoryDir(t.TempDir()))
	require.NoError(t, err)

	r := New(l, mock.NewScanner(mock.MakeSnapshot()), h)
	var buf bytes.Buffer
	require.Error(t, r.WriteSnapshotBytes(t.Context(), &buf))
}

func TestWriteSnapshotBytesRace(t *testing.T) {
	var (
		l = zaptest.NewLogger(t)
		r = NewTestRepo(t, l, mock.NewScanner(mock.MakeSnapshot()), t.TempDir())
	)

	ctx, cancel := context.WithTimeout(t.Context(), 2*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				default:
					var buf bytes.Buffer
					_ = r.WriteSnapshotBytes(ctx, &buf)
				}
			}
		}()
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				default:
					r.SetJSONBuffer(bytes.NewBufferString(`{"host":"race"}`))
				}
			}
		}()
	}
	wg.Wait()
}

func BenchmarkUpdate(b *testing.B) {
	var (
		l = zaptest.NewLogger(b)
		r = NewTestRepo(b, l, mock.NewScanner(mock.MakeSnapshot()), b.TempDir())
	)

	b.ReportAllocs()
	b.ResetTimer()
	for n := 0; n < b.N; n++ {
		response := r.Update(b.Context())
		if len(r.Functions()) == 0 {
			b.Fatal("inventory is empty, but should have been not")
		}
		if !response.Success {
			b.Fatal("could not update inventory")
		}
	}
}
