package repo

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/foomo/sysfshelper/device"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const (
	HistorySnapshotJSONPrefix = "sysfshelper-snapshot-"
	HistorySnapshotJSONSuffix = ".json"
	historyTimeFormat         = "2006-01-02T15:04:05.000000000Z07:00"
	CurrentKey                = HistorySnapshotJSONPrefix + "current" + HistorySnapshotJSONSuffix
)

type (
	History struct {
		l            *zap.Logger
		storage      Storage
		historyDir   string // directory used for default filesystem storage
		historyLimit int
		mu           sync.RWMutex
	}
	HistoryOption func(*History)
)

// ------------------------------------------------------------------------------------------------
// ~ Options
// ------------------------------------------------------------------------------------------------

func HistoryWithHistoryLimit(v int) HistoryOption {
	return func(o *History) {
		o.historyLimit = v
	}
}

func HistoryWithHistoryDir(v string) HistoryOption {
	return func(o *History) {
		o.historyDir = v
	}
}

func HistoryWithStorage(s Storage) HistoryOption {
	return func(o *History) {
		o.storage = s
	}
}

// ------------------------------------------------------------------------------------------------
// ~ Constructor
// ------------------------------------------------------------------------------------------------

func NewHistory(l *zap.Logger, opts ...HistoryOption) (*History, error) {
	inst := &History{
		l:            l.Named("history"),
		historyDir:   "/var/lib/sysfshelper",
		historyLimit: 2,
	}

	for _, opt := range opts {
		opt(inst)
	}

	// If no storage provided, create a default filesystem storage
	if inst.storage == nil {
		storage, err := NewFilesystemStorage(inst.historyDir)
		if err != nil {
			return nil, fmt.Errorf("failed to create default filesystem storage: %w", err)
		}
		inst.storage = storage
	}

	return inst, nil
}

// ------------------------------------------------------------------------------------------------
// ~ Public methods
// ------------------------------------------------------------------------------------------------

// BackupKey key of the backup taken at t, keys sort by time
func BackupKey(t time.Time) string {
	return HistorySnapshotJSONPrefix + t.UTC().Format(historyTimeFormat) + HistorySnapshotJSONSuffix
}

// Add stores a serialized snapshot as current. A timestamped backup is only
// taken when the functions or ids differ from the current snapshot, so a
// quiet host does not rotate its history away.
func (h *History) Add(ctx context.Context, jsonBytes []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	changed := true
	if previous, err := h.storage.Read(ctx, CurrentKey); err == nil {
		changed = !sameInventory(previous, jsonBytes)
	}

	if changed {
		backupKey := BackupKey(time.Now())
		h.l.Debug("inventory changed, writing backup", zap.String("backup", backupKey))
		if err := h.storage.Write(ctx, backupKey, jsonBytes); err != nil {
			return errors.Wrap(err, "failed to write backup history file")
		}
	}

	if err := h.storage.Write(ctx, CurrentKey, jsonBytes); err != nil {
		return errors.Wrap(err, "failed to write current history")
	}

	if !changed {
		return nil
	}
	if err := h.cleanup(ctx); err != nil {
		return errors.Wrap(err, "failed to clean up history")
	}
	return nil
}

// GetCurrent reads the current snapshot into the provided buffer.
// It returns os.ErrNotExist if nothing was persisted yet.
func (h *History) GetCurrent(ctx context.Context, buf *bytes.Buffer) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	data, err := h.storage.Read(ctx, CurrentKey)
	if err != nil {
		return err
	}
	_, err = buf.Write(data)
	return err
}

// Close releases resources held by the history storage.
func (h *History) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.storage != nil {
		return h.storage.Close()
	}
	return nil
}

// ------------------------------------------------------------------------------------------------
// ~ Private methods
// ------------------------------------------------------------------------------------------------

// sameInventory reports whether both payloads are snapshots listing the same
// functions and ids. Host and scan time are ignored.
func sameInventory(a, b []byte) bool {
	inventory := func(data []byte) ([]byte, bool) {
		snapshot := device.NewSnapshot()
		if err := json.Unmarshal(data, snapshot); err != nil {
			return nil, false
		}
		ret, err := json.Marshal([]interface{}{snapshot.Functions, snapshot.IDs})
		return ret, err == nil
	}
	ia, okA := inventory(a)
	ib, okB := inventory(b)
	return okA && okB && bytes.Equal(ia, ib)
}

func (h *History) getHistory(ctx context.Context) (files []string, err error) {
	keys, err := h.storage.List(ctx, HistorySnapshotJSONPrefix)
	if err != nil {
		return nil, err
	}

	for _, key := range keys {
		if key != CurrentKey &&
			strings.HasPrefix(key, HistorySnapshotJSONPrefix) &&
			strings.HasSuffix(key, HistorySnapshotJSONSuffix) {
			files = append(files, key)
		}
	}
	return files, nil
}

func (h *History) cleanup(ctx context.Context) error {
	files, err := h.getFilesForCleanup(ctx, h.historyLimit)
	if err != nil {
		return err
	}

	var errs error
	for _, f := range files {
		h.l.Debug("removing outdated backup", zap.String("file", f))
		if err := h.storage.Delete(ctx, f); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("could not remove file %s: %w", f, err))
		}
	}

	return errs
}

func (h *History) getFilesForCleanup(ctx context.Context, historyVersions int) (files []string, err error) {
	contentFiles, err := h.getHistory(ctx)
	if err != nil {
		return nil, errors.New("could not generate file cleanup list: " + err.Error())
	}

	if len(contentFiles) > historyVersions {
		for i := historyVersions; i < len(contentFiles); i++ {
			files = append(files, contentFiles[i])
		}
	}
	return files, nil
}
