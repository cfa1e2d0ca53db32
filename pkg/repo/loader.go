package repo

import (
	"bytes"
	"context"
	"time"

	"github.com/foomo/sysfshelper/device"
	"github.com/foomo/sysfshelper/pkg/metrics"
	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

var (
	json              = jsoniter.ConfigCompatibleWithStandardLibrary
	ErrUpdateRejected = errors.New("update rejected: queue full")
)

type updateResponse struct {
	scanRuntime int64
	err         error
}

func (r *Repo) PollRoutine(ctx context.Context) error {
	l := r.l.Named("routine.poll")
	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			l.Debug("routine canceled", zap.Error(ctx.Err()))
			return nil
		case <-ticker.C:
			chanResponse := make(chan updateResponse)
			select {
			case r.updateInProgressChannel <- chanResponse:
			case <-ctx.Done():
				return nil
			}
			response := <-chanResponse
			if response.err == nil {
				snapshot := r.Snapshot()
				l.Info("update success",
					zap.Int("num_functions", len(snapshot.Functions)),
					zap.Int("num_ids", len(snapshot.IDs)),
				)
				if err := r.history.Add(ctx, r.JSONBufferBytes()); err != nil {
					l.Error("could not persist current snapshot in history", zap.Error(err))
					metrics.HistoryPersistFailedCounter.WithLabelValues().Inc()
				}
			} else {
				l.Error("update failed", zap.Error(response.err))
			}
		}
	}
}

func (r *Repo) UpdateRoutine(ctx context.Context) error {
	l := r.l.Named("routine.update")
	for {
		select {
		case <-ctx.Done():
			l.Debug("routine canceled", zap.Error(ctx.Err()))
			return nil
		case resChan := <-r.updateInProgressChannel:
			start := time.Now()
			l := l.With(zap.String("run_id", uuid.New().String()))

			l.Info("update started")

			scanRuntime, err := r.update(context.WithoutCancel(ctx))
			if err != nil {
				l.Error("update failed", zap.Error(err))
				metrics.UpdatesFailedCounter.WithLabelValues().Inc()
			} else {
				if !r.Loaded() {
					r.loaded.Store(true)
					l.Info("initial update success")
					if r.onLoaded != nil {
						r.onLoaded()
					}
				} else {
					l.Info("update success")
				}
				metrics.UpdatesCompletedCounter.WithLabelValues().Inc()
			}

			resChan <- updateResponse{
				scanRuntime: scanRuntime,
				err:         err,
			}

			metrics.UpdateDuration.WithLabelValues().Observe(time.Since(start).Seconds())
		}
	}
}

// ------------------------------------------------------------------------------------------------
// ~ Private methods
// ------------------------------------------------------------------------------------------------

// do not call directly, but only through channel
func (r *Repo) update(ctx context.Context) (scanRuntime int64, err error) {
	start := time.Now()
	snapshot, err := r.scanner.Scan(ctx)
	scanRuntime = time.Since(start).Nanoseconds()
	if err != nil {
		return scanRuntime, errors.Wrap(err, "failed to scan")
	}

	buffer := &bytes.Buffer{}
	if err := json.NewEncoder(buffer).Encode(snapshot); err != nil {
		return scanRuntime, errors.Wrap(err, "failed to serialize snapshot")
	}
	r.l.Debug("scanned snapshot",
		zap.Int("num_functions", len(snapshot.Functions)),
		zap.Int("num_ids", len(snapshot.IDs)),
		zap.Int("length", buffer.Len()),
	)
	r.setSnapshot(snapshot, bytes.NewBuffer(bytes.TrimSpace(buffer.Bytes())))
	return scanRuntime, nil
}

// limit resources and allow only one update request at once
func (r *Repo) tryUpdate() (scanRuntime int64, err error) {
	c := make(chan updateResponse)
	select {
	case r.updateInProgressChannel <- c:
		r.l.Debug("update request added to queue")
		ur := <-c
		return ur.scanRuntime, ur.err
	default:
		r.l.Info("update request rejected, an update is in progress")
		return 0, ErrUpdateRejected
	}
}

// queueUpdate waits for the update routine to take the request
func (r *Repo) queueUpdate(ctx context.Context) (scanRuntime int64, err error) {
	c := make(chan updateResponse)
	select {
	case r.updateInProgressChannel <- c:
		ur := <-c
		return ur.scanRuntime, ur.err
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func (r *Repo) tryToRestoreCurrent(ctx context.Context) error {
	buffer := &bytes.Buffer{}
	if err := r.history.GetCurrent(ctx, buffer); err != nil {
		return err
	}
	return r.loadJSONBytes(buffer)
}

func (r *Repo) loadJSONBytes(buffer *bytes.Buffer) error {
	snapshot := device.NewSnapshot()
	if err := json.Unmarshal(buffer.Bytes(), snapshot); err != nil {
		data := buffer.Bytes()
		if len(data) > 10 {
			r.l.Debug("could not parse json",
				zap.String("jsonStart", string(data[:10])),
				zap.String("jsonEnd", string(data[len(data)-10:])),
			)
		}
		return errors.Wrap(err, "failed to deserialize snapshot")
	}
	r.setSnapshot(snapshot, buffer)
	return nil
}

func (r *Repo) setSnapshot(snapshot *device.Snapshot, buffer *bytes.Buffer) {
	r.SetSnapshot(snapshot)
	r.SetJSONBuffer(buffer)
	metrics.FunctionsGauge.WithLabelValues().Set(float64(len(snapshot.Functions)))
	metrics.IDsGauge.WithLabelValues().Set(float64(len(snapshot.IDs)))
}
