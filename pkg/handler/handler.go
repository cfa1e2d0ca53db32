package handler

import (
	"context"
	"time"

	"github.com/foomo/sysfshelper/device"
	"github.com/foomo/sysfshelper/pkg/metrics"
	"github.com/foomo/sysfshelper/pkg/repo"
	"github.com/foomo/sysfshelper/requests"
	"github.com/foomo/sysfshelper/responses"
	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const (
	sourceWebServer    = "webserver"
	sourceSocketServer = "socketserver"
	sourceREST         = "rest"
)

const (
	ErrorCodeUnknownHandler = 1
	ErrorCodeBadJSON        = 2
	ErrorCodeAPI            = 3
	ErrorCodeBadHeader      = 4
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// dispatcher executes routes against the repo, shared by the http and socket handlers
type dispatcher struct {
	l      *zap.Logger
	repo   *repo.Repo
	source string
}

func (d *dispatcher) handleRequest(ctx context.Context, route Route, jsonBytes []byte) ([]byte, error) {
	start := time.Now()

	reply, err := d.executeRequest(ctx, route, jsonBytes)
	result := "success"
	if err != nil {
		result = "error"
	}

	metrics.ServiceRequestCounter.WithLabelValues(string(route), result, d.source).Inc()
	metrics.ServiceRequestDuration.WithLabelValues(string(route), result, d.source).Observe(time.Since(start).Seconds())

	return reply, err
}

func (d *dispatcher) executeRequest(ctx context.Context, route Route, jsonBytes []byte) ([]byte, error) {
	var (
		reply             interface{}
		apiErr            error
		jsonErr           error
		processIfJSONIsOk = func(err error, processingFunc func()) {
			if err != nil {
				jsonErr = err
				return
			}
			processingFunc()
		}
	)

	// getSnapshot is written directly to the connection and never gets here
	switch route {
	case RouteListFunctions:
		req := &requests.ListFunctions{}
		processIfJSONIsOk(unmarshalRequest(jsonBytes, req), func() {
			reply = d.repo.Functions()
		})
	case RouteFindByID:
		req := &requests.FindByID{}
		processIfJSONIsOk(unmarshalRequest(jsonBytes, req), func() {
			if req.VID == "" || req.PID == "" {
				apiErr = errors.New("vid and pid must not be empty")
				return
			}
			reply = d.repo.FindByID(req.VID, req.PID)
		})
	case RouteFind:
		req := &requests.Find{}
		processIfJSONIsOk(unmarshalRequest(jsonBytes, req), func() {
			if req.Dev == "" {
				apiErr = errors.New("dev must not be empty")
				return
			}
			lookup := d.repo.Find(req.Dev)
			countLookup(lookup, d.source)
			reply = lookup
		})
	case RouteListIDs:
		req := &requests.ListIDs{}
		processIfJSONIsOk(unmarshalRequest(jsonBytes, req), func() {
			reply = d.repo.IDs()
		})
	case RouteUpdate:
		req := &requests.Update{}
		processIfJSONIsOk(unmarshalRequest(jsonBytes, req), func() {
			reply = d.repo.Update(ctx)
		})
	default:
		reply = responses.NewError(ErrorCodeUnknownHandler, "unknown handler: "+string(route))
	}

	// error handling
	if jsonErr != nil {
		d.l.Error("could not read incoming json", zap.Error(jsonErr))
		reply = responses.NewError(ErrorCodeBadJSON, "could not read incoming json "+jsonErr.Error())
	} else if apiErr != nil {
		d.l.Error("an API error occurred", zap.Error(apiErr))
		reply = responses.NewError(ErrorCodeAPI, "internal error "+apiErr.Error())
	}

	return d.encodeReply(reply)
}

// encodeReply wraps reply as {"reply": reply}
func (d *dispatcher) encodeReply(reply interface{}) ([]byte, error) {
	bytes, err := json.Marshal(map[string]interface{}{
		"reply": reply,
	})
	if err != nil {
		d.l.Error("could not encode reply", zap.Error(err))
	}
	return bytes, err
}

// unmarshalRequest accepts an empty body for requests without parameters
func unmarshalRequest(jsonBytes []byte, v interface{}) error {
	if len(jsonBytes) == 0 {
		return nil
	}
	return json.Unmarshal(jsonBytes, v)
}

func countLookup(lookup *device.Lookup, source string) {
	status := "found"
	if lookup.Status != device.StatusOk {
		status = "not_found"
	}
	metrics.LookupCounter.WithLabelValues(status, source).Inc()
}
