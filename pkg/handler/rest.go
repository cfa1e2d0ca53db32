package handler

import (
	"net/http"
	"time"

	httputils "github.com/foomo/keel/utils/net/http"
	"github.com/foomo/sysfshelper/device"
	"github.com/foomo/sysfshelper/pkg/metrics"
	"github.com/foomo/sysfshelper/pkg/repo"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// REST plain json views on the inventory
type REST struct {
	l    *zap.Logger
	repo *repo.Repo
}

// ------------------------------------------------------------------------------------------------
// ~ Constructor
// ------------------------------------------------------------------------------------------------

// NewREST returns a router serving
//
//	GET  /functions
//	GET  /functions/{vid}/{pid}
//	GET  /ids
//	GET  /dev/{devName...}
//	GET  /snapshot
//	POST /update
func NewREST(l *zap.Logger, repo *repo.Repo) http.Handler {
	inst := &REST{
		l:    l.Named("rest"),
		repo: repo,
	}

	r := chi.NewRouter()
	r.Use(middleware.NoCache)
	r.Get("/functions", inst.instrument(RouteListFunctions, inst.listFunctions))
	r.Get("/functions/{vid}/{pid}", inst.instrument(RouteFindByID, inst.findByID))
	r.Get("/ids", inst.instrument(RouteListIDs, inst.listIDs))
	r.Get("/dev/*", inst.instrument(RouteFind, inst.find))
	r.Get("/snapshot", inst.instrument(RouteGetSnapshot, inst.snapshot))
	r.Post("/update", inst.instrument(RouteUpdate, inst.update))
	return r
}

// ------------------------------------------------------------------------------------------------
// ~ Private methods
// ------------------------------------------------------------------------------------------------

func (h *REST) listFunctions(w http.ResponseWriter, r *http.Request) int {
	return h.write(w, r, http.StatusOK, h.repo.Functions())
}

func (h *REST) findByID(w http.ResponseWriter, r *http.Request) int {
	return h.write(w, r, http.StatusOK, h.repo.FindByID(chi.URLParam(r, "vid"), chi.URLParam(r, "pid")))
}

func (h *REST) listIDs(w http.ResponseWriter, r *http.Request) int {
	return h.write(w, r, http.StatusOK, h.repo.IDs())
}

func (h *REST) find(w http.ResponseWriter, r *http.Request) int {
	dev := chi.URLParam(r, "*")
	if dev == "" {
		httputils.BadRequestServerError(h.l, w, r, errors.New("missing device node"))
		return http.StatusBadRequest
	}
	lookup := h.repo.Find(dev)
	countLookup(lookup, sourceREST)
	if lookup.Status != device.StatusOk {
		return h.write(w, r, http.StatusNotFound, lookup)
	}
	return h.write(w, r, http.StatusOK, lookup)
}

func (h *REST) snapshot(w http.ResponseWriter, r *http.Request) int {
	return h.write(w, r, http.StatusOK, h.repo.Snapshot())
}

func (h *REST) update(w http.ResponseWriter, r *http.Request) int {
	resp := h.repo.Update(r.Context())
	if !resp.Success {
		return h.write(w, r, http.StatusServiceUnavailable, resp)
	}
	return h.write(w, r, http.StatusOK, resp)
}

func (h *REST) write(w http.ResponseWriter, r *http.Request, status int, v interface{}) int {
	bytes, err := json.Marshal(v)
	if err != nil {
		httputils.ServerError(h.l, w, r, http.StatusInternalServerError, errors.Wrap(err, "failed to encode reply"))
		return http.StatusInternalServerError
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(bytes)
	return status
}

func (h *REST) instrument(route Route, next func(http.ResponseWriter, *http.Request) int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		result := "success"
		if status := next(w, r); status >= http.StatusInternalServerError {
			result = "error"
		}
		metrics.ServiceRequestCounter.WithLabelValues(string(route), result, sourceREST).Inc()
		metrics.ServiceRequestDuration.WithLabelValues(string(route), result, sourceREST).Observe(time.Since(start).Seconds())
	}
}
