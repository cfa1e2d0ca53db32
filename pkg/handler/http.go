package handler

import (
	"io"
	"net/http"
	"strings"

	httputils "github.com/foomo/keel/utils/net/http"
	"github.com/foomo/sysfshelper/pkg/repo"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

type (
	HTTP struct {
		l          *zap.Logger
		path       string
		repo       *repo.Repo
		dispatcher *dispatcher
	}
	HTTPOption func(*HTTP)
)

// ------------------------------------------------------------------------------------------------
// ~ Constructor
// ------------------------------------------------------------------------------------------------

// NewHTTP returns a json rpc handler serving POST <path>/<route>
func NewHTTP(l *zap.Logger, repo *repo.Repo, opts ...HTTPOption) http.Handler {
	inst := &HTTP{
		l:    l.Named("http"),
		path: "/sysfshelper",
		repo: repo,
	}

	for _, opt := range opts {
		opt(inst)
	}

	inst.dispatcher = &dispatcher{
		l:      inst.l,
		repo:   repo,
		source: sourceWebServer,
	}

	return inst
}

// ------------------------------------------------------------------------------------------------
// ~ Options
// ------------------------------------------------------------------------------------------------

func WithPath(v string) HTTPOption {
	return func(o *HTTP) {
		o.path = strings.TrimSuffix(v, "/")
	}
}

// ------------------------------------------------------------------------------------------------
// ~ Public methods
// ------------------------------------------------------------------------------------------------

func (h *HTTP) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputils.ServerError(h.l, w, r, http.StatusMethodNotAllowed, errors.New("method not allowed"))
		return
	}
	if !strings.HasPrefix(r.URL.Path, h.path+"/") {
		httputils.ServerError(h.l, w, r, http.StatusNotFound, errors.Errorf("path %q not found", r.URL.Path))
		return
	}
	if r.Body == nil {
		httputils.BadRequestServerError(h.l, w, r, errors.New("empty request body"))
		return
	}

	bytes, err := io.ReadAll(r.Body)
	if err != nil {
		httputils.BadRequestServerError(h.l, w, r, errors.Wrap(err, "failed to read incoming request"))
		return
	}

	w.Header().Set("Content-Type", "application/json")

	route := Route(strings.TrimPrefix(r.URL.Path, h.path+"/"))
	if route == RouteGetSnapshot {
		if err := h.repo.WriteSnapshotBytes(r.Context(), w); err != nil {
			httputils.ServerError(h.l, w, r, http.StatusServiceUnavailable, errors.Wrap(err, "failed to write snapshot"))
		}
		return
	}

	reply, errReply := h.dispatcher.handleRequest(r.Context(), route, bytes)
	if errReply != nil {
		http.Error(w, errReply.Error(), http.StatusInternalServerError)
		return
	}
	_, _ = w.Write(reply)
}
