package cmd

import (
	"context"
	"errors"
	"net/http"

	"github.com/foomo/keel"
	"github.com/foomo/keel/healthz"
	"github.com/foomo/keel/net/http/middleware"
	"github.com/foomo/keel/service"
	"github.com/foomo/sysfshelper/pkg/handler"
	"github.com/foomo/sysfshelper/pkg/repo"
	"github.com/go-chi/chi/v5"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

func NewServeCommand(rv *viper.Viper) *cobra.Command {
	v := newViper()
	service.DefaultHTTPPProfAddr = ":6060"

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start http server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svr := newKeelServer(v)
			l := svr.Logger()

			r, history, err := newRepo(cmd.Context(), l, v, rv)
			if err != nil {
				return err
			}
			addRepo(svr, l, r, history)

			svr.AddServices(
				service.NewHTTP(l.Named("svc.http"), "http", addressFlag(v),
					newRouter(l, r, basePathFlag(v), restPathFlag(v)),
					middleware.Telemetry(),
					middleware.Logger(),
					middleware.GZip(middleware.GZipWithLevel(gzipLevelFlag(v))),
					middleware.Recover(),
				),
			)
			if address := socketAddressFlag(v); address != "" {
				svr.AddServices(newSocketService(l, r, address))
			}

			svr.Run()
			return nil
		},
	}

	flags := cmd.Flags()
	addAddressFlag(flags, v, "localhost:8080")
	addSocketAddressFlag(flags, v)
	addBasePathFlag(flags, v)
	addRESTPathFlag(flags, v)
	addGzipLevelFlag(flags, v)
	addRepoFlags(flags, v)
	addServiceFlags(flags, v)

	return cmd
}

// newRouter mounts the json rpc at basePath and the rest api at restPath
func newRouter(l *zap.Logger, r *repo.Repo, basePath, restPath string) http.Handler {
	rpc := handler.NewHTTP(l.Named("inst.handler"), r, handler.WithPath(basePath))

	mux := chi.NewRouter()
	mux.Handle(basePath, rpc)
	mux.Handle(basePath+"/*", rpc)
	if restPath != "" {
		mux.Mount(restPath, handler.NewREST(l.Named("inst.rest"), r))
	}
	return mux
}

func newKeelServer(v *viper.Viper) *keel.Server {
	return keel.NewServer(
		keel.WithHTTPPrometheusService(servicePrometheusEnabledFlag(v)),
		keel.WithHTTPHealthzService(serviceHealthzEnabledFlag(v)),
		keel.WithPrometheusMeter(servicePrometheusEnabledFlag(v)),
		keel.WithGracefulPeriod(gracefulPeriodFlag(v)),
		keel.WithOTLPGRPCTracer(otelEnabledFlag(v)),
		keel.WithHTTPPProfService(servicePProfEnabledFlag(v)),
	)
}

// addRepo registers the repo routine, its health checks and the history closer
func addRepo(svr *keel.Server, l *zap.Logger, r *repo.Repo, history *repo.History) {
	isLoadedHealtherFn := healthz.NewHealthzerFn(func(ctx context.Context) error {
		if !r.Loaded() {
			return errors.New("repo not loaded yet")
		}
		return nil
	})
	svr.AddStartupHealthzers(isLoadedHealtherFn)
	svr.AddReadinessHealthzers(isLoadedHealtherFn)

	svr.AddClosers(func(ctx context.Context) error {
		return history.Close()
	})

	svr.AddServices(
		service.NewGoRoutine(l.Named("go.repo"), "repo", func(ctx context.Context, l *zap.Logger) error {
			return r.Start(ctx)
		}),
	)
}

func addRepoFlags(flags *pflag.FlagSet, v *viper.Viper) {
	addPollFlag(flags, v)
	addPollIntervalFlag(flags, v)
	addHistoryDirFlag(flags, v)
	addHistoryLimitFlag(flags, v)
	addStorageTypeFlag(flags, v)
	addStorageBlobBucketFlag(flags, v)
	addStorageBlobPrefixFlag(flags, v)
}

func addServiceFlags(flags *pflag.FlagSet, v *viper.Viper) {
	addGracefulPeriodFlag(flags, v)
	addOtelEnabledFlag(flags, v)
	addServiceHealthzEnabledFlag(flags, v)
	addServicePrometheusEnabledFlag(flags, v)
	addServicePProfEnabledFlag(flags, v)
}
