package cmd

import (
	"context"
	"net"
	"sync"

	"github.com/foomo/keel/service"
	"github.com/foomo/sysfshelper/pkg/handler"
	"github.com/foomo/sysfshelper/pkg/repo"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

func NewSocketCommand(rv *viper.Viper) *cobra.Command {
	v := newViper()
	cmd := &cobra.Command{
		Use:   "socket",
		Short: "Start socket server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svr := newKeelServer(v)
			l := svr.Logger()

			r, history, err := newRepo(cmd.Context(), l, v, rv)
			if err != nil {
				return err
			}
			addRepo(svr, l, r, history)
			svr.AddServices(newSocketService(l, r, addressFlag(v)))

			svr.Run()
			return nil
		},
	}

	flags := cmd.Flags()
	addAddressFlag(flags, v, "localhost:8081")
	addRepoFlags(flags, v)
	addServiceFlags(flags, v)

	return cmd
}

func newSocketService(l *zap.Logger, r *repo.Repo, address string) *service.GoRoutine {
	h := handler.NewSocket(l.Named("inst.socket"), r)
	return service.NewGoRoutine(l.Named("go.socket"), "socket", func(ctx context.Context, l *zap.Logger) error {
		var lc net.ListenConfig
		ln, err := lc.Listen(ctx, "tcp", address)
		if err != nil {
			return errors.Wrapf(err, "failed to listen on %s", address)
		}
		l.Info("started listening", zap.String("address", ln.Addr().String()))
		return serveSocket(ctx, l, ln, h)
	})
}

// serveSocket accepts connections until ctx is done, then closes the
// listener and all open connections and waits for their handlers
func serveSocket(ctx context.Context, l *zap.Logger, ln net.Listener, h *handler.Socket) error {
	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		conns = map[net.Conn]struct{}{}
	)
	closeAll := func() {
		_ = ln.Close()
		mu.Lock()
		defer mu.Unlock()
		for conn := range conns {
			_ = conn.Close()
		}
	}
	stop := context.AfterFunc(ctx, closeAll)
	defer func() {
		stop()
		closeAll()
		wg.Wait()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return errors.Wrap(err, "failed to accept connection")
		}

		mu.Lock()
		if ctx.Err() != nil {
			mu.Unlock()
			_ = conn.Close()
			return nil
		}
		conns[conn] = struct{}{}
		mu.Unlock()

		wg.Add(1)
		go func() {
			defer wg.Done()
			h.Serve(ctx, conn)
			mu.Lock()
			delete(conns, conn)
			mu.Unlock()
		}()
	}
}
