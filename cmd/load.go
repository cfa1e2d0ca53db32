package cmd

import (
	"context"
	"time"

	"github.com/foomo/sysfshelper/client"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// NewLoadCommand fires repeated updates and snapshot reads against a running server
func NewLoadCommand() *cobra.Command {
	v := newViper()
	cmd := &cobra.Command{
		Use:   "load <url>",
		Short: "Put load on a running http server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := client.NewHTTPClient(args[0])
			if err != nil {
				return err
			}
			defer c.Close()
			return runLoad(cmd.Context(), zap.L(), c, v.GetInt("load.num"), v.GetDuration("load.delay"), v.GetBool("load.update"), v.GetBool("load.snapshot"))
		},
	}
	addLoadFlags(cmd.Flags(), v)
	return cmd
}

func addLoadFlags(flags *pflag.FlagSet, v *viper.Viper) {
	flags.Int("num", 100, "Number of repetitions")
	_ = v.BindPFlag("load.num", flags.Lookup("num"))
	flags.Duration("delay", 2*time.Second, "Delay between repetitions")
	_ = v.BindPFlag("load.delay", flags.Lookup("delay"))
	flags.Bool("update", true, "Trigger updates")
	_ = v.BindPFlag("load.update", flags.Lookup("update"))
	flags.Bool("snapshot", false, "Fetch the snapshot")
	_ = v.BindPFlag("load.snapshot", flags.Lookup("snapshot"))
}

func runLoad(ctx context.Context, l *zap.Logger, c *client.Client, num int, delay time.Duration, update, snapshot bool) error {
	g, gctx := errgroup.WithContext(ctx)
	for i := 1; i <= num; i++ {
		l := l.With(zap.Int("num", i))
		if update {
			g.Go(func() error {
				resp, err := c.Update(gctx)
				if err != nil {
					return err
				}
				l.Info("update done", zap.Bool("success", resp.Success), zap.String("error", resp.ErrorMessage))
				return nil
			})
		}
		if snapshot {
			g.Go(func() error {
				resp, err := c.GetSnapshot(gctx)
				if err != nil {
					return err
				}
				l.Info("snapshot done", zap.Int("functions", len(resp.Functions)), zap.Int("ids", len(resp.IDs)))
				return nil
			})
		}
		if i < num {
			select {
			case <-gctx.Done():
				return g.Wait()
			case <-time.After(delay):
			}
		}
	}
	return g.Wait()
}
