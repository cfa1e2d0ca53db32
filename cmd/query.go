package cmd

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/foomo/sysfshelper/client"
	"github.com/foomo/sysfshelper/device"
	"github.com/foomo/sysfshelper/pkg/sysfs"
	"github.com/foomo/sysfshelper/pkg/utils"
	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// querier answers lookups either from sysfs or from a running server
type querier interface {
	ListFunctions(ctx context.Context) ([]*device.Function, error)
	FindByID(ctx context.Context, vid, pid string) ([]*device.Function, error)
	Find(ctx context.Context, dev string) (*device.Lookup, error)
	ListIDs(ctx context.Context) ([]device.ID, error)
	Close()
}

// localQuerier adapts the sysfs helper
type localQuerier struct {
	*sysfs.Helper
}

func (q localQuerier) Find(ctx context.Context, dev string) (*device.Lookup, error) {
	f, err := q.Helper.Find(ctx, dev)
	if errors.Is(err, sysfs.ErrNotFound) {
		return &device.Lookup{Status: device.StatusNotFound, DevNode: dev}, nil
	} else if err != nil {
		return nil, err
	}
	return &device.Lookup{Status: device.StatusOk, DevNode: dev, Function: f}, nil
}

func (q localQuerier) Close() {}

// ------------------------------------------------------------------------------------------------
// ~ Commands
// ------------------------------------------------------------------------------------------------

func NewFunctionsCommand(rv *viper.Viper) *cobra.Command {
	v := newViper()
	cmd := &cobra.Command{
		Use:   "functions",
		Short: "List all usb functions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(cmd, v, rv, func(ctx context.Context, q querier) (interface{}, error) {
				return q.ListFunctions(ctx)
			})
		},
	}
	addQueryFlags(cmd, v)
	return cmd
}

func NewFindCommand(rv *viper.Viper) *cobra.Command {
	v := newViper()
	cmd := &cobra.Command{
		Use:     "find <dev>",
		Short:   "Find the usb function behind a device node",
		Example: "  sysfshelper find /dev/ttyUSB0\n  sysfshelper find snd/controlC0",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(cmd, v, rv, func(ctx context.Context, q querier) (interface{}, error) {
				lookup, err := q.Find(ctx, args[0])
				if err != nil {
					return nil, err
				}
				if lookup.Status != device.StatusOk || lookup.Function == nil {
					return nil, errors.Wrapf(sysfs.ErrNotFound, "device node %q", args[0])
				}
				return []*device.Function{lookup.Function}, nil
			})
		},
	}
	addQueryFlags(cmd, v)
	return cmd
}

func NewFindIDCommand(rv *viper.Viper) *cobra.Command {
	v := newViper()
	cmd := &cobra.Command{
		Use:     "find-id <vid> <pid>",
		Short:   "List the usb functions of a vendor and product id",
		Example: "  sysfshelper find-id 067b 2303\n  sysfshelper find-id 0x46D 0x825",
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(cmd, v, rv, func(ctx context.Context, q querier) (interface{}, error) {
				return q.FindByID(ctx, args[0], args[1])
			})
		},
	}
	addQueryFlags(cmd, v)
	return cmd
}

func NewIDsCommand(rv *viper.Viper) *cobra.Command {
	v := newViper()
	cmd := &cobra.Command{
		Use:   "ids",
		Short: "List all vendor and product ids",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(cmd, v, rv, func(ctx context.Context, q querier) (interface{}, error) {
				return q.ListIDs(ctx)
			})
		},
	}
	addQueryFlags(cmd, v)
	return cmd
}

// ------------------------------------------------------------------------------------------------
// ~ Private methods
// ------------------------------------------------------------------------------------------------

func addQueryFlags(cmd *cobra.Command, v *viper.Viper) {
	flags := cmd.Flags()
	addServerFlag(flags, v)
	addOutputFlag(flags, v)
}

func runQuery(cmd *cobra.Command, v, rv *viper.Viper, fn func(ctx context.Context, q querier) (interface{}, error)) error {
	output := outputFlag(v)
	if output != "table" && output != "json" {
		return fmt.Errorf("unknown output format: %s (supported: table, json)", output)
	}

	q, err := newQuerier(zap.L(), v, rv)
	if err != nil {
		return err
	}
	defer q.Close()

	result, err := fn(cmd.Context(), q)
	if err != nil {
		return err
	}
	return writeResult(cmd.OutOrStdout(), output, result)
}

func newQuerier(l *zap.Logger, v, rv *viper.Viper) (querier, error) {
	var (
		c      *client.Client
		err    error
		server = serverFlag(v)
	)
	switch {
	case server == "":
		return localQuerier{Helper: newHelper(l, rv)}, nil
	case utils.IsValidUrl(server):
		c, err = client.NewHTTPClient(server)
	case utils.IsValidAddress(server):
		c, err = client.NewSocketClient(server, 1, 5*time.Second)
	default:
		err = fmt.Errorf("invalid server %q: expected http url or host:port", server)
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

func writeResult(w io.Writer, output string, result interface{}) error {
	if output == "json" {
		b, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return errors.Wrap(err, "failed to encode result")
		}
		_, err = fmt.Fprintln(w, string(b))
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	switch r := result.(type) {
	case []*device.Function:
		_, _ = fmt.Fprintln(tw, "DEVPATH\tCLASS\tVID\tPID\tVENDOR\tPRODUCT\tUSBNODE")
		for _, f := range r {
			_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n", f.DevPath, f.ClassName, f.VID, f.PID, f.Vendor, f.Product, f.USBNode)
		}
	case []device.ID:
		_, _ = fmt.Fprintln(tw, "VID\tPID")
		for _, id := range r {
			_, _ = fmt.Fprintf(tw, "%s\t%s\n", id.VID, id.PID)
		}
	default:
		return fmt.Errorf("unsupported result type %T", result)
	}
	return tw.Flush()
}
