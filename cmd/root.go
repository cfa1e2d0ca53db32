package cmd

import (
	"strings"

	"github.com/foomo/keel/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// NewRootCommand represents the base command when called without any subcommands
func NewRootCommand() *cobra.Command {
	v := newViper()
	cmd := &cobra.Command{
		Use:           "sysfshelper",
		Short:         "Maps device nodes to the usb functions behind them",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			zap.ReplaceGlobals(log.NewLogger(
				logLevelFlag(v),
				logFormatFlag(v),
			))
		},
	}

	flags := cmd.PersistentFlags()
	addLogLevelFlag(flags, v)
	addLogFormatFlag(flags, v)
	addUSBRootFlag(flags, v)
	addClassRootsFlag(flags, v)
	addDevRootFlag(flags, v)
	addUSBIDsFlag(flags, v)

	cmd.AddCommand(NewServeCommand(v))
	cmd.AddCommand(NewSocketCommand(v))
	cmd.AddCommand(NewFunctionsCommand(v))
	cmd.AddCommand(NewFindCommand(v))
	cmd.AddCommand(NewFindIDCommand(v))
	cmd.AddCommand(NewIDsCommand(v))
	cmd.AddCommand(NewLoadCommand())
	cmd.AddCommand(NewVersionCommand())

	return cmd
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := NewRootCommand().Execute(); err != nil {
		log.Logger().Fatal("failed to run command", zap.Error(err))
	}
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	return v
}
