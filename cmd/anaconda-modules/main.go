package main

import (
	"context"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/osbuild/installer-core/internal/bootconf"
	"github.com/osbuild/installer-core/internal/bus"
	"github.com/osbuild/installer-core/internal/common"
	"github.com/osbuild/installer-core/internal/installer"
	"github.com/osbuild/installer-core/internal/loop"
	"github.com/osbuild/installer-core/internal/module"
	"github.com/osbuild/installer-core/internal/remotefile"
	"github.com/osbuild/installer-core/internal/task"
)

const (
	configFile  = "/etc/anaconda/installer.toml"
	cmdlineFile = "/proc/cmdline"
)

var (
	configPath  string
	cmdlinePath string
	logLevel    string

	config  *bootconf.Config
	cmdline bootconf.Cmdline
)

var rootCmd = &cobra.Command{
	Use:           "anaconda-modules",
	Short:         "Installation configuration core",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		config, err = bootconf.LoadConfig(configPath)
		if err != nil {
			return fmt.Errorf("cannot load the configuration: %v", err)
		}
		if logLevel != "" {
			config.Logging.Level = logLevel
		}
		if err := common.ConfigureLogging(config.Logging.Level, config.Logging.Journal, "anaconda-modules"); err != nil {
			return err
		}

		cmdline = bootconf.Cmdline{}
		if cmdlinePath != "" {
			cmdline, err = bootconf.ReadCmdline(cmdlinePath)
			if err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("cannot read the boot command line: %v", err)
			}
			if cmdline == nil {
				cmdline = bootconf.Cmdline{}
			}
		}
		return nil
	},
}

// newEnv starts a control loop that runs until ctx is done.
func newEnv(ctx context.Context) *module.Env {
	l := loop.New()
	go l.Run(ctx)
	return &module.Env{
		Loop:     l,
		Registry: bus.NewRegistry(l),
		Pool:     task.NewPool(int64(config.Orchestrator.Workers), l),
		Flags:    bootconf.NewFlags(cmdline, config),
	}
}

// fetchKickstart returns the kickstart at location, a local path or an
// http(s) URL.
func fetchKickstart(ctx context.Context, location string) (string, error) {
	client := remotefile.NewClient(config.Payload.Retries, config.Payload.Timeout)
	data, err := client.Resolve(ctx, location)
	if err != nil {
		return "", fmt.Errorf("cannot read the kickstart: %v", err)
	}
	logrus.Infof("kickstart read from %s", common.RedactURL(location))
	return string(data), nil
}

// newInstaller builds the installer on the control loop of env.
func newInstaller(ctx context.Context, env *module.Env) (*installer.Installer, error) {
	var inst *installer.Installer
	err := env.Loop.Call(ctx, func(context.Context) error {
		var err error
		inst, err = installer.NewBuilder(env).Build()
		return err
	})
	return inst, err
}

func main() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", configFile, "configuration file")
	rootCmd.PersistentFlags().StringVar(&cmdlinePath, "cmdline", cmdlineFile, "file with the boot command line, empty to ignore it")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override the configured log level")

	rootCmd.AddCommand(serveCmd, kickstartCmd, installCmd, statusCmd)

	if err := rootCmd.Execute(); err != nil {
		logrus.Debugf("command failed: %v", err)
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
