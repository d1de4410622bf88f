package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/osbuild/installer-core/internal/common"
	"github.com/osbuild/installer-core/internal/orchestrator"
)

var installCmd = &cobra.Command{
	Use:   "install LOCATION",
	Short: "Run a whole installation from a kickstart file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		env := newEnv(ctx)
		inst, err := newInstaller(ctx, env)
		if err != nil {
			return err
		}

		text, err := fetchKickstart(ctx, args[0])
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		err = env.Loop.Call(ctx, func(context.Context) error {
			report := inst.ReadKickstart(text)
			for _, w := range report.WarningMessages {
				logrus.Warnf("kickstart: %s", w)
			}
			if err := report.Err(); err != nil {
				return err
			}
			inst.Orchestrator().ProgressChanged.Connect(func(p orchestrator.Progress) {
				fmt.Fprintf(out, "[%d/%d] %s\n", p.Step, p.Total, p.Message)
			})
			_, err = inst.StartInstallation()
			return err
		})
		if err != nil {
			return err
		}

		interrupt := make(chan os.Signal, 1)
		signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(interrupt)
		go func() {
			if _, ok := <-interrupt; ok {
				logrus.Warn("interrupted, cancelling the installation")
				_ = inst.CancelInstallation()
			}
		}()

		status, err := inst.Orchestrator().Wait(ctx)
		if err != nil {
			return err
		}
		for _, w := range status.Warnings {
			fmt.Fprintf(out, "warning: %s\n", w)
		}
		if status.State != common.RunSucceeded {
			return fmt.Errorf("installation %s: %s", status.State, status.Error)
		}
		fmt.Fprintln(out, "installation succeeded")
		return nil
	},
}
