package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/osbuild/installer-core/internal/installer"
	"github.com/osbuild/installer-core/internal/validation"
)

var kickstartCmd = &cobra.Command{
	Use:   "kickstart",
	Short: "Work with kickstart files",
}

var kickstartValidateCmd = &cobra.Command{
	Use:   "validate LOCATION",
	Short: "Check that the modules accept a kickstart file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		report, _, err := readKickstart(cmd.Context(), args[0], false)
		if err != nil {
			return err
		}
		for _, w := range report.WarningMessages {
			fmt.Fprintf(cmd.OutOrStdout(), "warning: %s\n", w)
		}
		for _, e := range report.ErrorMessages {
			fmt.Fprintf(cmd.OutOrStdout(), "error: %s\n", e)
		}
		return report.Err()
	},
}

var kickstartGenerateCmd = &cobra.Command{
	Use:   "generate LOCATION",
	Short: "Print the kickstart the modules generate from a kickstart file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		report, out, err := readKickstart(cmd.Context(), args[0], true)
		if err != nil {
			return err
		}
		if err := report.Err(); err != nil {
			return err
		}
		fmt.Fprint(cmd.OutOrStdout(), out)
		return nil
	},
}

func init() {
	kickstartCmd.AddCommand(kickstartValidateCmd, kickstartGenerateCmd)
}

// readKickstart feeds the kickstart at location to freshly built modules
// and optionally returns the kickstart they generate afterwards.
func readKickstart(ctx context.Context, location string, generate bool) (*validation.Report, string, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	text, err := fetchKickstart(ctx, location)
	if err != nil {
		return nil, "", err
	}

	env := newEnv(ctx)
	var report *validation.Report
	var out string
	err = env.Loop.Call(ctx, func(context.Context) error {
		inst, err := installer.NewBuilder(env).Build()
		if err != nil {
			return err
		}
		report = inst.ReadKickstart(text)
		if generate {
			out = inst.GenerateKickstart()
		}
		return nil
	})
	return report, out, err
}
