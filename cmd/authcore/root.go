package main

import (
	"io"

	"github.com/spf13/cobra"

	"github.com/pyroalert/authcore/internal/config"
)

type app struct {
	envFile string
	stdout  io.Writer
	stderr  io.Writer
}

func newRootCommand(out, errOut io.Writer) *cobra.Command {
	a := &app{stdout: out, stderr: errOut}

	cmd := &cobra.Command{
		Use:           "authcore",
		Short:         "OAuth2 token service with TOTP two-factor authentication",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetOut(out)
	cmd.SetErr(errOut)

	cmd.PersistentFlags().StringVar(&a.envFile, "env-file", "", "path to a .env file (default ./.env when present)")

	cmd.AddCommand(
		newServeCmd(a),
		newMigrateCmd(a),
		newSeedAdminCmd(a),
		newSweepCmd(a),
	)
	return cmd
}

func (a *app) loadConfig() (*config.Config, error) {
	return config.Load(a.envFile)
}
