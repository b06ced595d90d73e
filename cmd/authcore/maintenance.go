package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pyroalert/authcore"
	"github.com/pyroalert/authcore/credential"
	"github.com/pyroalert/authcore/internal/db"
)

func newMigrateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:       "migrate [up|down]",
		Short:     "Apply or roll back the Postgres schema",
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: []string{"up", "down"},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			direction := "up"
			if len(args) == 1 {
				direction = args[0]
			}
			if err := db.Migrate(cfg.DatabaseURL, direction); err != nil {
				return err
			}
			fmt.Fprintf(a.stdout, "migrations applied (%s)\n", direction)
			return nil
		},
	}
}

func newSeedAdminCmd(a *app) *cobra.Command {
	var email, password, name string

	cmd := &cobra.Command{
		Use:   "seed-admin",
		Short: "Create the initial admin account if it does not exist",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if email == "" || password == "" {
				return errors.New("--email and --password are required")
			}
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			rt, err := bootstrap(cmd.Context(), cfg, false)
			if err != nil {
				return err
			}
			defer rt.Close()

			user, err := rt.engine.CreateUser(cmd.Context(), authcore.CreateUserInput{
				Email:    email,
				Password: password,
				Name:     name,
				Role:     string(credential.RoleAdmin),
			})
			if errors.Is(err, authcore.ErrConflict) {
				fmt.Fprintf(a.stdout, "admin %s already exists\n", email)
				return nil
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(a.stdout, "admin created: %s (%s)\n", user.Email, user.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "admin login email")
	cmd.Flags().StringVar(&password, "password", "", "admin password")
	cmd.Flags().StringVar(&name, "name", "Administrator", "admin display name")
	return cmd
}

func newSweepCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Delete expired refresh tokens",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			rt, err := bootstrap(cmd.Context(), cfg, false)
			if err != nil {
				return err
			}
			defer rt.Close()

			n, err := rt.engine.SweepExpiredTokens(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(a.stdout, "deleted %d expired refresh tokens\n", n)
			return nil
		},
	}
}
