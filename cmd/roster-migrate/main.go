package main

import (
	"database/sql"
	"fmt"
	"ms-roster/internal/config"
	"ms-roster/internal/database/migrations"
	"ms-roster/internal/logger"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/spf13/cobra"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
)

func main() {
	log := logger.NewLogger()
	defer log.Close()

	if err := godotenv.Load(); err != nil {
		log.Debug("CONFIG", ".env file not found, using environment variables")
	}
	cfg := config.Load()

	var dir string
	root := &cobra.Command{
		Use:           "roster-migrate",
		Short:         "Apply or roll back the roster database schema",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&dir, "dir", cfg.Migrations.Dir, "directory holding the SQL migrations")

	withRunner := func(fn func(r *migrations.Runner) error) error {
		sqldb, err := sql.Open("postgres", cfg.Database.DSN)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		bunDB := bun.NewDB(sqldb, pgdialect.New())
		defer bunDB.Close()

		runner := migrations.NewRunner(bunDB, migrations.Options{Dir: dir}, log)
		defer runner.Close()
		return fn(runner)
	}

	root.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply every pending migration",
			RunE: func(cmd *cobra.Command, args []string) error {
				return withRunner(func(r *migrations.Runner) error { return r.Run() })
			},
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back every migration",
			RunE: func(cmd *cobra.Command, args []string) error {
				return withRunner(func(r *migrations.Runner) error {
					if err := r.Down(); err != nil {
						return err
					}
					log.Info("DATABASE", "All migrations rolled back")
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "to VERSION",
			Short: "Migrate up or down to VERSION",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				version, err := strconv.ParseUint(args[0], 10, 32)
				if err != nil {
					return fmt.Errorf("invalid version %q: %w", args[0], err)
				}
				return withRunner(func(r *migrations.Runner) error {
					if err := r.To(uint(version)); err != nil {
						return err
					}
					log.Info("DATABASE", fmt.Sprintf("Schema now at version %d", version))
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print the applied schema version",
			RunE: func(cmd *cobra.Command, args []string) error {
				return withRunner(func(r *migrations.Runner) error {
					version, dirty, err := r.Version()
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "version %d (dirty: %t)\n", version, dirty)
					return nil
				})
			},
		},
	)

	if err := root.Execute(); err != nil {
		log.Error("DATABASE", err.Error())
		os.Exit(1)
	}
}
