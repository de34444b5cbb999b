package main

import (
	"database/sql"
	"fmt"
	"os"

	"github.com/pressly/goose/v3"
	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"

	"ytlive_bot/migrations"
)

func newMigrateCommand() *cobra.Command {
	var dbPath string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the SQLite schema of the bot database",
		Example: `  migrate up
  migrate --db ./data/bot.db status`,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVar(&dbPath, "db", envOrDefault("DATABASE_PATH", "./data/bot.db"),
		"path to sqlite database")

	steps := []struct {
		use, short string
		fn         func(db *sql.DB) error
	}{
		{"up", "Migrate to the latest version", func(db *sql.DB) error { return goose.Up(db, ".") }},
		{"up-one", "Migrate one version up", func(db *sql.DB) error { return goose.UpByOne(db, ".") }},
		{"down", "Roll back one version", func(db *sql.DB) error { return goose.Down(db, ".") }},
		{"status", "Show migration status", func(db *sql.DB) error { return goose.Status(db, ".") }},
		{"version", "Show current version", func(db *sql.DB) error { return goose.Version(db, ".") }},
		{"reset", "Roll back all migrations", func(db *sql.DB) error { return goose.Reset(db, ".") }},
	}
	for _, s := range steps {
		cmd.AddCommand(&cobra.Command{
			Use:   s.use,
			Short: s.short,
			Args:  cobra.NoArgs,
			RunE: func(_ *cobra.Command, _ []string) error {
				return withDB(dbPath, func(db *sql.DB) error {
					if err := s.fn(db); err != nil {
						return fmt.Errorf("%s: %w", s.use, err)
					}
					return nil
				})
			},
		})
	}
	return cmd
}

func withDB(path string, fn func(db *sql.DB) error) error {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer func() { _ = db.Close() }()

	if err := migrations.Setup(); err != nil {
		return err
	}
	return fn(db)
}

func main() {
	if err := newMigrateCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
