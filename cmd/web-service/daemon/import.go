package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/pixeldepot/pixeldepot/internal/config"
	"github.com/pixeldepot/pixeldepot/internal/importer"
	"github.com/pixeldepot/pixeldepot/internal/store"
	"github.com/spf13/cobra"
)

func installImportCmd(app *App) {
	var prune bool

	importCmd := &cobra.Command{
		Use:   "import [path-to-import-directory]",
		Short: "Bulk import assets and scores from a directory",
		Long: `Bulk import assets and scores from a directory tree into the database.
The directory holds one sub-directory per asset kind with raw files, and a scores directory of JSON documents.`,
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) != 1 {
				return errors.New("import command accepts exactly one argument")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			app.cmd.SilenceUsage = false

			fileInfo, err := os.Stat(args[0])
			if err != nil {
				return fmt.Errorf("the provided import path is not valid: %v", err)
			}
			if !fileInfo.IsDir() {
				return fmt.Errorf("the provided import path should be a directory, not a file")
			}

			app.cmd.SilenceUsage = true

			slog.Info("Running import command")
			return app.importRun(args[0], prune)
		},
	}
	importCmd.Flags().BoolVar(&prune, "prune", false, "remove successfully imported files from disk")

	app.cmd.AddCommand(importCmd)
}

func (a App) importRun(dir string, prune bool) error {
	cm := config.New(a.config.Daemon.ConfigPath)
	if err := cm.Load(); err != nil {
		return fmt.Errorf("failed to load configuration: %v", err)
	}

	db, err := store.New(context.Background(), a.config.DBConfig)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %v", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			slog.Error("failed to close database connection", "error", err)
		}
	}()

	var args []importer.Options
	if prune {
		args = append(args, importer.WithPrune())
	}
	im, err := importer.New(dir, db, cm, args...)
	if err != nil {
		return fmt.Errorf("failed to create importer: %v", err)
	}

	results, err := im.Run(context.Background())
	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
			slog.Warn("File failed to import", "file", r.File, "error", r.Err)
		}
	}
	slog.Info("Import finished", "files", len(results), "failed", failed)
	return err
}
