package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/pflag"

	"github.com/HerbHall/hostscout/internal/backup"
)

func runRestore(args []string) error {
	var cf commonFlags
	fs := pflag.NewFlagSet("restore", pflag.ContinueOnError)
	addCommonFlags(fs, &cf)
	input := fs.StringP("input", "i", "", "backup archive to restore (required)")
	identity := fs.String("identity", "", "age identity file for an encrypted archive")
	force := fs.Bool("force", false, "overwrite existing files")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *input == "" {
		fs.Usage()
		return errors.New("--input is required")
	}

	_, cfg, err := loadConfig(fs, &cf)
	if err != nil {
		return err
	}

	opts := backup.RestoreOptions{DataDir: cfg.DataDir, Force: *force}
	if *identity != "" {
		if opts.Identities, err = backup.ParseIdentityFile(*identity); err != nil {
			return err
		}
	}

	m, err := backup.RestoreFile(context.Background(), *input, opts)
	if err != nil {
		return fmt.Errorf("restore failed: %w", err)
	}
	fmt.Printf("Restore complete: %d files restored to %s (archive from %s)\n",
		len(m.Files), cfg.DataDir, m.CreatedAt.Format("2006-01-02 15:04:05 MST"))
	return nil
}
