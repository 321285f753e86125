package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/pflag"

	"github.com/HerbHall/hostscout/internal/backup"
)

func runBackup(args []string) error {
	var cf commonFlags
	fs := pflag.NewFlagSet("backup", pflag.ContinueOnError)
	addCommonFlags(fs, &cf)
	output := fs.StringP("output", "o", "", "output file path (default: hostscout-backup-{timestamp}.tar.gz)")
	recipients := fs.StringSliceP("recipient", "r", nil, "encrypt to this age public key (repeatable)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	loaded, cfg, err := loadConfig(fs, &cf)
	if err != nil {
		return err
	}

	if *output == "" {
		ext := ".tar.gz"
		if len(*recipients) > 0 {
			ext += ".age"
		}
		*output = fmt.Sprintf("hostscout-backup-%s%s", time.Now().Format("20060102-150405"), ext)
	}

	m, err := backup.BackupFile(context.Background(), backup.Options{
		DataDir:    cfg.DataDir,
		ConfigPath: loaded.ConfigFile(),
		Recipients: *recipients,
	}, *output)
	if err != nil {
		return fmt.Errorf("backup failed: %w", err)
	}
	fmt.Printf("Backup created: %s (%d files)\n", *output, len(m.Files))
	return nil
}
