package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"

	"github.com/HerbHall/hostscout/internal/query"
	"github.com/HerbHall/hostscout/internal/scout"
	"github.com/HerbHall/hostscout/internal/store"
	"github.com/HerbHall/hostscout/internal/vault"
	"github.com/HerbHall/hostscout/pkg/models"
)

func runQuery(args []string) error {
	var cf commonFlags
	fs := pflag.NewFlagSet("query", pflag.ContinueOnError)
	addCommonFlags(fs, &cf)
	kind := fs.StringP("kind", "k", "", "metric kind (default: all)")
	since := fs.Duration("since", time.Hour, "show samples newer than this; 0 shows everything")
	limit := fs.IntP("limit", "n", 50, "maximum rows; 0 means no limit")
	kinds := fs.Bool("kinds", false, "list stored metric kinds and exit")
	if err := fs.Parse(args); err != nil {
		return err
	}

	_, cfg, err := loadConfig(fs, &cf)
	if err != nil {
		return err
	}
	ctx := context.Background()

	dbPath := filepath.Join(cfg.DataDir, scout.DatabaseFile)
	if _, err := os.Stat(dbPath); err != nil {
		return fmt.Errorf("no telemetry database in %s: %w", cfg.DataDir, err)
	}
	storeCfg := store.Config{Path: dbPath, ReadConns: 1}
	if cfg.Store.EncryptSamples {
		v, err := vault.Open(vault.Config{DataDir: cfg.DataDir, Scheme: cfg.Vault.Scheme})
		if err != nil {
			return err
		}
		storeCfg.Sealer = vault.SampleSealer{V: v}
	}
	st, err := store.Open(ctx, storeCfg)
	if err != nil {
		return err
	}
	defer st.Close()
	svc := query.NewService(st)

	if *kinds {
		list, err := svc.ListMetricKinds(ctx)
		if err != nil {
			return err
		}
		for _, k := range list {
			fmt.Println(k)
		}
		return nil
	}

	var from time.Time
	if *since > 0 {
		from = time.Now().Add(-*since)
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "TIME\tKIND\tSOURCE\tVALUE\tSEQ\t")
	rows := 0
	for smp, err := range svc.Query(ctx, models.MetricKind(*kind), from, time.Time{}) {
		if err != nil {
			return err
		}
		if *limit > 0 && rows == *limit {
			break
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t\n",
			smp.Timestamp.Local().Format("2006-01-02 15:04:05.000"),
			smp.Kind, smp.Source, formatValue(smp), smp.Seq)
		rows++
	}
	return tw.Flush()
}

func formatValue(s models.MetricSample) string {
	if s.Kind.Info().Unit == models.UnitPercent {
		return strconv.FormatFloat(s.Value, 'f', 1, 64) + "%"
	}
	return strconv.FormatFloat(s.Value, 'f', 0, 64)
}
