package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/distributeddb/cloudsync/internal/cloudsync"
	"github.com/distributeddb/cloudsync/internal/refcloud"
	"github.com/distributeddb/cloudsync/internal/refstore"
	"github.com/distributeddb/cloudsync/internal/runtimectx"
)

func newRunCmd() *cobra.Command {
	var (
		flagTable   string
		flagDevice  string
		flagMode    string
		flagSeedRow int
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Seed the in-memory reference cloud with rows, then run one sync task against it",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDemo(cmd.Context(), flagTable, flagDevice, flagMode, flagSeedRow)
		},
	}

	cmd.Flags().StringVar(&flagTable, "table", "notes", "table name to sync")
	cmd.Flags().StringVar(&flagDevice, "device", "demo-device", "device id submitting the task")
	cmd.Flags().StringVar(&flagMode, "mode", "merge", "sync mode: merge, push-only, pull-only, push-pull, force-push, force-pull")
	cmd.Flags().IntVar(&flagSeedRow, "seed-rows", 3, "number of rows to pre-seed into the cloud double")

	return cmd
}

func parseMode(s string) (cloudsync.Mode, error) {
	switch s {
	case "push-only":
		return cloudsync.ModePushOnly, nil
	case "pull-only":
		return cloudsync.ModePullOnly, nil
	case "push-pull":
		return cloudsync.ModePushPull, nil
	case "force-push":
		return cloudsync.ModeForcePush, nil
	case "force-pull":
		return cloudsync.ModeForcePull, nil
	case "merge":
		return cloudsync.ModeMerge, nil
	default:
		return 0, fmt.Errorf("unknown mode %q", s)
	}
}

func runDemo(ctx context.Context, table, device, modeStr string, seedRows int) error {
	mode, err := parseMode(modeStr)
	if err != nil {
		return err
	}

	logger := newDemoLogger()

	cloud := refcloud.New(30000, 50)
	seedCloud(ctx, cloud, table, seedRows)

	schemas := map[string]refstore.TableSchema{
		table: {
			PKCols: []string{"id"},
			Local: cloudsync.RelationalSchemaObject{TableName: table, Fields: []cloudsync.SchemaField{
				{Name: "id", Type: cloudsync.FieldString, Primary: true},
				{Name: "text", Type: cloudsync.FieldString},
			}},
			Cloud: cloudsync.DatabaseSchema{TableName: table, Exists: true},
		},
	}

	store, err := refstore.Open(ctx, ":memory:", schemas, logger)
	if err != nil {
		return fmt.Errorf("opening reference store: %w", err)
	}
	defer store.Close()

	pool := runtimectx.New(4, logger)
	defer pool.Close()

	syncer := cloudsync.NewSyncer(store, cloud, pool, logger)
	defer syncer.Close()

	done := make(chan map[string]cloudsync.SyncProcess, 1)

	_, err = syncer.Sync(cloudsync.TaskInfo{
		Mode:      mode,
		Tables:    []string{table},
		Devices:   []string{device},
		TimeoutMs: 30000,
		Callback: func(proc map[string]cloudsync.SyncProcess) {
			for _, p := range proc {
				if p.OverallStatus == cloudsync.ProcessFinished {
					select {
					case done <- proc:
					default:
					}
				}
			}
		},
	})
	if err != nil {
		return fmt.Errorf("submitting sync task: %w", err)
	}

	select {
	case proc := <-done:
		printSummary(proc, device, table)
	case <-time.After(10 * time.Second):
		return fmt.Errorf("sync task did not finish within 10s")
	}

	return nil
}

func seedCloud(ctx context.Context, cloud *refcloud.Double, table string, n int) {
	for i := 0; i < n; i++ {
		rec := cloudsync.NewVBucket()
		rec.Set("id", cloudsync.StringValue(fmt.Sprintf("row-%d", i)))
		rec.Set("text", cloudsync.StringValue(fmt.Sprintf("seeded row %d", i)))

		cloud.BatchInsert(ctx, table, []*cloudsync.VBucket{rec}, []map[string]cloudsync.Value{{}})
	}
}

func newDemoLogger() *slog.Logger {
	level := slog.LevelInfo

	opts := &slog.HandlerOptions{Level: level}
	if isatty.IsTerminal(os.Stderr.Fd()) {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}

	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}

func printSummary(proc map[string]cloudsync.SyncProcess, device, table string) {
	p, ok := proc[device]
	if !ok {
		fmt.Println("no progress recorded for device", device)
		return
	}

	info := p.TableProcess[table]

	fmt.Printf("table %s: downloaded %s, uploaded %s\n",
		table,
		humanize.Comma(int64(info.DownloadInfo.SuccessCount)),
		humanize.Comma(int64(info.UploadInfo.SuccessCount)))

	if p.ErrCode != nil {
		fmt.Printf("task finished with error: %v\n", p.ErrCode)
	} else {
		fmt.Println("task finished OK")
	}
}
