package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/urfave/cli/v3"

	"batchgen/internal/batch"
	"batchgen/internal/bulk"
	"batchgen/internal/settings"
	"batchgen/internal/statuslabel"
)

func runCmd() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Process a CSV sheet and write the results next to it",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "input",
				Aliases:  []string{"i"},
				Usage:    "CSV sheet with at least a prompt column",
				Required: true,
			},
			&cli.StringFlag{
				Name:    "output",
				Aliases: []string{"o"},
				Usage:   "Where to write the result sheet (default: <input>.results.csv)",
			},
			&cli.StringFlag{
				Name:  "locale",
				Usage: "Render statuses as labels in this locale (en, zh, id)",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			input := cmd.String("input")
			output := cmd.String("output")
			if output == "" {
				output = strings.TrimSuffix(input, filepath.Ext(input)) + ".results.csv"
			}

			rows, err := readSheet(input)
			if err != nil {
				return err
			}
			if len(rows) == 0 {
				return fmt.Errorf("%s has no rows", input)
			}

			rt, err := bootstrap(ctx, cmd.String("settings"))
			if err != nil {
				return err
			}
			defer rt.Close()

			loadSheet(rt.engine, rt.settings.Defaults, rows)
			runErr := rt.engine.Run(ctx)
			rt.engine.Ledger().Flush()

			var label bulk.LabelFunc
			if loc := cmd.String("locale"); loc != "" {
				label = statuslabel.For(loc)
			}
			if err := writeSheet(output, rt.engine.ExportBatch(), label); err != nil {
				return err
			}

			snapshot := rt.engine.Snapshot()
			rt.logger.Info().
				Str("output", output).
				Int("jobs", len(snapshot)).
				Int("succeeded", countStatus(snapshot, batch.StatusSucceeded)).
				Int("failed", countStatus(snapshot, batch.StatusFailed)+countStatus(snapshot, batch.StatusTimeout)).
				Msg("sheet processed")
			return runErr
		},
	}
}

func readSheet(path string) ([]batch.Row, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open sheet: %w", err)
	}
	defer f.Close()
	return bulk.ReadCSV(f)
}

// loadSheet enqueues rows in sheet order. Rows a previous run already
// finished keep their result and are not submitted again.
func loadSheet(engine *batch.Engine, defaults settings.Defaults, rows []batch.Row) {
	for i := range rows {
		row := rows[i]
		defaults.Apply(&row.Input)
		records := engine.ImportBatch([]batch.Row{row})
		if row.Status == batch.StatusSucceeded && row.LocalPath != "" {
			done := records[0]
			done.Status = batch.StatusSucceeded
			done.Progress = 1
			done.LocalPath = row.LocalPath
			done.FileName = filepath.Base(row.LocalPath)
			engine.Restore([]batch.Record{done})
			continue
		}
		engine.Enqueue(records...)
	}
}

func writeSheet(path string, rows []batch.Row, label bulk.LabelFunc) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create result sheet: %w", err)
	}
	if err := bulk.WriteCSV(f, rows, label); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close result sheet: %w", err)
	}
	return os.Rename(tmp, path)
}

func countStatus(records []batch.Record, s batch.Status) int {
	n := 0
	for _, rec := range records {
		if rec.Status == s {
			n++
		}
	}
	return n
}
