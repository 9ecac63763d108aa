package main

import (
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/ternarybob/certflow/internal/common"
	"github.com/ternarybob/certflow/internal/models"
	"github.com/ternarybob/certflow/internal/storage/badger"
	"github.com/ternarybob/certflow/internal/storage/dataset"
)

var statusRuns int

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the dataset's progress and recent supervised runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := loadConfig(common.FlagOverrides{}); err != nil {
			return err
		}
		ctx := cmd.Context()

		store := dataset.NewStore(config.Dataset.Path, config.Dataset.Sheet, logger)
		records, err := store.Records(ctx)
		if err != nil {
			return err
		}

		// The journal is optional diagnostics; the dataset alone is authoritative
		var attempts map[int]int
		var runs []models.RunRecord
		journalConfig := config.Storage.Badger
		journalConfig.ResetOnStartup = false
		if db, err := badger.NewBadgerDB(logger, &journalConfig); err != nil {
			logger.Warn().Err(err).Msg("Journal unavailable")
		} else {
			journal := badger.NewJournalStorage(db, logger)
			defer journal.Close()
			if attempts, err = journal.CountAttemptsByRow(ctx); err != nil {
				logger.Warn().Err(err).Msg("Failed to count attempts")
			}
			if runs, err = journal.ListRuns(ctx, statusRuns); err != nil {
				logger.Warn().Err(err).Msg("Failed to list runs")
			}
		}

		renderRecords(records, attempts)
		if len(runs) > 0 {
			renderRuns(runs)
		}
		return nil
	},
}

func init() {
	statusCmd.Flags().IntVar(&statusRuns, "runs", 5, "Number of recent runs to show")
}

func newTable() table.Writer {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.SetOutputMirror(os.Stdout)
	return t
}

func statusText(status models.RecordStatus) string {
	switch status {
	case models.StatusFound:
		return color.GreenString(status.Label())
	case models.StatusNotFound:
		return color.YellowString(status.Label())
	}
	return color.New(color.Faint).Sprint("pendiente")
}

func renderRecords(records []models.Record, attempts map[int]int) {
	t := newTable()
	t.AppendHeader(table.Row{"Fila", "RUC", "Oficina", "Partida", "Estado", "Intentos"})

	var found, notFound, pending int
	for _, rec := range records {
		switch rec.Status {
		case models.StatusFound:
			found++
		case models.StatusNotFound:
			notFound++
		default:
			pending++
		}
		t.AppendRow(table.Row{rec.Row, rec.Identifier, rec.RegistryOffice, rec.DocumentNumber, statusText(rec.Status), attempts[rec.Row]})
	}

	t.AppendFooter(table.Row{"", "", "", "Total", fmt.Sprintf("%d / %d / %d", found, notFound, pending), len(records)})
	t.Render()
}

func renderRuns(runs []models.RunRecord) {
	t := newTable()
	t.AppendHeader(table.Row{"Inicio", "Intento", "Duración", "Resultado"})

	for _, run := range runs {
		result := color.GreenString("completado")
		if !run.Completed {
			result = color.RedString(run.Err)
		}
		duration := "-"
		if !run.FinishedAt.IsZero() {
			duration = run.FinishedAt.Sub(run.StartedAt).Round(time.Second).String()
		}
		t.AppendRow(table.Row{run.StartedAt.Format("2006-01-02 15:04:05"), run.Attempt, duration, result})
	}
	t.Render()
}
