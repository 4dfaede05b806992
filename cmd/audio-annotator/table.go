package main

import (
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"audio-annotator/internal/config"
	"audio-annotator/internal/persistence"
	"audio-annotator/internal/session"
)

func newTableCommand() *cobra.Command {
	var (
		dir    string
		export bool
	)
	cmd := &cobra.Command{
		Use:   "table",
		Short: "Print the annotation table for an audio directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, logger, err := bootstrap()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			sessionCfg, err := config.SessionConfig(settings)
			if err != nil {
				return fmt.Errorf("resolve output path: %w", err)
			}
			return runTable(cmd.OutOrStdout(), session.New(sessionCfg, logger), dir, export)
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "", "audio directory to load")
	cmd.Flags().BoolVar(&export, "export", false, "rewrite the annotation table for the loaded files")
	_ = cmd.MarkFlagRequired("dir")
	return cmd
}

func runTable(w io.Writer, orch *session.Orchestrator, dir string, export bool) error {
	res := orch.Load(dir)
	if !export {
		return printView(w, res.View)
	}

	res, path, err := orch.Export(res.State)
	if err != nil {
		return err
	}
	if err := printView(w, res.View); err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "%s: %s\n", res.View.Status, path)
	return err
}

func printView(w io.Writer, view session.View) error {
	if view.Notice != "" {
		if _, err := fmt.Fprintln(w, view.Notice); err != nil {
			return err
		}
	}

	rows := make([][]string, 0, len(view.Table))
	for _, row := range view.Table {
		rows = append(rows, []string{row.Filename, persistence.JoinLabels(row.Labels)})
	}
	if _, err := fmt.Fprintln(w, renderTable([]string{"filename", "labels"}, rows)); err != nil {
		return err
	}
	_, err := fmt.Fprintln(w, view.ProgressText)
	return err
}

func renderTable(headers []string, rows [][]string) string {
	columns := len(headers)
	if columns == 0 {
		return ""
	}

	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)

	header := make(table.Row, columns)
	for i := 0; i < columns; i++ {
		header[i] = headers[i]
	}
	tw.AppendHeader(header)

	for _, row := range rows {
		r := make(table.Row, columns)
		for i := 0; i < columns; i++ {
			if i < len(row) {
				r[i] = row[i]
			} else {
				r[i] = ""
			}
		}
		tw.AppendRow(r)
	}

	configs := make([]table.ColumnConfig, 0, columns)
	for i := 0; i < columns; i++ {
		configs = append(configs, table.ColumnConfig{
			Number:      i + 1,
			Align:       text.AlignLeft,
			AlignHeader: text.AlignLeft,
		})
	}
	tw.SetColumnConfigs(configs)

	return tw.Render()
}
