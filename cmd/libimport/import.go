package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/JonMunkholm/libinventory/internal/config"
	"github.com/JonMunkholm/libinventory/internal/core"
	"github.com/JonMunkholm/libinventory/internal/identity"
)

// Import reads a CSV file and reconciles it against the catalog, or
// previews the outcome with --dry-run.
func (r *Runner) Import(ctx context.Context, cmd *cli.Command) error {
	path := cmd.Args().First()
	if path == "" {
		return fmt.Errorf("a CSV file is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}

	cfg, err := r.loadConfig(cmd)
	if err != nil {
		return err
	}

	bindings, err := r.resolveMapping(cmd, &cfg.Import)
	if err != nil {
		return err
	}
	if cmd.IsSet("policy") {
		cfg.Import.MatchPolicy = cmd.String("policy")
	}
	if cmd.IsSet("threshold") {
		cfg.Import.SimilarityThreshold = cmd.Float("threshold")
	}
	if cmd.IsSet("rate") {
		cfg.Import.RowRate = cmd.Float("rate")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	store, err := r.openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	svc, err := core.NewService(store, cfg)
	if err != nil {
		return err
	}

	// Ctrl-C stops the run before the next row; the partial report is kept.
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()
	ctx = identity.WithUser(ctx, cmd.String("user"))

	fileName := filepath.Base(path)
	r.logger.Debug("reading import", "file", fileName, "dry_run", cmd.Bool("dry-run"), "policy", cfg.Import.MatchPolicy)

	result, err := svc.ImportFile(ctx, fileName, data, core.ImportOptions{
		Bindings: bindings,
		DryRun:   cmd.Bool("dry-run"),
		Logger:   r.logger,
		OnProgress: func(p core.Progress) {
			if p.Row%100 == 0 || p.Row == p.Total {
				r.logger.Debug("import progress", "row", p.Row, "total", p.Total, "errors", p.Errors)
			}
		},
	})
	if err != nil {
		return err
	}

	if result.Preview != nil {
		return r.printPreview(cmd, result)
	}
	return r.printReport(cmd, fileName, result)
}

// resolveMapping merges the preset and --map bindings, with --map taking
// precedence. Headers for fields left out are auto-mapped by the importer.
func (r *Runner) resolveMapping(cmd *cli.Command, importCfg *config.ImportConfig) (map[core.Field]string, error) {
	bindings := map[core.Field]string{}

	if path := cmd.String("preset"); path != "" {
		preset, err := config.LoadPreset(path)
		if err != nil {
			return nil, err
		}
		preset.Import.Apply(importCfg)
		for k, v := range preset.Mapping {
			if f, ok := core.ParseField(k); ok {
				bindings[f] = v
			}
		}
		r.logger.Debug("preset loaded", "name", preset.Name, "path", path)
	}

	for _, pair := range cmd.StringSlice("map") {
		key, header, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("invalid --map %q: want field=header", pair)
		}
		f, known := core.ParseField(key)
		if !known {
			return nil, fmt.Errorf("invalid --map %q: unknown field %q", pair, key)
		}
		bindings[f] = strings.TrimSpace(header)
	}
	return bindings, nil
}

func (r *Runner) printPreview(cmd *cli.Command, result *core.ImportResult) error {
	preview := result.Preview
	if cmd.Bool("json") {
		return r.writeJSON(preview)
	}

	r.writePlainHeader("Dry run")
	r.writePlain("Rows:    %d\n", preview.Summary.TotalRows)
	r.writePlain("New:     %d\n", preview.Summary.NewRows)
	r.writePlain("Updates: %d\n", preview.Summary.UpdateRows)
	r.writePlain("Errors:  %d\n", preview.Summary.ErrorRows)

	for _, d := range preview.UpdateDiffs {
		r.writePlain("  row %d: update %q\n", d.Row, d.Matched)
		for _, field := range d.Changed {
			r.writePlain("    %s: %q -> %q\n", field, d.Current[field], d.Incoming[field])
		}
	}
	for _, e := range preview.ErrorSamples {
		r.writePlain("  row %d: %s\n", e.Row, e.Error)
	}
	return nil
}

func (r *Runner) printReport(cmd *cli.Command, fileName string, result *core.ImportResult) error {
	report := result.Report

	if path := cmd.String("report"); path != "" {
		if err := r.writeReportFile(path, report); err != nil {
			return err
		}
	}

	if cmd.Bool("json") {
		return r.writeJSON(struct {
			RunID string `json:"runId"`
			*core.ImportReport
		}{result.RunID, report})
	}

	r.writePlainHeader(fileName)
	r.writePlain("%s\n", report.Summary())
	r.writePlain("Run: %s\n", result.RunID)
	for _, o := range report.Failed() {
		r.writePlain("  row %d (%s): %s\n", o.Row, o.Title, o.Message)
	}
	return nil
}

func (r *Runner) writeReportFile(path string, report *core.ImportReport) error {
	out, err := r.createOutput(path)
	if err != nil {
		return err
	}
	if err := report.WriteCSV(out); err != nil {
		out.Close()
		return fmt.Errorf("failed to write report: %w", err)
	}
	return out.Close()
}

func importCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:      "import",
		Usage:     "Import a library inventory CSV",
		ArgsUsage: "<file.csv>",
		Flags: []cli.Flag{
			dbFlag(),
			&cli.StringFlag{
				Name:    "preset",
				Aliases: []string{"p"},
				Usage:   "TOML preset with the column mapping",
			},
			&cli.StringSliceFlag{
				Name:    "map",
				Aliases: []string{"m"},
				Usage:   "Bind a field to a header, e.g. --map title=\"Piece\" (overrides the preset)",
			},
			&cli.StringFlag{
				Name:    "user",
				Aliases: []string{"u"},
				Usage:   "User recorded in history and the audit log",
				Value:   "cli",
			},
			&cli.BoolFlag{
				Name:  "dry-run",
				Usage: "Preview the changes without writing",
			},
			&cli.StringFlag{
				Name:  "policy",
				Usage: "Duplicate match policy: substring or similarity",
			},
			&cli.FloatFlag{
				Name:  "threshold",
				Usage: "Similarity threshold for the similarity policy",
			},
			&cli.FloatFlag{
				Name:  "rate",
				Usage: "Rows per second, 0 for no limit",
			},
			&cli.StringFlag{
				Name:    "report",
				Aliases: []string{"r"},
				Usage:   "Write the per-row report CSV to this path",
			},
			&cli.BoolFlag{
				Name:  "json",
				Usage: "Output JSON",
			},
		},
		Action: r.Import,
	}
}
