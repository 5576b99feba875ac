package main

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/urfave/cli/v3"

	"github.com/JonMunkholm/libinventory/internal/config"
	"github.com/JonMunkholm/libinventory/internal/core"
)

// Template writes the blank import template.
func (r *Runner) Template(ctx context.Context, cmd *cli.Command) error {
	out, err := r.createOutput(cmd.String("output"))
	if err != nil {
		return err
	}
	if _, err := out.Write(core.TemplateCSV()); err != nil {
		out.Close()
		return fmt.Errorf("failed to write template: %w", err)
	}
	return out.Close()
}

// Export writes every catalog entry as CSV in the import layout.
func (r *Runner) Export(ctx context.Context, cmd *cli.Command) error {
	cfg, err := r.loadConfig(cmd)
	if err != nil {
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

	path := cmd.String("output")
	if path == "" {
		path = core.ExportFileName(r.now())
	}
	out, err := r.createOutput(path)
	if err != nil {
		return err
	}
	n, err := svc.ExportLibrary(ctx, out)
	if err != nil {
		out.Close()
		return fmt.Errorf("failed to export library: %w", err)
	}
	if err := out.Close(); err != nil {
		return err
	}

	r.logger.Info("library exported", "entries", n, "path", path)
	return nil
}

// History lists recent import runs.
func (r *Runner) History(ctx context.Context, cmd *cli.Command) error {
	cfg, err := r.loadConfig(cmd)
	if err != nil {
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

	runs, err := svc.ListHistory(ctx, int(cmd.Int("limit")))
	if err != nil {
		return err
	}
	if cmd.Bool("json") {
		return r.writeJSON(runs)
	}
	if len(runs) == 0 {
		r.writePlain("No imports yet.\n")
		return nil
	}

	tw := tabwriter.NewWriter(r.output, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "FINISHED\tFILE\tUSER\tTOTAL\tCREATED\tUPDATED\tERRORS\tRUN")
	for _, run := range runs {
		file := run.FileName
		if run.Cancelled {
			file += " (cancelled)"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%d\t%d\t%s\n",
			run.FinishedAt.Local().Format("2006-01-02 15:04"), file, run.UserID,
			run.Total, run.Created, run.Updated, run.Errors, run.ID)
	}
	return tw.Flush()
}

// PresetInit writes the example mapping preset.
func (r *Runner) PresetInit(ctx context.Context, cmd *cli.Command) error {
	path := cmd.String("output")
	if err := config.CreatePresetFile(path); err != nil {
		return err
	}
	r.writePlain("✓ Preset written to %s\n", path)
	return nil
}

func templateCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "template",
		Usage: "Write the blank import template CSV",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "output",
				Aliases: []string{"o"},
				Usage:   "Output path, - for stdout",
				Value:   "-",
			},
		},
		Action: r.Template,
	}
}

func exportCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "export",
		Usage: "Export the library catalog as CSV",
		Flags: []cli.Flag{
			dbFlag(),
			&cli.StringFlag{
				Name:    "output",
				Aliases: []string{"o"},
				Usage:   "Output path, - for stdout (default music_library_<date>.csv)",
			},
		},
		Action: r.Export,
	}
}

func historyCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "history",
		Usage: "List recent import runs",
		Flags: []cli.Flag{
			dbFlag(),
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"n"},
				Usage:   "Maximum number of runs to list",
				Value:   20,
			},
			&cli.BoolFlag{
				Name:  "json",
				Usage: "Output JSON",
			},
		},
		Action: r.History,
	}
}

func presetCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "preset",
		Usage: "Manage column mapping presets",
		Commands: []*cli.Command{
			{
				Name:  "init",
				Usage: "Write an example preset file",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "output",
						Aliases: []string{"o"},
						Usage:   "Path of the preset file",
						Value:   "preset.toml",
					},
				},
				Action: r.PresetInit,
			},
		},
	}
}
