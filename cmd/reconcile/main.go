// Command reconcile runs receipt files through OCR and prints the reconciled
// Bewirtungsbeleg fields.
//
//	reconcile [-config file] [-set field=value]... [-export dir] file...
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dajor/bewirtungsbeleg-sub003/internal/config"
	"github.com/dajor/bewirtungsbeleg-sub003/internal/container"
	"github.com/dajor/bewirtungsbeleg-sub003/internal/derivation"
	"github.com/dajor/bewirtungsbeleg-sub003/internal/domain/event"
	"github.com/dajor/bewirtungsbeleg-sub003/internal/domain/receipt"
	"github.com/dajor/bewirtungsbeleg-sub003/internal/domain/workflow"
	"github.com/dajor/bewirtungsbeleg-sub003/internal/export"
	"github.com/dajor/bewirtungsbeleg-sub003/internal/locale"
	"github.com/dajor/bewirtungsbeleg-sub003/internal/reconcile"
	"github.com/dajor/bewirtungsbeleg-sub003/internal/storage"
	"github.com/dajor/bewirtungsbeleg-sub003/internal/upload"
	"github.com/dajor/bewirtungsbeleg-sub003/pkg/utils"
)

// fieldEdits collects repeated -set field=value flags
type fieldEdits event.PartialFieldMap

func (e fieldEdits) String() string {
	pairs := make([]string, 0, len(e))
	for k, v := range e {
		pairs = append(pairs, k+"="+v)
	}
	return strings.Join(pairs, ",")
}

func (e fieldEdits) Set(s string) error {
	name, value, ok := strings.Cut(s, "=")
	if !ok {
		return fmt.Errorf("expected field=value, got %q", s)
	}
	if _, known := receipt.ParseField(name); !known {
		return fmt.Errorf("%w: %s", receipt.ErrUnknownField, name)
	}
	e[strings.TrimSpace(name)] = value
	return nil
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	flags := flag.NewFlagSet("reconcile", flag.ContinueOnError)
	flags.SetOutput(stderr)

	edits := fieldEdits{}
	configPath := flags.String("config", "", "path to the YAML configuration (optional)")
	exportDir := flags.String("export", "", "write the spreadsheet to this directory")
	timeout := flags.Duration("timeout", 5*time.Minute, "overall processing timeout")
	verbose := flags.Bool("v", false, "verbose logging to stderr")
	flags.Var(edits, "set", "user edit applied after OCR, e.g. -set participants=\"Anna, Ben\" (repeatable)")

	if err := flags.Parse(args); err != nil {
		return 2
	}
	if flags.NArg() == 0 && len(edits) == 0 {
		fmt.Fprintln(stderr, "Error: at least one receipt file or -set is required")
		flags.Usage()
		return 2
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Failed to load configuration: %v\n", err)
		return 1
	}

	logger, err := utils.NewCLILogger(*verbose)
	if err != nil {
		fmt.Fprintf(stderr, "Failed to initialize logger: %v\n", err)
		return 1
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	if err := reconcileFiles(ctx, cfg, flags.Args(), event.PartialFieldMap(edits), *exportDir, stdout, logger); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func reconcileFiles(
	ctx context.Context,
	cfg *config.Config,
	paths []string,
	edits event.PartialFieldMap,
	exportDir string,
	out io.Writer,
	logger *zap.Logger,
) error {
	numbers, err := container.ProvideNumbers(cfg)
	if err != nil {
		return err
	}
	rules, display := numbers.Rules, numbers.Display

	engine := reconcile.NewEngine(rules, numbers.Input, logger, reconcile.WithDisplayFormat(display))

	var failed []upload.Status
	if len(paths) > 0 {
		orchestrator, err := newOrchestrator(cfg, engine, numbers.Input, logger)
		if err != nil {
			return err
		}
		defer orchestrator.Close()

		for _, p := range paths {
			data, err := os.ReadFile(p)
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", p, err)
			}
			if _, err := orchestrator.Submit(ctx, upload.File{Name: storage.SanitizeFileName(p), Data: data}); err != nil {
				return fmt.Errorf("failed to submit %s: %w", p, err)
			}
		}
		if err := orchestrator.Wait(ctx); err != nil {
			return fmt.Errorf("processing did not finish: %w", err)
		}

		for _, s := range orchestrator.List() {
			if s.State != workflow.StateApplied {
				failed = append(failed, s)
			}
		}
	}

	if len(edits) > 0 {
		engine.Apply(event.NewUpdateEvent("cli", event.KindUserEdited, edits))
	}

	printFields(out, engine.View())
	if d, err := rules.EntertainmentSplit(engine.Snapshot()); err == nil {
		printDeduction(out, d, display)
	}
	for _, s := range failed {
		fmt.Fprintf(out, "\n%s: %s %s\n", s.FileName, s.State, s.Error)
	}

	if exportDir != "" {
		files := storage.NewLocalFileStorage(exportDir, logger)
		exporter := export.NewExporter(rules, display, files, exportDir, logger)
		path, err := exporter.Write(ctx, export.Document{
			ReceiptID:   uuid.NewString(),
			SubmittedAt: time.Now(),
			Fields:      engine.Snapshot(),
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "\nExport: %s\n", path)
	}

	if len(failed) > 0 {
		return fmt.Errorf("%d of %d files could not be read", len(failed), len(paths))
	}
	return nil
}

func newOrchestrator(cfg *config.Config, engine *reconcile.Engine, input *locale.NumberFormat, logger *zap.Logger) (*upload.Orchestrator, error) {
	ocr, err := container.ProvideOCR(cfg, input, nil, logger)
	if err != nil {
		return nil, err
	}

	return upload.NewOrchestrator("cli", upload.Config{
		MaxConcurrent: cfg.Upload.MaxConcurrent,
		Timeout:       cfg.Upload.Timeout,
	}, upload.Dependencies{
		Converter:  ocr.Converter,
		Classifier: ocr.Classifier,
		Extractor:  ocr.Extractor,
		Applier:    engine,
	}, logger), nil
}

func printFields(out io.Writer, views []reconcile.FieldView) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "Feld\tWert\tHerkunft")
	for _, v := range views {
		display := v.Display
		if display == "" {
			display = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", v.Label, display, v.Provenance)
	}
	_ = w.Flush()
}

func printDeduction(out io.Writer, d derivation.Deduction, format *locale.NumberFormat) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Art der Bewirtung\t%s\n", d.Type)
	fmt.Fprintf(w, "Gesamtbetrag inkl. Trinkgeld\t%s\n", format.Format(d.Total))
	fmt.Fprintf(w, "Abziehbarer Betrag\t%s\n", format.Format(d.Deductible))
	fmt.Fprintf(w, "Nicht abziehbarer Betrag\t%s\n", format.Format(d.NonDeductible))
	fmt.Fprintf(w, "Abziehbare Vorsteuer\t%s\n", format.Format(d.DeductibleVat))
	_ = w.Flush()
}
