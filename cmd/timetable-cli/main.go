// Command timetable-cli generates timetables offline from catalog files, without Postgres or Redis.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/noah-isme/timetable-api/internal/catalog"
	"github.com/noah-isme/timetable-api/internal/dto"
	"github.com/noah-isme/timetable-api/internal/models"
	"github.com/noah-isme/timetable-api/internal/repository/memory"
	"github.com/noah-isme/timetable-api/internal/service"
	"github.com/noah-isme/timetable-api/pkg/config"
	"github.com/noah-isme/timetable-api/pkg/logger"
)

type options struct {
	catalog        string
	year           int
	semester       int
	specialization string
	seed           int64
	strategy       string
	format         string
	batch          int
	out            string
	ledger         string
}

func main() {
	if err := run(context.Background(), os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "timetable-cli:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	opts, err := parseFlags(args, cfg)
	if err != nil {
		return err
	}

	logr, err := logger.New(cfg)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logr.Sync() //nolint:errcheck

	cat, err := catalog.Load(opts.catalog)
	if err != nil {
		return err
	}
	store := memory.NewStore(cat)
	if opts.ledger != "" {
		snapshot, err := readLedger(opts.ledger)
		if err != nil {
			return err
		}
		store.RestoreLedger(snapshot)
	}

	generator := service.NewTimetableGeneratorService(service.TimetableGeneratorDeps{
		Offerings:  store,
		Resources:  store,
		Strengths:  store,
		Ledger:     store,
		Timetables: store.Timetables(),
		Store:      store,
		Logger:     logr,
	}, service.TimetableGeneratorConfig{
		Strategy:        cfg.Scheduler.Strategy,
		RetryBudget:     cfg.Scheduler.RetryBudget,
		Seed:            cfg.Scheduler.Seed,
		TrackMultiBatch: cfg.Scheduler.TrackMultiBatch,
		MaxAttempts:     1,
	})

	req := dto.GenerateTimetableRequest{
		Year:           opts.year,
		Semester:       opts.semester,
		Specialization: opts.specialization,
		Seed:           opts.seed,
		Strategy:       opts.strategy,
	}
	result, err := generator.Generate(ctx, req)
	if err != nil {
		return err
	}
	for _, warning := range result.Warnings {
		logr.Warn("generation warning",
			zap.String("kind", string(warning.Kind)),
			zap.Int("batch", warning.Batch),
			zap.String("subject", warning.Subject),
			zap.String("message", warning.Message),
		)
	}

	body, err := render(ctx, store, result, opts)
	if err != nil {
		return err
	}
	if err := write(opts.out, stdout, body); err != nil {
		return err
	}

	if opts.ledger != "" {
		snapshot, err := store.Load(ctx)
		if err != nil {
			return err
		}
		if err := writeLedger(opts.ledger, snapshot); err != nil {
			return err
		}
	}
	logr.Info("timetables generated",
		zap.String("key", result.Key.String()),
		zap.Int("batches", result.Stats.Batches),
		zap.Int("warnings", len(result.Warnings)),
		zap.Int64("seed", result.Stats.Seed),
	)
	return nil
}

func parseFlags(args []string, cfg *config.Config) (options, error) {
	var opts options
	flags := pflag.NewFlagSet("timetable-cli", pflag.ContinueOnError)
	flags.StringVarP(&opts.catalog, "catalog", "c", "", "catalog directory of CSV files or a YAML file")
	flags.IntVarP(&opts.year, "year", "y", 0, "year to generate (1-4)")
	flags.IntVarP(&opts.semester, "semester", "s", 0, "semester to generate (1-8)")
	flags.StringVar(&opts.specialization, "specialization", "", "specialization, empty for the general programme")
	flags.Int64Var(&opts.seed, "seed", cfg.Scheduler.Seed, "random seed, 0 picks one from the clock")
	flags.StringVar(&opts.strategy, "strategy", cfg.Scheduler.Strategy, "placement strategy: random or scan")
	flags.StringVarP(&opts.format, "format", "f", "json", "output format: json, csv or pdf")
	flags.IntVar(&opts.batch, "batch", 0, "export a single batch, 0 exports every batch")
	flags.StringVarP(&opts.out, "out", "o", "", "output file, stdout when empty")
	flags.StringVar(&opts.ledger, "ledger", "", "JSON ledger file read before and written after the run")
	if err := flags.Parse(args); err != nil {
		return opts, err
	}
	if opts.catalog == "" {
		return opts, errors.New("--catalog is required")
	}
	switch opts.format {
	case "json", service.FormatCSV, service.FormatPDF:
	default:
		return opts, fmt.Errorf("unsupported format %q", opts.format)
	}
	return opts, nil
}

func render(ctx context.Context, store *memory.Store, result *dto.GenerateTimetableResponse, opts options) ([]byte, error) {
	if opts.format == "json" {
		return json.MarshalIndent(result, "", "  ")
	}
	queries := service.NewTimetableService(store.Timetables(), store, store, nil, nil, nil, service.TimetableServiceConfig{})
	file, err := queries.Export(ctx, dto.TimetableQuery{
		Year:           result.Key.Year,
		Semester:       result.Key.Semester,
		Specialization: result.Key.Specialization,
	}, opts.batch, opts.format)
	if err != nil {
		return nil, err
	}
	return file.Body, nil
}

func write(path string, stdout io.Writer, body []byte) error {
	if path == "" {
		_, err := stdout.Write(body)
		return err
	}
	if err := os.WriteFile(path, body, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

func readLedger(path string) (*models.LedgerSnapshot, error) {
	payload, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return &models.LedgerSnapshot{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read ledger %s: %w", path, err)
	}
	var snapshot models.LedgerSnapshot
	if err := json.Unmarshal(payload, &snapshot); err != nil {
		return nil, fmt.Errorf("decode ledger %s: %w", path, err)
	}
	return &snapshot, nil
}

func writeLedger(path string, snapshot *models.LedgerSnapshot) error {
	payload, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("encode ledger: %w", err)
	}
	if err := os.WriteFile(path, payload, 0o644); err != nil {
		return fmt.Errorf("write ledger %s: %w", path, err)
	}
	return nil
}
