// Command fintrack runs one-off maintenance tasks against the ledger:
// applying migrations, processing due recurring transactions, checking
// stored balances against history and printing a month overview.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"fintrack/internal/cli"
	"fintrack/internal/config"
	"fintrack/internal/core"
	"fintrack/internal/log"
	"fintrack/internal/metrics"
	"fintrack/internal/services"
	"fintrack/internal/storage"
)

// errDrift is returned by reconcile when a stored balance disagrees with
// the transaction history.
var errDrift = errors.New("balance drift detected")

const usage = `usage: fintrack <command> [flags]

commands:
  migrate       apply schema migrations and print the version
  process-due   materialize due recurring transactions (-now YYYY-MM-DD)
  reconcile     compare stored balances with history (-owner ID)
  summary       income and expense of a month (-owner ID -month YYYY-MM)
  categories    system and owner categories (-owner ID [-type expense|income])
`

func main() {
	cli.LoadEnvFile()

	// Logs go to stderr so -json output stays parseable.
	logger := cli.SetupLoggerTo(log.ComponentCLI, os.Stderr)
	cfg := cli.LoadAndValidateConfig(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err := run(ctx, logger, cfg, os.Args[1:], os.Stdout)
	switch {
	case err == nil:
	case errors.Is(err, flag.ErrHelp):
		os.Exit(2)
	case errors.Is(err, errDrift):
		logger.Warn("Reconciliation found drift")
		os.Exit(3)
	default:
		logger.Error("Command failed", log.FieldError, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *log.Logger, cfg *config.Config, args []string, out io.Writer) error {
	if len(args) == 0 {
		fmt.Fprint(out, usage)
		return flag.ErrHelp
	}

	name, args := args[0], args[1:]
	switch name {
	case "migrate":
		return runMigrate(cfg, args, out)
	case "process-due":
		return runProcessDue(ctx, cfg, args, out)
	case "reconcile":
		return runReconcile(ctx, cfg, args, out)
	case "summary":
		return runSummary(ctx, cfg, args, out)
	case "categories":
		return runCategories(ctx, logger, cfg, args, out)
	case "help", "-h", "--help":
		fmt.Fprint(out, usage)
		return nil
	default:
		fmt.Fprint(out, usage)
		return fmt.Errorf("unknown command %q", name)
	}
}

func newFlagSet(name string, out io.Writer) (*flag.FlagSet, *bool) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(out)
	asJSON := fs.Bool("json", false, "print JSON instead of text")
	return fs, asJSON
}

// app holds the services a command needs, built over one repository.
type app struct {
	repo         *storage.SQLiteRepository
	transactions *services.TransactionService
	accounts     *services.AccountService
	scheduler    *services.RecurringScheduler
}

func openApp(cfg *config.Config) (*app, error) {
	m := metrics.NewMetrics()
	repo, err := storage.NewSQLiteRepository(cfg.SQLiteDBPath,
		storage.WithRetry(cfg.StoreMaxRetries, cfg.StoreRetryBackoff),
	)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}

	// One-off commands do not publish events; the workers pick changes up
	// through their periodic sweeps.
	opts := cli.ServiceOptions(cfg, m)
	transactions := services.NewTransactionService(repo, nil, opts...)
	return &app{
		repo:         repo,
		transactions: transactions,
		accounts:     services.NewAccountService(repo, transactions, opts...),
		scheduler: services.NewRecurringScheduler(repo, transactions, services.SchedulerConfig{
			Concurrency:   cfg.RecurringConcurrency,
			MaxCatchUp:    cfg.RecurringMaxCatchUp,
			RecordTimeout: cfg.RecurringRecordTimeout,
		}, opts...),
	}, nil
}

func runMigrate(cfg *config.Config, args []string, out io.Writer) error {
	fs, asJSON := newFlagSet("migrate", out)
	if err := fs.Parse(args); err != nil {
		return err
	}

	if err := storage.RunMigrations(cfg.SQLiteDBPath); err != nil {
		return err
	}
	version, dirty, err := storage.MigrationVersion(cfg.SQLiteDBPath)
	if err != nil {
		return err
	}

	if *asJSON {
		return writeJSON(out, map[string]any{"version": version, "dirty": dirty})
	}
	fmt.Fprintf(out, "schema version %d (dirty: %t)\n", version, dirty)
	return nil
}

func runProcessDue(ctx context.Context, cfg *config.Config, args []string, out io.Writer) error {
	fs, asJSON := newFlagSet("process-due", out)
	nowFlag := fs.String("now", "", "processing date YYYY-MM-DD (default today)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	now := time.Now()
	if *nowFlag != "" {
		d, err := core.ParseDate(*nowFlag)
		if err != nil {
			return fmt.Errorf("parse -now %q: %w", *nowFlag, err)
		}
		now = d.Time
	}

	a, err := openApp(cfg)
	if err != nil {
		return err
	}
	defer a.repo.Close()

	result, err := a.scheduler.ProcessDue(ctx, now)
	if err != nil {
		return err
	}

	if *asJSON {
		failures := make([]map[string]any, 0, len(result.Errors))
		for _, e := range result.Errors {
			failures = append(failures, map[string]any{
				"recurring_id": e.RecurringID,
				"owner_id":     e.OwnerID,
				"paused":       e.Paused,
				"error":        e.Err.Error(),
			})
		}
		if err := writeJSON(out, map[string]any{
			"processed": result.Processed,
			"created":   result.Created,
			"exhausted": result.Exhausted,
			"failed":    result.Failed,
			"failures":  failures,
		}); err != nil {
			return err
		}
	} else {
		fmt.Fprintf(out, "processed %d schedules: %d transactions created, %d exhausted, %d failed\n",
			result.Processed, result.Created, result.Exhausted, result.Failed)
		for _, e := range result.Errors {
			fmt.Fprintf(out, "  %s (owner %s): %v", e.RecurringID, e.OwnerID, e.Err)
			if e.Paused {
				fmt.Fprint(out, " [paused]")
			}
			fmt.Fprintln(out)
		}
	}
	return result.Err()
}

func runReconcile(ctx context.Context, cfg *config.Config, args []string, out io.Writer) error {
	fs, asJSON := newFlagSet("reconcile", out)
	owner := fs.String("owner", "", "owner ID (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(*owner) == "" {
		return errors.New("reconcile: -owner is required")
	}

	a, err := openApp(cfg)
	if err != nil {
		return err
	}
	defer a.repo.Close()

	report, err := a.accounts.Reconcile(ctx, *owner)
	if err != nil {
		return err
	}
	drifted := 0
	for _, d := range report {
		if !d.Consistent() {
			drifted++
		}
	}

	if *asJSON {
		rows := make([]map[string]any, 0, len(report))
		for _, d := range report {
			rows = append(rows, map[string]any{
				"account_id": d.AccountID,
				"name":       d.Name,
				"stored":     d.Stored.String(),
				"computed":   d.Computed.String(),
				"consistent": d.Consistent(),
			})
		}
		if err := writeJSON(out, map[string]any{"owner_id": *owner, "accounts": rows}); err != nil {
			return err
		}
	} else {
		for _, d := range report {
			if d.Consistent() {
				fmt.Fprintf(out, "ok     %s (%s): %s\n", d.Name, d.AccountID, d.Stored)
				continue
			}
			fmt.Fprintf(out, "DRIFT  %s (%s): stored %s, computed %s, drift %s\n",
				d.Name, d.AccountID, d.Stored, d.Computed, d.Drift())
		}
	}

	if drifted > 0 {
		return fmt.Errorf("%w in %d of %d accounts", errDrift, drifted, len(report))
	}
	return nil
}

func runSummary(ctx context.Context, cfg *config.Config, args []string, out io.Writer) error {
	fs, asJSON := newFlagSet("summary", out)
	owner := fs.String("owner", "", "owner ID (required)")
	month := fs.String("month", time.Now().Format("2006-01"), "month YYYY-MM")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(*owner) == "" {
		return errors.New("summary: -owner is required")
	}
	m, err := time.Parse("2006-01", *month)
	if err != nil {
		return fmt.Errorf("parse -month %q: %w", *month, err)
	}

	a, err := openApp(cfg)
	if err != nil {
		return err
	}
	defer a.repo.Close()

	overview, err := a.transactions.MonthOverview(ctx, *owner, m.Year(), int(m.Month()))
	if err != nil {
		return err
	}

	if *asJSON {
		categories := make([]map[string]any, 0, len(overview.ByCategory))
		for _, c := range overview.ByCategory {
			categories = append(categories, map[string]any{
				"category_id": c.CategoryID,
				"name":        c.Name,
				"type":        c.Type,
				"amount":      c.Amount.String(),
			})
		}
		return writeJSON(out, map[string]any{
			"owner_id":    overview.OwnerID,
			"year":        overview.Year,
			"month":       overview.Month,
			"income":      overview.Income.String(),
			"expense":     overview.Expense.String(),
			"net":         overview.Net().String(),
			"by_category": categories,
		})
	}

	fmt.Fprintf(out, "%s %04d-%02d\n", overview.OwnerID, overview.Year, overview.Month)
	fmt.Fprintf(out, "  income   %12s\n", overview.Income)
	fmt.Fprintf(out, "  expense  %12s\n", overview.Expense)
	fmt.Fprintf(out, "  net      %12s\n", overview.Net())
	for _, c := range overview.ByCategory {
		fmt.Fprintf(out, "  %-8s %-20s %12s\n", c.Type, c.Name, c.Amount)
	}
	return nil
}

func runCategories(ctx context.Context, logger *log.Logger, cfg *config.Config, args []string, out io.Writer) error {
	fs, asJSON := newFlagSet("categories", out)
	owner := fs.String("owner", "", "owner ID (required)")
	catType := fs.String("type", "", "only expense or income categories")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(*owner) == "" {
		return errors.New("categories: -owner is required")
	}
	switch core.CategoryType(*catType) {
	case "", core.CategoryExpense, core.CategoryIncome:
	default:
		return fmt.Errorf("categories: unknown -type %q", *catType)
	}

	a, err := openApp(cfg)
	if err != nil {
		return err
	}
	defer a.repo.Close()

	categoryCache, closeCache := cli.NewCategoryCache(ctx, logger, cfg, nil)
	defer closeCache()
	categoryService := services.NewCategoryService(a.repo, categoryCache, cli.ServiceOptions(cfg, nil)...)

	var categories []core.Category
	if *catType == "" {
		categories, err = categoryService.List(ctx, *owner)
	} else {
		categories, err = categoryService.ListByType(ctx, *owner, core.CategoryType(*catType))
	}
	if err != nil {
		return err
	}

	if *asJSON {
		rows := make([]map[string]any, 0, len(categories))
		for _, c := range categories {
			rows = append(rows, map[string]any{
				"id":     c.ID,
				"name":   c.Name,
				"type":   c.Type,
				"system": c.System,
			})
		}
		return writeJSON(out, map[string]any{"owner_id": *owner, "categories": rows})
	}
	for _, c := range categories {
		scope := "own"
		if c.System {
			scope = "system"
		}
		fmt.Fprintf(out, "%-8s %-7s %-24s %s\n", c.Type, scope, c.Name, c.ID)
	}
	return nil
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
