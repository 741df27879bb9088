package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"io"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"fintrack/internal/config"
	"fintrack/internal/core"
	"fintrack/internal/log"
	"fintrack/internal/services"
	"fintrack/internal/storage"
)

const owner = "user-1"

var testLogger = log.New(log.Config{Component: log.ComponentCLI, Output: io.Discard})

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		SQLiteDBPath:           filepath.Join(t.TempDir(), "ledger.db"),
		StoreMaxRetries:        3,
		StoreRetryBackoff:      10 * time.Millisecond,
		OperationTimeout:       10 * time.Second,
		RecurringConcurrency:   2,
		RecurringMaxCatchUp:    100,
		RecurringRecordTimeout: 10 * time.Second,
		CacheBackend:           config.CacheMemory,
		CacheTTL:               time.Minute,
		CacheSize:              16,
	}
}

// seed creates one account with a daily expense schedule starting
// 2024-01-01 and returns the account ID.
func seed(t *testing.T, cfg *config.Config) string {
	t.Helper()
	ctx := context.Background()
	repo, err := storage.NewSQLiteRepository(cfg.SQLiteDBPath)
	if err != nil {
		t.Fatalf("NewSQLiteRepository() error = %v", err)
	}
	defer repo.Close()

	txs := services.NewTransactionService(repo, nil)
	account, err := services.NewAccountService(repo, txs).Create(ctx, owner, core.AccountInput{
		Name:           "Checking",
		Type:           core.AccountBank,
		Currency:       "EUR",
		OpeningBalance: core.NewMoney(10000),
	})
	if err != nil {
		t.Fatalf("create account: %v", err)
	}
	_, err = services.NewRecurringService(repo).Create(ctx, owner, core.RecurringTransaction{
		Type:        core.Expense,
		Amount:      core.NewMoney(1000),
		Description: "Coffee",
		AccountID:   account.ID,
		CategoryID:  "sys-exp-groceries",
		Frequency:   core.Daily,
		Interval:    1,
		StartDate:   core.NewDate(2024, 1, 1),
	})
	if err != nil {
		t.Fatalf("create schedule: %v", err)
	}
	return account.ID
}

func runJSON(t *testing.T, cfg *config.Config, args ...string) (map[string]any, error) {
	t.Helper()
	var out bytes.Buffer
	err := run(context.Background(), testLogger, cfg, append(args, "-json"), &out)
	var body map[string]any
	if decodeErr := json.Unmarshal(out.Bytes(), &body); decodeErr != nil {
		t.Fatalf("%s output is not JSON: %v\n%s", args[0], decodeErr, out.String())
	}
	return body, err
}

func TestMigrate(t *testing.T) {
	cfg := testConfig(t)

	var out bytes.Buffer
	if err := run(context.Background(), testLogger, cfg, []string{"migrate"}, &out); err != nil {
		t.Fatalf("migrate error = %v", err)
	}
	if !strings.Contains(out.String(), "dirty: false") {
		t.Errorf("migrate output = %q, want a clean schema version", out.String())
	}
}

func TestProcessDueThenSummary(t *testing.T) {
	cfg := testConfig(t)
	seed(t, cfg)

	body, err := runJSON(t, cfg, "process-due", "-now", "2024-01-03")
	if err != nil {
		t.Fatalf("process-due error = %v", err)
	}
	if body["created"] != float64(3) || body["failed"] != float64(0) {
		t.Errorf("process-due = %v, want 3 created and no failures", body)
	}

	// A second run on the same day has nothing left to do.
	body, err = runJSON(t, cfg, "process-due", "-now", "2024-01-03")
	if err != nil {
		t.Fatalf("second process-due error = %v", err)
	}
	if body["created"] != float64(0) {
		t.Errorf("second process-due created = %v, want 0", body["created"])
	}

	body, err = runJSON(t, cfg, "summary", "-owner", owner, "-month", "2024-01")
	if err != nil {
		t.Fatalf("summary error = %v", err)
	}
	if body["expense"] != "30.00" {
		t.Errorf("summary expense = %v, want 30.00", body["expense"])
	}
}

func TestReconcile(t *testing.T) {
	cfg := testConfig(t)
	accountID := seed(t, cfg)

	body, err := runJSON(t, cfg, "reconcile", "-owner", owner)
	if err != nil {
		t.Fatalf("reconcile error = %v", err)
	}
	if accounts, _ := body["accounts"].([]any); len(accounts) != 1 {
		t.Fatalf("reconcile accounts = %v, want 1", body["accounts"])
	}

	repo, err := storage.NewSQLiteRepository(cfg.SQLiteDBPath)
	if err != nil {
		t.Fatalf("NewSQLiteRepository() error = %v", err)
	}
	if err := repo.AdjustBalance(context.Background(), owner, accountID, 42, false); err != nil {
		t.Fatalf("AdjustBalance() error = %v", err)
	}
	repo.Close()

	_, err = runJSON(t, cfg, "reconcile", "-owner", owner)
	if !errors.Is(err, errDrift) {
		t.Errorf("reconcile after tampering error = %v, want errDrift", err)
	}
}

func TestCategories(t *testing.T) {
	cfg := testConfig(t)
	seed(t, cfg)

	body, err := runJSON(t, cfg, "categories", "-owner", owner, "-type", "expense")
	if err != nil {
		t.Fatalf("categories error = %v", err)
	}
	rows, _ := body["categories"].([]any)
	if len(rows) == 0 {
		t.Fatal("categories returned no system expense categories")
	}
	for _, r := range rows {
		row := r.(map[string]any)
		if row["type"] != "expense" {
			t.Errorf("category %v has type %v, want expense", row["name"], row["type"])
		}
	}
}

func TestRunArguments(t *testing.T) {
	cfg := testConfig(t)

	tests := []struct {
		name    string
		args    []string
		wantErr string
		wantIs  error
	}{
		{name: "no command", args: nil, wantIs: flag.ErrHelp},
		{name: "unknown command", args: []string{"export"}, wantErr: `unknown command "export"`},
		{name: "reconcile without owner", args: []string{"reconcile"}, wantErr: "-owner is required"},
		{name: "summary without owner", args: []string{"summary"}, wantErr: "-owner is required"},
		{name: "bad month", args: []string{"summary", "-owner", owner, "-month", "2024-13"}, wantErr: "parse -month"},
		{name: "bad date", args: []string{"process-due", "-now", "03/01/2024"}, wantIs: core.ErrInvalidDate},
		{name: "categories without owner", args: []string{"categories"}, wantErr: "-owner is required"},
		{name: "bad category type", args: []string{"categories", "-owner", owner, "-type", "transfer"}, wantErr: `unknown -type "transfer"`},
		{name: "unknown flag", args: []string{"migrate", "-force"}, wantErr: "flag provided but not defined"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			err := run(context.Background(), testLogger, cfg, tt.args, &out)
			if err == nil {
				t.Fatal("run() error = nil, want an error")
			}
			if tt.wantIs != nil && !errors.Is(err, tt.wantIs) {
				t.Errorf("run() error = %v, want %v", err, tt.wantIs)
			}
			if tt.wantErr != "" && !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("run() error = %v, want it to contain %q", err, tt.wantErr)
			}
		})
	}
}
