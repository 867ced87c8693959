package main

import (
	"context"
	"path/filepath"
	"testing"

	"example.com/planwidget/internal/ledger"
	"example.com/planwidget/internal/sqliteutil"
)

func TestRootCommands(t *testing.T) {
	root := newRootCmd()
	want := map[string]bool{"serve": false, "worker": false, "migrate": false}
	for _, c := range root.Commands() {
		if _, ok := want[c.Name()]; ok {
			want[c.Name()] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Errorf("missing subcommand %q", name)
		}
	}
	if root.PersistentFlags().Lookup("config") == nil {
		t.Error("missing --config flag")
	}
}

func TestMigrateCreatesSchema(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "ledger.db")
	t.Setenv("PLANWIDGET_STORAGE__SQLITE__PATH", dbPath)
	t.Setenv("PLANWIDGET_LOG__LEVEL", "error")

	root := newRootCmd()
	root.SetArgs([]string{"migrate", "--config", filepath.Join(dir, "missing.yaml")})
	if err := root.Execute(); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	db, err := sqliteutil.Open(dbPath)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()
	store := ledger.NewStore(db)
	if _, err := store.CreateSession(context.Background(), ledger.NewSession{PlanID: "aspen", BuilderSlug: "oak-ridge", AnonymousID: "anon"}); err != nil {
		t.Fatalf("schema missing after migrate: %v", err)
	}
}

func TestServeRequiresWebhook(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("PLANWIDGET_STORAGE__SQLITE__PATH", filepath.Join(dir, "ledger.db"))
	t.Setenv("PLANWIDGET_LOG__LEVEL", "error")
	t.Setenv("PLANWIDGET_GENERATOR__WEBHOOK_URL", "")

	root := newRootCmd()
	root.SetArgs([]string{"serve", "--config", filepath.Join(dir, "missing.yaml")})
	if err := root.Execute(); err == nil {
		t.Fatal("serve without webhook url should fail")
	}
}
