package main

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/pyroalert/authcore/internal/db"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := newRootCommand(&out, &errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestRootRegistersSubcommands(t *testing.T) {
	cmd := newRootCommand(&bytes.Buffer{}, &bytes.Buffer{})
	want := map[string]bool{"serve": false, "migrate": false, "seed-admin": false, "sweep": false}
	for _, sub := range cmd.Commands() {
		name := strings.Fields(sub.Use)[0]
		if _, ok := want[name]; ok {
			want[name] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Fatalf("subcommand %s not registered", name)
		}
	}
}

func TestSeedAdminRequiresCredentials(t *testing.T) {
	if _, err := run(t, "seed-admin", "--email", "admin@example.com"); err == nil {
		t.Fatalf("expected error without --password")
	}
}

func TestMigrateRequiresDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("STORAGE_DRIVER", "redis")
	if _, err := run(t, "migrate", "up"); !errors.Is(err, db.ErrNoDSN) {
		t.Fatalf("expected ErrNoDSN, got %v", err)
	}
}

func TestServeRejectsDevWithPostgres(t *testing.T) {
	t.Setenv("STORAGE_DRIVER", "postgres")
	t.Setenv("DATABASE_URL", "postgres://localhost/authcore")
	if _, err := run(t, "serve", "--dev"); !errors.Is(err, errDevStorage) {
		t.Fatalf("expected errDevStorage, got %v", err)
	}
}

func TestMissingEnvFile(t *testing.T) {
	if _, err := run(t, "sweep", "--env-file", t.TempDir()+"/missing.env"); err == nil {
		t.Fatalf("expected error for a missing --env-file")
	}
}
