package main

import (
	"bytes"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/clinote/clinote/internal/config"
	"github.com/clinote/clinote/internal/platform/db"
)

func TestRootCmd_Subcommands(t *testing.T) {
	root := newRootCmd()

	for _, path := range [][]string{
		{"serve"},
		{"migrate", "up"},
		{"migrate", "status"},
		{"migrate", "down"},
		{"user", "create"},
	} {
		cmd, _, err := root.Find(path)
		if err != nil {
			t.Fatalf("Find(%v): %v", path, err)
		}
		if cmd.Name() != path[len(path)-1] {
			t.Errorf("Find(%v) = %q", path, cmd.Name())
		}
	}
}

func TestUserCreate_Flags(t *testing.T) {
	cmd, _, err := newRootCmd().Find([]string{"user", "create"})
	if err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"email", "name", "password", "role"} {
		if cmd.Flags().Lookup(name) == nil {
			t.Errorf("expected --%s flag", name)
		}
	}
	if got := cmd.Flags().Lookup("role").DefValue; got != "provider" {
		t.Errorf("expected default role provider, got %q", got)
	}
}

func TestMigrateCmd_DirFlagInherited(t *testing.T) {
	cmd, _, err := newRootCmd().Find([]string{"migrate", "status"})
	if err != nil {
		t.Fatal(err)
	}
	if cmd.InheritedFlags().Lookup("dir") == nil {
		t.Error("expected --dir to be inherited from migrate")
	}
}

func TestMigrationsFS_Embedded(t *testing.T) {
	names, err := fs.Glob(migrationsFS(""), "*.up.sql")
	if err != nil {
		t.Fatal(err)
	}
	if len(names) < 3 {
		t.Errorf("expected embedded up migrations, got %v", names)
	}
}

func TestMigrationsFS_Directory(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "001_init.up.sql"), []byte("SELECT 1;"), 0o644); err != nil {
		t.Fatal(err)
	}
	names, err := fs.Glob(migrationsFS(dir), "*.sql")
	if err != nil {
		t.Fatal(err)
	}
	if len(names) != 1 || names[0] != "001_init.up.sql" {
		t.Errorf("unexpected files: %v", names)
	}
}

func TestPrintStatus(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	var buf bytes.Buffer
	printStatus(&buf, []db.MigrationStatus{
		{Version: 1, Name: "users", Applied: true, AppliedAt: &at},
		{Version: 2, Name: "encounters"},
	})

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if len(lines) != 4 {
		t.Fatalf("expected header, rule and 2 rows, got %d lines:\n%s", len(lines), buf.String())
	}
	if !strings.Contains(lines[2], "applied") || !strings.Contains(lines[2], "2026-01-02 03:04:05") {
		t.Errorf("unexpected applied row: %q", lines[2])
	}
	if !strings.Contains(lines[3], "pending") {
		t.Errorf("unexpected pending row: %q", lines[3])
	}
}

func TestSigningKey(t *testing.T) {
	dev := &config.Config{Env: "development"}
	if string(signingKey(dev)) != devSigningKey {
		t.Error("expected development fallback key")
	}

	prod := &config.Config{Env: "production", JWTSecretKey: strings.Repeat("s", 32)}
	if string(signingKey(prod)) != prod.JWTSecretKey {
		t.Error("expected configured key")
	}

	staging := &config.Config{Env: "staging"}
	if len(signingKey(staging)) != 0 {
		t.Error("expected no fallback outside development")
	}
}

func TestRateLimitConfig(t *testing.T) {
	rl := rateLimitConfig(&config.Config{RateLimitRPS: 5, RateLimitBurst: 10})
	if rl.RequestsPerSecond != 5 || rl.BurstSize != 10 {
		t.Errorf("unexpected config: %+v", rl)
	}

	rl = rateLimitConfig(&config.Config{})
	if rl.RequestsPerSecond != 50 || rl.BurstSize != 100 {
		t.Errorf("expected defaults, got %+v", rl)
	}
	if rl.IdleTTL <= 0 {
		t.Error("expected idle ttl from defaults")
	}
}
