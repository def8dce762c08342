package db

import (
	"testing"
	"time"
)

func TestPoolConfig(t *testing.T) {
	cfg, err := poolConfig("postgres://u:p@localhost:5432/clinote", 20, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.MaxConns != 20 || cfg.MinConns != 2 {
		t.Errorf("unexpected pool size %d/%d", cfg.MaxConns, cfg.MinConns)
	}
	if cfg.MaxConnIdleTime != 5*time.Minute {
		t.Errorf("unexpected idle time %s", cfg.MaxConnIdleTime)
	}
	if got := cfg.ConnConfig.RuntimeParams["application_name"]; got != ApplicationName {
		t.Errorf("expected application_name %q, got %q", ApplicationName, got)
	}
	if cfg.ConnConfig.Tracer == nil {
		t.Error("expected query tracer to be installed")
	}
}

func TestPoolConfig_KeepsExplicitApplicationName(t *testing.T) {
	cfg, err := poolConfig("postgres://u:p@localhost:5432/clinote?application_name=worker", 5, 1)
	if err != nil {
		t.Fatal(err)
	}
	if got := cfg.ConnConfig.RuntimeParams["application_name"]; got != "worker" {
		t.Errorf("expected application_name from url, got %q", got)
	}
}

func TestPoolConfig_MinAboveMaxIgnored(t *testing.T) {
	cfg, err := poolConfig("postgres://u:p@localhost:5432/clinote", 4, 10)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.MinConns > cfg.MaxConns {
		t.Errorf("min conns %d exceeds max %d", cfg.MinConns, cfg.MaxConns)
	}
}

func TestPoolConfig_InvalidURL(t *testing.T) {
	if _, err := poolConfig("postgres://%zz", 1, 0); err == nil {
		t.Fatal("expected error for malformed url")
	}
}

func TestOperationName(t *testing.T) {
	tests := map[string]string{
		"SELECT id FROM encounters":            "select",
		"\n\t\tUPDATE encounters SET status=$1": "update",
		"insert into audit_logs":               "insert",
		"":                                     "query",
	}
	for sql, want := range tests {
		if got := operationName(sql); got != want {
			t.Errorf("operationName(%q) = %q, want %q", sql, got, want)
		}
	}
}
