package config

import (
	"testing"

	"github.com/cdeskio/activity-gateway/internal/core"
)

func validConfig() *Config {
	var cfg Config
	cfg.Server = ServerConfig{Port: 8090, Host: "0.0.0.0"}
	cfg.Log.Level = "info"
	cfg.Ingest.Dir = "/tmp/activity-gateway"
	cfg.Accounts = []core.AccountConfig{{Username: "svc_primary", Priority: 0}}
	return &cfg
}

func TestValidate_AcceptsMinimalValidConfig(t *testing.T) {
	cfg := validConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected valid config, got error: %v", err)
	}
}

func TestValidate_RejectsOutOfRangePort(t *testing.T) {
	cfg := validConfig()
	cfg.Server.Port = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for invalid port")
	}
}

func TestValidate_RejectsEmptyHost(t *testing.T) {
	cfg := validConfig()
	cfg.Server.Host = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for empty host")
	}
}

func TestValidate_RejectsEmptyLogLevel(t *testing.T) {
	cfg := validConfig()
	cfg.Log.Level = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for empty log level")
	}
}

func TestValidate_RejectsEmptyIngestDir(t *testing.T) {
	cfg := validConfig()
	cfg.Ingest.Dir = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for empty ingest dir")
	}
}

func TestValidate_RejectsNoAccounts(t *testing.T) {
	cfg := validConfig()
	cfg.Accounts = nil
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for no accounts")
	}
}

func TestValidate_RejectsAllAccountsDisabled(t *testing.T) {
	cfg := validConfig()
	cfg.Accounts = []core.AccountConfig{{Username: "svc_primary", Disabled: true}}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error when every account is disabled")
	}
}

func TestValidate_RejectsDuplicateAccountUsernames(t *testing.T) {
	cfg := validConfig()
	cfg.Accounts = []core.AccountConfig{
		{Username: "svc_primary"},
		{Username: "svc_primary"},
	}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for duplicate account usernames")
	}
}

func TestValidate_RejectsEmptyAccountUsername(t *testing.T) {
	cfg := validConfig()
	cfg.Accounts = []core.AccountConfig{{Username: ""}}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for empty account username")
	}
}

func TestIsDevelopment_TrueOnlyForDebugLevel(t *testing.T) {
	cfg := validConfig()
	cfg.Log.Level = "debug"
	if !cfg.IsDevelopment() {
		t.Error("expected IsDevelopment true for debug level")
	}
	cfg.Log.Level = "info"
	if cfg.IsDevelopment() {
		t.Error("expected IsDevelopment false for info level")
	}
}
