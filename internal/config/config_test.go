package config

import "testing"

func TestLoadReadsCriticalEnvKeys(t *testing.T) {
	t.Setenv("HERMOD_DB_BACKEND", "sqlite")
	t.Setenv("HERMOD_DB_DSN", "state.db")
	t.Setenv("HERMOD_ZONE_CONFIG", "/etc/hermod/zones.json")
	t.Setenv("HERMOD_ENV", "development")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.DBDSN != "state.db" {
		t.Fatalf("unexpected db dsn: %q", cfg.DBDSN)
	}
	if cfg.ZoneConfigPath != "/etc/hermod/zones.json" {
		t.Fatalf("unexpected zone config path: %q", cfg.ZoneConfigPath)
	}
	if cfg.FallbackDevice != 2 {
		t.Fatalf("unexpected default fallback device: %d", cfg.FallbackDevice)
	}
}

func TestLoadReportsLegacyEnvWarnings(t *testing.T) {
	t.Setenv("HERMOD_DB_DSN", "state.db")
	t.Setenv("ZONE_CONFIG", "/opt/pa/zone_config.json")
	t.Setenv("PIPER_PATH", "/usr/local/bin/piper")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if len(cfg.LegacyEnvWarnings) == 0 {
		t.Fatal("expected legacy env warnings")
	}
}

func TestLoadProductionRequiresRealSigningKey(t *testing.T) {
	t.Setenv("HERMOD_DB_DSN", "state.db")
	t.Setenv("HERMOD_ENV", "production")
	t.Setenv("HERMOD_JWT_SIGNING_KEY", "")

	if _, err := Load(); err == nil {
		t.Fatal("expected production config load to fail with the default signing key")
	}

	t.Setenv("HERMOD_JWT_SIGNING_KEY", "supersecret")
	if _, err := Load(); err != nil {
		t.Fatalf("expected production config load with a real signing key to succeed: %v", err)
	}
}

func TestLoadRejectsZombieTimeoutBelowHeartbeat(t *testing.T) {
	t.Setenv("HERMOD_DB_DSN", "state.db")
	t.Setenv("HERMOD_HEARTBEAT_TIMEOUT_SECONDS", "30")
	t.Setenv("HERMOD_ZOMBIE_TIMEOUT_SECONDS", "20")

	if _, err := Load(); err == nil {
		t.Fatal("expected config load to fail when zombie timeout does not exceed heartbeat timeout")
	}
}

func TestIsAdminMatchesCaseInsensitive(t *testing.T) {
	t.Setenv("HERMOD_DB_DSN", "state.db")
	t.Setenv("HERMOD_ADMIN_USERS", "admin, Facilities ")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if !cfg.IsAdmin("ADMIN") {
		t.Fatal("expected ADMIN to be an administrator")
	}
	if !cfg.IsAdmin("facilities") {
		t.Fatal("expected facilities to be an administrator")
	}
	if cfg.IsAdmin("visitor") {
		t.Fatal("expected visitor not to be an administrator")
	}
}
