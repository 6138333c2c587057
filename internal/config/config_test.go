package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{
		"PORT", "ALLOWED_ORIGIN", "DATABASE_URL", "REDIS_ADDR", "REDIS_DB",
		"DEFAULT_BRANCH_ID", "CACHE_TTL_SECONDS", "EVENTS_CHANNEL",
		"AUTH_SECRET", "ACCESS_TOKEN_TTL_MINUTES", "OWNER_PRIMARY", "OWNER_SECONDARY",
	} {
		t.Setenv(key, "")
	}

	cfg := Load()
	if cfg.Port != "8080" {
		t.Fatalf("expected default port 8080, got %s", cfg.Port)
	}
	if cfg.Address() != ":8080" {
		t.Fatalf("unexpected address %s", cfg.Address())
	}
	if cfg.BranchID != "main" {
		t.Fatalf("expected default branch main, got %s", cfg.BranchID)
	}
	if cfg.CacheTTLSeconds != 30 || cfg.AccessTokenTTLMinutes != 480 {
		t.Fatalf("unexpected TTL defaults: %d %d", cfg.CacheTTLSeconds, cfg.AccessTokenTTLMinutes)
	}
	if cfg.EventsChannel != "kapehan:orders" {
		t.Fatalf("unexpected events channel %s", cfg.EventsChannel)
	}
	if cfg.OwnerPrimary != "mara" || cfg.OwnerSecondary != "jojo" {
		t.Fatalf("unexpected owners: %s %s", cfg.OwnerPrimary, cfg.OwnerSecondary)
	}
}

func TestLoadOverridesAndBadNumbers(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("CACHE_TTL_SECONDS", "not-a-number")
	t.Setenv("ACCESS_TOKEN_TTL_MINUTES", "-5")
	t.Setenv("AUTH_SECRET", "  secret-with-padding  ")
	t.Setenv("DEFAULT_BRANCH_ID", "annex")

	cfg := Load()
	if cfg.Port != "9090" || cfg.BranchID != "annex" {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
	if cfg.CacheTTLSeconds != 30 || cfg.AccessTokenTTLMinutes != 480 {
		t.Fatalf("bad numbers should fall back to defaults: %d %d", cfg.CacheTTLSeconds, cfg.AccessTokenTTLMinutes)
	}
	if cfg.AuthSecret != "secret-with-padding" {
		t.Fatalf("secret should be trimmed, got %q", cfg.AuthSecret)
	}
}
