package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// tradeReady fills in the fields Defaults leaves empty so trade mode validates.
func tradeReady() Config {
	cfg := Defaults()
	cfg.Feed.WsURL = "wss://relay.example.com/ws"
	cfg.Feed.Handles = []string{"cryptokol"}
	cfg.SpotVenue.BaseURL = "https://aggregator.example.com/v1"
	cfg.PerpVenue.BaseURL = "https://perp.example.com/v1"
	cfg.PerpVenue.ApiKey = "key"
	cfg.PerpVenue.ApiSecret = "secret"
	cfg.Wallet.PrivateKey = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"
	return cfg
}

func TestValidateTradeConfig(t *testing.T) {
	cfg := tradeReady()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("trade config invalid: %v", err)
	}
}

func TestValidateRequiresVenuesInTradeMode(t *testing.T) {
	cfg := Defaults()
	cfg.Feed.WsURL = "wss://relay.example.com/ws"
	cfg.Feed.Handles = []string{"cryptokol"}

	err := cfg.Validate()
	if err == nil {
		t.Fatal("trade mode without venue credentials validated")
	}
	for _, want := range []string{"spot_venue", "perp_venue", "wallet"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error does not mention %s: %v", want, err)
		}
	}
}

func TestValidateMonitorModeSkipsVenueChecks(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "monitor"
	cfg.Feed.WsURL = "wss://relay.example.com/ws"
	cfg.Feed.Handles = []string{"cryptokol"}

	if err := cfg.Validate(); err != nil {
		t.Fatalf("monitor config invalid: %v", err)
	}
}

func TestValidateReplayModeRequiresFile(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "replay"

	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "replay: file") {
		t.Fatalf("err = %v, want replay file requirement", err)
	}

	cfg.Replay.File = "posts.jsonl"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("replay config invalid: %v", err)
	}
}

func TestValidateAggregatesErrors(t *testing.T) {
	cfg := tradeReady()
	cfg.Mode = "bogus"
	cfg.Coordinator.Workers = 0
	cfg.Coordinator.SpotExitFraction = 2

	err := cfg.Validate()
	if err == nil {
		t.Fatal("invalid config validated")
	}
	for _, want := range []string{"unknown mode", "workers", "spot_exit_fraction"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error does not mention %q: %v", want, err)
		}
	}
}

func TestValidatePoolBounds(t *testing.T) {
	cfg := tradeReady()
	cfg.Database.PoolMinConns = 20
	cfg.Database.PoolMaxConns = 10

	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "pool_min_conns") {
		t.Fatalf("err = %v, want pool bound violation", err)
	}
}

func TestDurationUnmarshalText(t *testing.T) {
	var d duration
	if err := d.UnmarshalText([]byte("90s")); err != nil {
		t.Fatal(err)
	}
	if d.Duration != 90*time.Second {
		t.Fatalf("duration = %s, want 90s", d.Duration)
	}
	if err := d.UnmarshalText([]byte("not a duration")); err == nil {
		t.Fatal("garbage duration parsed")
	}
}

func TestLoadMergesFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	body := `
mode = "monitor"

[feed]
ws_url = "wss://relay.example.com/ws"
handles = ["cryptokol", "degentrader"]
warmup = "30s"

[coordinator]
budget = "2m"
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}

	t.Setenv("KOLBOT_MODE", "replay")
	t.Setenv("KOLBOT_REPLAY_FILE", "posts.jsonl")
	t.Setenv("KOLBOT_FEED_HANDLES", "onlykol")
	t.Setenv("KOLBOT_COORDINATOR_MAX_ATTEMPTS", "7")

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	// Env beats file beats defaults.
	if cfg.Mode != "replay" {
		t.Fatalf("mode = %q, want env override", cfg.Mode)
	}
	if cfg.Replay.File != "posts.jsonl" {
		t.Fatalf("replay file = %q", cfg.Replay.File)
	}
	if len(cfg.Feed.Handles) != 1 || cfg.Feed.Handles[0] != "onlykol" {
		t.Fatalf("handles = %v, want env override", cfg.Feed.Handles)
	}
	if cfg.Coordinator.MaxAttempts != 7 {
		t.Fatalf("max attempts = %d, want 7", cfg.Coordinator.MaxAttempts)
	}

	// File values not overridden by env.
	if cfg.Feed.Warmup.Duration != 30*time.Second {
		t.Fatalf("warmup = %s, want 30s from file", cfg.Feed.Warmup.Duration)
	}
	if cfg.Coordinator.Budget.Duration != 2*time.Minute {
		t.Fatalf("budget = %s, want 2m from file", cfg.Coordinator.Budget.Duration)
	}

	// Defaults fill the rest.
	if cfg.Coordinator.Workers != 4 {
		t.Fatalf("workers = %d, want default 4", cfg.Coordinator.Workers)
	}

	if err := cfg.Validate(); err != nil {
		t.Fatalf("loaded config invalid: %v", err)
	}
}
