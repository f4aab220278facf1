package main

import (
	"testing"
	"time"
)

func TestEnvName(t *testing.T) {
	if got := envName("serial-read-timeout"); got != "DAS_ENCODER_SERIAL_READ_TIMEOUT" {
		t.Fatalf("envName: %s", got)
	}
}

func TestApplyEnvOverrides_Basic(t *testing.T) {
	cfg, fs := defaultConfig(t)
	t.Setenv("DAS_ENCODER_BAUD", "230400")
	t.Setenv("DAS_ENCODER_MDNS_ENABLE", "yes")
	t.Setenv("DAS_ENCODER_SERIAL_READ_TIMEOUT", "100ms")
	t.Setenv("DAS_ENCODER_LOG_METRICS_INTERVAL", "5s")
	t.Setenv("DAS_ENCODER_STOCK_BUS", "1")
	t.Setenv("DAS_ENCODER_RATE_LIMIT", "12.5")
	t.Setenv("DAS_ENCODER_BACKEND", " cannelloni ")

	if err := applyEnvOverrides(fs, map[string]struct{}{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.baud != 230400 {
		t.Fatalf("expected baud override, got %d", cfg.baud)
	}
	if !cfg.mdnsEnable {
		t.Fatalf("expected mdnsEnable true")
	}
	if cfg.serialReadTO != 100*time.Millisecond {
		t.Fatalf("expected serialReadTO 100ms got %v", cfg.serialReadTO)
	}
	if cfg.logMetricsEvery != 5*time.Second {
		t.Fatalf("expected logMetricsEvery 5s got %v", cfg.logMetricsEvery)
	}
	if cfg.stockBus != 1 || cfg.rateLimit != 12.5 || cfg.backend != backendCannelloni {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
}

func TestApplyEnvOverrides_FlagPrecedence(t *testing.T) {
	cfg, fs := defaultConfig(t)
	if err := fs.Set("baud", "115200"); err != nil {
		t.Fatal(err)
	}
	t.Setenv("DAS_ENCODER_BAUD", "230400")
	if err := applyEnvOverrides(fs, map[string]struct{}{"baud": {}}); err != nil {
		t.Fatalf("err: %v", err)
	}
	if cfg.baud != 115200 {
		t.Fatalf("expected baud unchanged 115200 got %d", cfg.baud)
	}
}

func TestApplyEnvOverrides_Empty(t *testing.T) {
	cfg, fs := defaultConfig(t)
	cfg.metricsAddr = ":9100"
	t.Setenv("DAS_ENCODER_METRICS_ADDR", "")
	t.Setenv("DAS_ENCODER_CAN_IF", "")
	if err := applyEnvOverrides(fs, map[string]struct{}{}); err != nil {
		t.Fatalf("err: %v", err)
	}
	if cfg.metricsAddr != "" {
		t.Fatalf("empty DAS_ENCODER_METRICS_ADDR must disable metrics, got %q", cfg.metricsAddr)
	}
	if cfg.canIf != "can0" {
		t.Fatalf("empty DAS_ENCODER_CAN_IF must be ignored, got %q", cfg.canIf)
	}
}

func TestApplyEnvOverrides_BadValues(t *testing.T) {
	for _, kv := range [][2]string{
		{"DAS_ENCODER_HUB_BUFFER", "notint"},
		{"DAS_ENCODER_STOCK_MAX_AGE", "soon"},
		{"DAS_ENCODER_MDNS_ENABLE", "maybe"},
	} {
		t.Run(kv[0], func(t *testing.T) {
			_, fs := defaultConfig(t)
			t.Setenv(kv[0], kv[1])
			if err := applyEnvOverrides(fs, map[string]struct{}{}); err == nil {
				t.Fatalf("expected error for %s=%s", kv[0], kv[1])
			}
		})
	}
}
