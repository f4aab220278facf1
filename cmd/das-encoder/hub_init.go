package main

import (
	"log/slog"

	"github.com/kstaniek/go-tesla-das/internal/hub"
)

func initHub(cfg *appConfig, l *slog.Logger) *hub.Hub {
	policy, ok := hub.ParsePolicy(cfg.hubPolicy)
	if !ok {
		l.Warn("unknown_hub_policy", "policy", cfg.hubPolicy, "used", policy.String())
	}
	h := hub.New(cfg.hubBuffer, policy)
	l.Info("build_info", "version", version, "commit", commit, "date", date)
	l.Info("hub_config", "policy", h.Policy().String(), "buffer", cfg.hubBuffer)
	return h
}
