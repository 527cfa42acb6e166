package modules

import (
	"sync/atomic"

	"musehub.io/musehub/internal/api/handlers"
	"musehub.io/musehub/internal/api/middleware"
	"musehub.io/musehub/internal/config"
)

// NewServerDeps builds base server deps then lets each module contribute explicit wiring.
// The draining flag flips during shutdown so the server refuses new proposals.
func NewServerDeps(cfg *config.Config, draining *atomic.Bool, mods []Module) handlers.ServerDeps {
	deps := handlers.ServerDeps{
		JWTCfg: middleware.JWTConfig{
			SigningKey: []byte(cfg.Security.JWTSecret),
			Issuer:     "musehub",
			ExpiresIn:  cfg.Security.TokenTTL,
		},
		Heartbeat:  cfg.Variation.HeartbeatInterval,
		PresignTTL: cfg.Assets.PresignTTL,
		Draining:   draining,
	}
	for _, mod := range mods {
		if mod == nil {
			continue
		}
		mod.ContributeServerDeps(&deps)
	}
	return deps
}
