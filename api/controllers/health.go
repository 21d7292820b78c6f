package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/agrilink/agrilink-backend/api/responses"
	"github.com/agrilink/agrilink-backend/pkg/config"
	"github.com/agrilink/agrilink-backend/pkg/logger"
)

const readinessTimeout = 2 * time.Second

type pinger interface {
	Ping(ctx context.Context) error
}

// HealthLive reports process liveness.
func HealthLive(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-AgriLink-Env", cfg.App.Env)
		responses.WriteSuccess(w, map[string]string{"status": "live"})
	}
}

// HealthReady checks the datastore dependencies before reporting ready.
func HealthReady(cfg *config.Config, logg *logger.Logger, database, cache pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-AgriLink-Env", cfg.App.Env)

		ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
		defer cancel()

		checks := map[string]string{}
		healthy := true
		for name, dep := range map[string]pinger{"database": database, "redis": cache} {
			if dep == nil {
				checks[name] = "skipped"
				continue
			}
			if err := dep.Ping(ctx); err != nil {
				if logg != nil {
					logg.Error(ctx, "readiness check failed: "+name, err)
				}
				checks[name] = "down"
				healthy = false
				continue
			}
			checks[name] = "up"
		}

		if !healthy {
			responses.WriteSuccessStatus(w, http.StatusServiceUnavailable, checks)
			return
		}
		responses.WriteSuccess(w, checks)
	}
}
