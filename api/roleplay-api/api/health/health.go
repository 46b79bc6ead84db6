// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package health_check_api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rapidaai/roleplay/config"
	"github.com/rapidaai/roleplay/pkg/commons"
)

// Check reports whether one dependency is usable.
type Check func(ctx context.Context) error

type HealthCheckApi struct {
	cfg    *config.AppConfig
	logger commons.Logger
	checks map[string]Check
}

func New(cfg *config.AppConfig, logger commons.Logger, checks map[string]Check) *HealthCheckApi {
	return &HealthCheckApi{cfg: cfg, logger: logger, checks: checks}
}

// Healthz reports liveness only.
func (h *HealthCheckApi) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"healthy": true, "service": h.cfg.Name, "version": h.cfg.Version})
}

// Readiness runs every dependency check.
func (h *HealthCheckApi) Readiness(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	status := map[string]string{}
	ready := true
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			h.logger.Warnf("readiness: %s not ready: %v", name, err)
			status[name] = err.Error()
			ready = false
			continue
		}
		status[name] = "ok"
	}
	code := http.StatusOK
	if !ready {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{"ready": ready, "dependencies": status})
}
