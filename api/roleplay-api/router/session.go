// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package roleplay_routers

import (
	"github.com/gin-gonic/gin"
	sessionApi "github.com/rapidaai/roleplay/api/roleplay-api/api/session"
	"github.com/rapidaai/roleplay/config"
	"github.com/rapidaai/roleplay/pkg/commons"
)

func SessionRoutes(cfg *config.AppConfig, engine *gin.Engine, logger commons.Logger,
	controller sessionApi.Controller,
	events sessionApi.EventStream) {
	logger.Info("Session routes added to engine.")
	apiv1 := engine.Group("v1/session")
	sApi := sessionApi.NewSessionApi(cfg, logger, controller, events)
	{
		apiv1.POST("", sApi.Start)
		apiv1.GET("", sApi.Get)
		apiv1.DELETE("", sApi.Close)
		apiv1.POST("/record", sApi.Record)
		apiv1.POST("/retry", sApi.Retry)
		apiv1.POST("/end", sApi.End)
		apiv1.GET("/events", sApi.Events)
	}
}
