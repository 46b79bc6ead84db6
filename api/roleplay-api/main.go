// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	healthCheckApi "github.com/rapidaai/roleplay/api/roleplay-api/api/health"
	internal_audio "github.com/rapidaai/roleplay/api/roleplay-api/internal/audio"
	internal_device "github.com/rapidaai/roleplay/api/roleplay-api/internal/audio/device"
	internal_events "github.com/rapidaai/roleplay/api/roleplay-api/internal/events"
	internal_playback "github.com/rapidaai/roleplay/api/roleplay-api/internal/playback"
	internal_session "github.com/rapidaai/roleplay/api/roleplay-api/internal/session"
	roleplay_routers "github.com/rapidaai/roleplay/api/roleplay-api/router"
	"github.com/rapidaai/roleplay/config"
	roleplay_client "github.com/rapidaai/roleplay/pkg/clients/roleplay"
	"github.com/rapidaai/roleplay/pkg/commons"
	"github.com/rapidaai/roleplay/pkg/utils"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

type AppRunner struct {
	E          *gin.Engine
	Cfg        *config.AppConfig
	Logger     commons.Logger
	Store      internal_session.Store
	Hub        *internal_events.Hub
	Controller *internal_session.Controller
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	appRunner := AppRunner{E: gin.New()}
	if err := appRunner.ResolveConfig(); err != nil {
		log.Fatalf("unable to resolve config: %v", err)
	}
	appRunner.Logging()
	defer appRunner.Logger.Sync()

	if err := appRunner.Init(); err != nil {
		appRunner.Logger.Fatalf("unable to initialize roleplay engine: %v", err)
	}
	appRunner.Middleware()
	appRunner.AllRouters()

	if err := appRunner.Run(ctx); err != nil {
		appRunner.Logger.Errorf("roleplay-api stopped with error: %v", err)
		os.Exit(1)
	}
	appRunner.Logger.Info("roleplay-api stopped")
}

func (app *AppRunner) ResolveConfig() error {
	vConfig, err := config.InitConfig()
	if err != nil {
		return err
	}
	cfg, err := config.GetApplicationConfig(vConfig)
	if err != nil {
		return err
	}
	app.Cfg = cfg
	return nil
}

func (app *AppRunner) Logging() {
	logger, err := commons.NewApplicationLogger(
		commons.Name(app.Cfg.Name),
		commons.Level(app.Cfg.LogLevel),
		commons.Path(app.Cfg.LogPath),
	)
	if err != nil {
		log.Fatalf("unable to create logger: %v", err)
	}
	app.Logger = logger
	utils.SetPanicHandler(func(recovered interface{}, stack []byte) {
		logger.Errorf("recovered goroutine panic: %v\n%s", recovered, stack)
	})
}

// Init builds the engine: local journal, collaborator client, headless audio
// devices and the session controller.
func (app *AppRunner) Init() error {
	store, err := internal_session.NewSqliteStore(app.Cfg.Store.Path, app.Logger)
	if err != nil {
		return err
	}
	app.Store = store

	speaker, err := internal_device.NewFileSpeaker(app.Logger, app.Cfg.Device.OutputDir)
	if err != nil {
		return fmt.Errorf("unable to prepare playback output: %w", err)
	}
	resources := internal_audio.NewResourceManager(app.Logger,
		internal_device.NewScriptedMicrophone(app.Logger, app.Cfg.Device.InputDir),
		speaker)

	client := roleplay_client.NewRoleplayServiceClient(app.Cfg.Collaborator, utils.FromEnvironmentStr(app.Cfg.Env), app.Logger)
	app.Hub = internal_events.NewHub(app.Logger, app.Cfg.Origins())
	app.Controller = internal_session.NewController(app.Logger, internal_session.Options{
		Conversation: app.Cfg.Conversation,
		Retry: internal_playback.RetryPolicy{
			Attempts: app.Cfg.Playback.RetryAttempts,
			Delay:    app.Cfg.Playback.RetryDelay(),
		},
		MimeTypes: app.Cfg.Recorder.PreferredMimeTypes(),
	}, internal_session.Dependencies{
		Client:    client,
		Resources: resources,
		Recorders: internal_device.NewStreamRecorderRuntime(),
		Frames:    internal_device.NewTimerFrameScheduler(internal_device.DefaultFrameInterval),
		Store:     store,
		Events:    app.Hub,
	})
	return nil
}

func (app *AppRunner) Middleware() {
	if utils.FromEnvironmentStr(app.Cfg.Env) == utils.PRODUCTION {
		gin.SetMode(gin.ReleaseMode)
	}
	app.E.Use(gin.Recovery())
	app.E.Use(cors.New(corsConfig(app.Cfg)))
	app.E.Use(func(c *gin.Context) {
		start := time.Now()
		c.Next()
		app.Logger.Debugw("request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"latency", time.Since(start).String())
	})
}

func (app *AppRunner) AllRouters() {
	roleplay_routers.HealthCheckRoutes(app.Cfg, app.E, app.Logger, map[string]healthCheckApi.Check{
		"store": app.Store.Ping,
	})
	roleplay_routers.SessionRoutes(app.Cfg, app.E, app.Logger, app.Controller, app.Hub)
}

// Run serves HTTP until ctx ends, then tears the session down and flushes
// the journal.
func (app *AppRunner) Run(ctx context.Context) error {
	server := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", app.Cfg.Host, app.Cfg.Port),
		Handler:           app.E,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		app.Logger.Infof("roleplay-api listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gCtx.Done()
		app.Logger.Info("shutting down roleplay-api")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err := server.Shutdown(shutdownCtx)
		app.Hub.Close()
		app.Controller.Shutdown()
		if closeErr := app.Store.Close(); closeErr != nil {
			app.Logger.Warnf("unable to close session store: %v", closeErr)
		}
		return err
	})
	return g.Wait()
}

func corsConfig(cfg *config.AppConfig) cors.Config {
	c := cors.Config{
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Origin", "Content-Type", utils.HEADER_API_KEY, utils.HEADER_SESSION_ID},
		MaxAge:       12 * time.Hour,
	}
	if cfg.AnyOrigin() {
		c.AllowAllOrigins = true
	} else {
		c.AllowOrigins = cfg.Origins()
	}
	return c
}
