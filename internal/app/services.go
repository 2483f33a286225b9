package app

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"wizd/internal/api"
	"wizd/internal/config"
	"wizd/internal/controller"
	"wizd/internal/db"
	"wizd/internal/eventbus"
	"wizd/internal/fade"
	"wizd/internal/history"
	"wizd/internal/kv"
	"wizd/internal/mqtt"
	"wizd/internal/presets"
	"wizd/internal/script"
	"wizd/internal/wiz"
)

// Services is a container for all application services.
// It manages service initialization order and dependencies.
type Services struct {
	cfg *config.Config

	// Core infrastructure
	DB      *db.DB
	KV      *kv.Manager
	Bus     *eventbus.Bus
	History *history.Store

	// Device layer
	Client  *wiz.Client
	Engine  *fade.Engine
	Presets *presets.Store
	Control *controller.Controller

	// Front ends; nil when disabled in config
	Script *script.Runtime
	API    *api.Server
	MQTT   *mqtt.Bridge
}

// NewServices creates all services with proper dependency injection.
func NewServices(cfg *config.Config) (*Services, error) {
	s := &Services{cfg: cfg}

	// Initialize database
	database, err := db.Open(cfg.Database.Path)
	if err != nil {
		return nil, err
	}
	s.DB = database
	s.KV = kv.NewManager(database.DB)

	// Event bus
	s.Bus = eventbus.NewWithConfig(cfg.EventBus.GetWorkers(), cfg.EventBus.GetQueueSize())

	// Operation history, recorded off the bus
	s.History = history.New(database.DB)
	s.History.Record(s.Bus)

	// Device layer
	s.Client = wiz.NewClient(cfg.Wiz.Port, cfg.Wiz.Broadcast, cfg.Wiz.Timeout.Duration())
	s.Engine = fade.NewEngine(s.Bus)
	s.Presets = presets.NewStore(s.KV.Bucket("presets", true))
	s.Control = controller.New(s.Client, s.Engine, s.Bus, s.Presets, s.KV.Bucket("device_states", true))

	// Scene runtime
	if cfg.Script != "" {
		s.Script = script.NewRuntime(s.Control, s.Presets, cfg.Fade.Duration.Duration(), cfg.Fade.Steps)
	}

	// HTTP API
	if cfg.API.Enabled {
		var scenes api.SceneRunner
		if s.Script != nil {
			scenes = s.Script
		}
		s.API = api.NewServer(cfg.API.Host, cfg.API.Port, s.Control, s.Presets, scenes, s.History, cfg.Wiz.DiscoveryTimeout.Duration())
	}

	// Home Assistant bridge
	if cfg.MQTT.Enabled {
		s.MQTT = mqtt.New(cfg.MQTT, s.Control, s.Bus)
	}

	return s, nil
}

// Start starts all services in the correct order.
// The onFatalError callback is called when a fatal error occurs.
func (s *Services) Start(ctx context.Context, onFatalError func(error)) error {
	// Load the scene script before the worker starts
	if s.Script != nil {
		if err := s.Script.LoadScript(s.cfg.Script); err != nil {
			return err
		}
		go s.Script.Serve(ctx)
	}

	// Initial scan; a silent network is not fatal, the API can rescan
	if _, err := s.Control.Rescan(ctx, s.cfg.Wiz.DiscoveryTimeout.Duration()); err != nil {
		log.Warn().Err(err).Msg("Initial scan failed")
	}

	if s.API != nil {
		go func() {
			if err := s.API.Run(ctx, s.cfg.ShutdownTimeout.Duration()); err != nil {
				onFatalError(err)
			}
		}()
	}

	if s.MQTT != nil {
		go func() {
			if err := s.MQTT.Run(ctx); err != nil {
				onFatalError(err)
			}
		}()
	}

	go s.cleanupHistory(ctx)

	return nil
}

// cleanupHistory enforces the history retention policy on a fixed interval.
func (s *Services) cleanupHistory(ctx context.Context) {
	retention := time.Duration(s.cfg.History.RetentionDays) * 24 * time.Hour
	ticker := time.NewTicker(s.cfg.History.CleanupInterval.Duration())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := s.History.DeleteOlderThan(retention)
			if err != nil {
				log.Warn().Err(err).Msg("History cleanup failed")
			} else if removed > 0 {
				log.Debug().Int64("removed", removed).Msg("History cleanup done")
			}
		}
	}
}

// Stop gracefully stops all services.
func (s *Services) Stop() error {
	s.Close()
	return nil
}

// Close releases all resources.
func (s *Services) Close() {
	if s.Engine != nil {
		s.Engine.Stop()
	}
	if s.Script != nil {
		s.Script.Close()
	}
	if s.Bus != nil {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout.Duration())
		defer cancel()
		s.Bus.Close(ctx)
	}
	if s.DB != nil {
		s.DB.Close()
	}
}
