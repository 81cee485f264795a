package main

import (
	"fmt"
	"io"
	"time"

	"github.com/zulandar/socialdesk/internal/config"
	"github.com/zulandar/socialdesk/internal/db"
	"github.com/zulandar/socialdesk/internal/events"
	"github.com/zulandar/socialdesk/internal/ingest"
	"github.com/zulandar/socialdesk/internal/logging"
	"github.com/zulandar/socialdesk/internal/social/clients"
	"github.com/zulandar/socialdesk/internal/ticket"
	"gorm.io/gorm"
)

// appEnv is everything a command needs after loading the config.
type appEnv struct {
	cfg          *config.Config
	db           *gorm.DB
	producer     *events.Producer
	orchestrator *ingest.Orchestrator
	publisher    *ingest.Publisher
	tickets      *ticket.Service
}

func connectFromConfig(configPath string) (*config.Config, *gorm.DB, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	gormDB, err := db.Connect(cfg.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to %s: %w", cfg.Database.Name, err)
	}
	return cfg, gormDB, nil
}

// openEnv loads the config, configures logging and wires the services.
func openEnv(configPath string, logOut io.Writer) (*appEnv, error) {
	cfg, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return nil, err
	}
	if err := logging.Setup(cfg.Log.Level, cfg.Log.Format, logOut); err != nil {
		return nil, err
	}

	env := &appEnv{
		cfg:      cfg,
		db:       gormDB,
		producer: events.NewProducer(cfg.Events.KafkaBrokers, cfg.Events.Topic),
	}
	registry := clients.NewRegistry(cfg)

	env.orchestrator, err = ingest.NewOrchestrator(ingest.OrchestratorOpts{
		DB:           gormDB,
		Clients:      registry,
		Producer:     env.producer,
		FetchTimeout: secs(cfg.Sync.FetchTimeoutSec),
		LockTimeout:  secs(cfg.Sync.LockTimeoutSec),
	})
	if err != nil {
		return nil, err
	}
	env.publisher, err = ingest.NewPublisher(ingest.PublisherOpts{
		DB:       gormDB,
		Clients:  registry,
		Producer: env.producer,
	})
	if err != nil {
		return nil, err
	}
	env.tickets, err = ticket.NewService(ticket.ServiceOpts{
		DB:        gormDB,
		Publisher: env.publisher,
		Producer:  env.producer,
	})
	if err != nil {
		return nil, err
	}
	return env, nil
}

func (e *appEnv) Close() error {
	var firstErr error
	if err := e.producer.Close(); err != nil {
		firstErr = err
	}
	if sqlDB, err := e.db.DB(); err == nil {
		if err := sqlDB.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func secs(n int) time.Duration {
	return time.Duration(n) * time.Second
}
