package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"botcore/internal/api"
	"botcore/internal/automation"
	"botcore/internal/bot"
	"botcore/internal/events"
	"botcore/internal/risk"
	"botcore/internal/session"
	"botcore/internal/strategy"
	"botcore/pkg/config"
	"botcore/pkg/store"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	log.Printf("starting bot engine: port=%s db=%s", cfg.Port, cfg.DBPath)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Core services
	bus := events.NewBus()

	db, err := store.Open(cfg.DBPath)
	if err != nil {
		log.Fatalf("db init failed: %v", err)
	}
	defer db.Close()
	if err := store.ApplyMigrations(db); err != nil {
		log.Fatalf("db migrations failed: %v", err)
	}

	riskEngine := risk.NewEngine(db)
	strategies := strategy.NewRegistry()
	sessions := session.NewRegistry()

	bots := bot.NewManager(db, riskEngine, strategies, sessions, bus, bot.Options{
		CycleInterval:  cfg.CycleInterval,
		InitialBalance: cfg.InitialBalance,
	})
	defer bots.Shutdown(context.Background())

	// Automation rules
	auto := automation.NewManager(bots, cfg.AutomationPoll)
	if cfg.AutomationRules != "" {
		n, err := auto.LoadFile(cfg.AutomationRules)
		if err != nil {
			log.Printf("automation rules load failed: %v", err)
		} else {
			log.Printf("automation rules loaded: %d from %s", n, cfg.AutomationRules)
		}
	}
	auto.Run(ctx)
	defer auto.Close()

	// API
	server := api.NewServer(
		bus,
		db,
		bots,
		sessions,
		strategies,
		auto,
		api.SystemMeta{
			Version:      cfg.Version,
			MT5BridgeURL: cfg.MT5BridgeURL,
			PaperDefault: cfg.PaperDefault,
		},
		cfg.JWTSecret,
	)
	go func() {
		if err := server.Start(":" + cfg.Port); err != nil {
			log.Fatalf("api server error: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	log.Println("shutting down")
}
