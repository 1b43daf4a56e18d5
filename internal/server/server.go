package server

import (
	"log"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"crashpit/internal/cache"
	"crashpit/internal/database"
	"crashpit/internal/game"
	"crashpit/internal/history"
	"crashpit/internal/ledger"
)

type FiberServer struct {
	*fiber.App

	db          database.Service
	cache       cache.Service
	ledger      *ledger.Service
	history     *history.Service
	seeds       *game.SeedStore
	gameManager *game.Manager
	gameHub     *game.Hub
	gameFactory *game.GameFactory
}

func New() *FiberServer {
	db := database.New()

	redisService := cache.New()
	if redisService == nil {
		log.Fatal("[SERVER] Redis is required for game functionality")
	}
	redisClient := redisService.GetClient()

	ledgerSvc := ledger.New(db.GetPool())
	historySvc := history.New(db.GetPool(), redisClient)
	seeds := game.NewSeedStore(redisClient)

	hub := game.NewHub()
	manager := game.NewManager(hub, ledgerSvc, historySvc, redisClient)

	factory := game.NewGameFactory()
	factory.RegisterEngine(game.NewMinesEngine(redisClient, ledgerSvc, seeds))
	factory.RegisterEngine(game.NewPlinkoEngine(redisClient, ledgerSvc, seeds))
	factory.RegisterEngine(game.NewDiceEngine(redisClient, ledgerSvc, seeds))

	server := &FiberServer{
		App: fiber.New(fiber.Config{
			ServerHeader:  "crashpit",
			AppName:       "crashpit",
			ReadTimeout:   10 * time.Second,
			WriteTimeout:  10 * time.Second,
			IdleTimeout:   120 * time.Second,
			StrictRouting: false,
		}),

		db:          db,
		cache:       redisService,
		ledger:      ledgerSvc,
		history:     historySvc,
		seeds:       seeds,
		gameManager: manager,
		gameHub:     hub,
		gameFactory: factory,
	}

	server.App.Use(recover.New())
	server.App.Use(limiter.New(limiter.Config{
		Max:        100,
		Expiration: 1 * time.Minute,
	}))

	go hub.Run()
	manager.Start()

	if err := factory.StartAll(); err != nil {
		log.Printf("[SERVER] Failed to start game engines: %v", err)
	}

	log.Println("[SERVER] Round engine and all game engines started")

	return server
}

// Shutdown stops the round loop and engines, then closes connections.
func (s *FiberServer) Shutdown() error {
	log.Println("[SERVER] Shutting down...")

	if s.gameManager != nil {
		s.gameManager.Stop()
	}

	if s.gameFactory != nil {
		if err := s.gameFactory.StopAll(); err != nil {
			log.Printf("[SERVER] Error stopping game engines: %v", err)
		}
	}

	if s.cache != nil {
		s.cache.Close()
	}
	if s.db != nil {
		s.db.Close()
	}

	return nil
}
