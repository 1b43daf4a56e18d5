package server

import (
	"github.com/gofiber/fiber/v2/middleware/cors"

	"github.com/gofiber/contrib/websocket"
)

func (s *FiberServer) RegisterFiberRoutes() {
	s.App.Use(cors.New(cors.Config{
		AllowOrigins:     "*",
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS,PATCH",
		AllowHeaders:     "Accept,Authorization,Content-Type",
		AllowCredentials: false, // credentials require explicit origins
		MaxAge:           300,
	}))

	s.App.Get("/health", s.healthHandler)

	api := s.App.Group("/api/v1")

	// Crash round
	api.Get("/game/state", s.getGameStateHandler)
	api.Post("/game/bet", s.placeBetHandler)
	api.Post("/game/cashout", s.cashoutHandler)

	// Round history and verification
	api.Get("/rounds/recent", s.recentRoundsHandler)
	api.Get("/rounds/stats", s.roundStatsHandler)
	api.Get("/rounds/:roundId", s.getRoundHandler)
	api.Get("/rounds/:roundId/verify", s.verifyRoundHandler)
	api.Post("/verify", s.verifyHandler)

	// Balances and ledger
	api.Get("/user/:userId/balance", s.getUserBalanceHandler)
	api.Post("/user/:userId/balance", s.setUserBalanceHandler)
	api.Get("/user/:userId/entries", s.getUserEntriesHandler)

	// Per-user fairness seeds for the instant games
	api.Get("/user/:userId/seeds", s.getUserSeedsHandler)
	api.Post("/user/:userId/seeds/client", s.setClientSeedHandler)
	api.Post("/user/:userId/seeds/rotate", s.rotateSeedHandler)

	// WebSocket route
	s.App.Get("/ws", websocket.New(s.gameWebSocketHandler))
}
