package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"

	"crashpit/internal/game"
)

// statusFor maps a rejection code to the HTTP status it rides on.
func statusFor(code string) int {
	switch code {
	case game.CodeInvalidRequest:
		return fiber.StatusBadRequest
	case game.CodeWagerNotFound:
		return fiber.StatusNotFound
	case game.CodeRoundNotAccepting, game.CodeCashoutTooLate, game.CodeAlreadySettled:
		return fiber.StatusConflict
	case game.CodeInsufficientFunds:
		return fiber.StatusPaymentRequired
	case game.CodeLedgerUnavailable:
		return fiber.StatusServiceUnavailable
	default:
		return fiber.StatusBadRequest
	}
}

// Health handler

func (s *FiberServer) healthHandler(c *fiber.Ctx) error {
	gameStatus := "running"
	if s.gameManager.Halted() {
		gameStatus = "halted"
	}

	health := fiber.Map{
		"database": s.db.Health(),
		"cache":    s.cache.Health(),
		"game": fiber.Map{
			"status":            gameStatus,
			"connected_clients": s.gameHub.GetClientCount(),
		},
	}
	return c.JSON(health)
}

// Crash round handlers

func (s *FiberServer) getGameStateHandler(c *fiber.Ctx) error {
	snap := s.gameManager.Snapshot()
	if snap == nil {
		return c.Status(404).JSON(fiber.Map{
			"error": "No active game round",
		})
	}
	return c.JSON(snap)
}

func (s *FiberServer) placeBetHandler(c *fiber.Ctx) error {
	var req game.BetRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if req.UserID == "" {
		return c.Status(400).JSON(fiber.Map{
			"error": "User ID is required",
		})
	}

	resp := s.gameManager.PlaceWager(c.Context(), req)
	if !resp.Success {
		return c.Status(statusFor(resp.Code)).JSON(resp)
	}

	return c.JSON(resp)
}

func (s *FiberServer) cashoutHandler(c *fiber.Ctx) error {
	var req game.CashoutRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if req.UserID == "" || req.WagerID == "" {
		return c.Status(400).JSON(fiber.Map{
			"error": "User ID and Wager ID are required",
		})
	}

	resp := s.gameManager.Cashout(c.Context(), req)
	if !resp.Success {
		return c.Status(statusFor(resp.Code)).JSON(resp)
	}

	return c.JSON(resp)
}

// Round history handlers

func (s *FiberServer) recentRoundsHandler(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 50)

	rounds, err := s.history.Recent(c.Context(), limit)
	if err != nil {
		return c.Status(503).JSON(fiber.Map{
			"error": "History temporarily unavailable",
		})
	}

	return c.JSON(fiber.Map{
		"rounds": rounds,
		"count":  len(rounds),
	})
}

func (s *FiberServer) roundStatsHandler(c *fiber.Ctx) error {
	stats, err := s.history.Stats(c.Context())
	if err != nil {
		return c.Status(503).JSON(fiber.Map{
			"error": "History temporarily unavailable",
		})
	}
	return c.JSON(stats)
}

func (s *FiberServer) getRoundHandler(c *fiber.Ctx) error {
	roundID := c.Params("roundId")

	round, err := s.history.GetRound(c.Context(), roundID)
	if err != nil {
		return c.Status(404).JSON(fiber.Map{
			"error": "Round not found",
		})
	}
	return c.JSON(round)
}

// verifyRoundHandler replays a resolved round's derivation from its
// revealed seed so anyone can check the outcome was not steered.
func (s *FiberServer) verifyRoundHandler(c *fiber.Ctx) error {
	roundID := c.Params("roundId")

	round, err := s.history.RevealData(c.Context(), roundID)
	if err != nil {
		return c.Status(404).JSON(fiber.Map{
			"error": "Round not found or not resolved yet",
		})
	}

	valid := game.VerifyCrashRound(*round.ServerSeed, round.ServerSeedHash,
		round.ClientSeed, round.Nonce, *round.CrashPoint)

	return c.JSON(fiber.Map{
		"round_id":         round.ID,
		"server_seed":      *round.ServerSeed,
		"server_seed_hash": round.ServerSeedHash,
		"client_seed":      round.ClientSeed,
		"nonce":            round.Nonce,
		"outcome":          *round.CrashPoint,
		"valid":            valid,
	})
}

// verifyHandler checks arbitrary reveal data supplied by the client,
// e.g. pulled from a third-party archive.
func (s *FiberServer) verifyHandler(c *fiber.Ctx) error {
	var body struct {
		ServerSeed     string  `json:"server_seed"`
		ServerSeedHash string  `json:"server_seed_hash"`
		ClientSeed     string  `json:"client_seed"`
		Nonce          int     `json:"nonce"`
		Outcome        float64 `json:"outcome"`
	}
	if err := c.BodyParser(&body); err != nil {
		return c.Status(400).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	valid := game.VerifyCrashRound(body.ServerSeed, body.ServerSeedHash,
		body.ClientSeed, body.Nonce, body.Outcome)

	return c.JSON(fiber.Map{"valid": valid})
}

// User balance handlers

func (s *FiberServer) getUserBalanceHandler(c *fiber.Ctx) error {
	userID := c.Params("userId")
	tokenID := c.Query("token", game.DEFAULT_TOKEN)

	balance, err := s.ledger.Balance(c.Context(), userID, tokenID)
	if err != nil {
		return c.Status(503).JSON(fiber.Map{
			"error": "Ledger temporarily unavailable",
		})
	}

	return c.JSON(fiber.Map{
		"user_id":  userID,
		"token_id": tokenID,
		"balance":  balance,
	})
}

func (s *FiberServer) setUserBalanceHandler(c *fiber.Ctx) error {
	userID := c.Params("userId")

	var body struct {
		TokenID string  `json:"token_id"`
		Balance float64 `json:"balance"`
	}
	if err := c.BodyParser(&body); err != nil {
		return c.Status(400).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	if body.TokenID == "" {
		body.TokenID = game.DEFAULT_TOKEN
	}
	if body.Balance < 0 {
		return c.Status(400).JSON(fiber.Map{
			"error": "Balance cannot be negative",
		})
	}

	if err := s.ledger.SetBalance(c.Context(), userID, body.TokenID, body.Balance); err != nil {
		return c.Status(503).JSON(fiber.Map{
			"error": "Failed to set balance",
		})
	}

	return c.JSON(fiber.Map{
		"user_id":  userID,
		"token_id": body.TokenID,
		"balance":  body.Balance,
		"message":  "Balance updated successfully",
	})
}

func (s *FiberServer) getUserEntriesHandler(c *fiber.Ctx) error {
	userID := c.Params("userId")
	tokenID := c.Query("token", game.DEFAULT_TOKEN)
	limit := c.QueryInt("limit", 50)

	entries, err := s.ledger.EntriesForUser(c.Context(), userID, tokenID, limit)
	if err != nil {
		return c.Status(503).JSON(fiber.Map{
			"error": "Ledger temporarily unavailable",
		})
	}

	return c.JSON(fiber.Map{
		"user_id": userID,
		"entries": entries,
	})
}

// Fairness seed handlers (instant games)

func (s *FiberServer) getUserSeedsHandler(c *fiber.Ctx) error {
	userID := c.Params("userId")

	pair, err := s.seeds.Current(c.Context(), userID)
	if err != nil {
		return c.Status(503).JSON(fiber.Map{
			"error": "Fairness seeds unavailable",
		})
	}

	return c.JSON(fiber.Map{
		"user_id":          userID,
		"server_seed_hash": pair.Commitment(),
		"client_seed":      pair.ClientSeed,
		"nonce":            pair.Nonce,
	})
}

func (s *FiberServer) setClientSeedHandler(c *fiber.Ctx) error {
	userID := c.Params("userId")

	var body struct {
		ClientSeed string `json:"client_seed"`
	}
	if err := c.BodyParser(&body); err != nil {
		return c.Status(400).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if err := s.seeds.SetClientSeed(c.Context(), userID, body.ClientSeed); err != nil {
		return c.Status(503).JSON(fiber.Map{
			"error": "Failed to set client seed",
		})
	}

	return c.JSON(fiber.Map{
		"user_id": userID,
		"message": "Client seed updated",
	})
}

func (s *FiberServer) rotateSeedHandler(c *fiber.Ctx) error {
	userID := c.Params("userId")

	revealed, newCommitment, err := s.seeds.Rotate(c.Context(), userID)
	if err != nil {
		return c.Status(503).JSON(fiber.Map{
			"error": "Failed to rotate seed",
		})
	}

	return c.JSON(fiber.Map{
		"user_id":          userID,
		"revealed_seed":    revealed,
		"server_seed_hash": newCommitment,
	})
}

// Mines game handlers

func (s *FiberServer) minesBetHandler(c *fiber.Ctx) error {
	var req game.MinesBetRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if req.UserID == "" {
		return c.Status(400).JSON(fiber.Map{
			"error": "User ID is required",
		})
	}

	engine, exists := s.gameFactory.GetEngine(game.GameTypeMines)
	if !exists {
		return c.Status(500).JSON(fiber.Map{
			"error": "Mines game not available",
		})
	}

	resp, err := engine.PlaceBet(c.Context(), req)
	if err != nil {
		return c.Status(500).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	betResp, ok := resp.(game.MinesBetResponse)
	if !ok || !betResp.Success {
		return c.Status(statusFor(betResp.Code)).JSON(resp)
	}

	return c.JSON(resp)
}

func (s *FiberServer) minesClickHandler(c *fiber.Ctx) error {
	var req game.MinesClickRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if req.UserID == "" || req.GameID == "" {
		return c.Status(400).JSON(fiber.Map{
			"error": "User ID and Game ID are required",
		})
	}

	engine, exists := s.gameFactory.GetEngine(game.GameTypeMines)
	if !exists {
		return c.Status(500).JSON(fiber.Map{
			"error": "Mines game not available",
		})
	}

	resp, err := engine.ProcessAction(c.Context(), "click", req)
	if err != nil {
		return c.Status(500).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	clickResp, ok := resp.(game.MinesClickResponse)
	if !ok || !clickResp.Success {
		return c.Status(statusFor(clickResp.Code)).JSON(resp)
	}

	return c.JSON(resp)
}

func (s *FiberServer) minesCashoutHandler(c *fiber.Ctx) error {
	var req game.MinesCashoutRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if req.UserID == "" || req.GameID == "" {
		return c.Status(400).JSON(fiber.Map{
			"error": "User ID and Game ID are required",
		})
	}

	engine, exists := s.gameFactory.GetEngine(game.GameTypeMines)
	if !exists {
		return c.Status(500).JSON(fiber.Map{
			"error": "Mines game not available",
		})
	}

	resp, err := engine.ProcessAction(c.Context(), "cashout", req)
	if err != nil {
		return c.Status(500).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	cashoutResp, ok := resp.(game.MinesCashoutResponse)
	if !ok || !cashoutResp.Success {
		return c.Status(statusFor(cashoutResp.Code)).JSON(resp)
	}

	return c.JSON(resp)
}

// Plinko game handlers

func (s *FiberServer) plinkoDropHandler(c *fiber.Ctx) error {
	var req game.PlinkoDropRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if req.UserID == "" {
		return c.Status(400).JSON(fiber.Map{
			"error": "User ID is required",
		})
	}

	engine, exists := s.gameFactory.GetEngine(game.GameTypePlinko)
	if !exists {
		return c.Status(500).JSON(fiber.Map{
			"error": "Plinko game not available",
		})
	}

	resp, err := engine.PlaceBet(c.Context(), req)
	if err != nil {
		return c.Status(500).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	dropResp, ok := resp.(game.PlinkoDropResponse)
	if !ok || !dropResp.Success {
		return c.Status(statusFor(dropResp.Code)).JSON(resp)
	}

	return c.JSON(resp)
}

// Dice game handlers

func (s *FiberServer) diceRollHandler(c *fiber.Ctx) error {
	var req game.DiceRollRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if req.UserID == "" {
		return c.Status(400).JSON(fiber.Map{
			"error": "User ID is required",
		})
	}

	engine, exists := s.gameFactory.GetEngine(game.GameTypeDice)
	if !exists {
		return c.Status(500).JSON(fiber.Map{
			"error": "Dice game not available",
		})
	}

	resp, err := engine.PlaceBet(c.Context(), req)
	if err != nil {
		return c.Status(500).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	rollResp, ok := resp.(game.DiceRollResponse)
	if !ok || !rollResp.Success {
		return c.Status(statusFor(rollResp.Code)).JSON(resp)
	}

	return c.JSON(resp)
}

// WebSocket handler

func (s *FiberServer) gameWebSocketHandler(conn *websocket.Conn) {
	userID := conn.Query("user_id", "anonymous")

	log.Printf("[WS] New connection from user: %s", userID)

	client := s.gameHub.RegisterClient(conn, userID)
	client.SendInitialState(s.gameManager.Snapshot())

	for {
		messageType, message, err := conn.ReadMessage()
		if err != nil {
			log.Printf("[WS] Read error for user %s: %v", userID, err)
			s.gameHub.UnregisterClient(conn)
			break
		}

		if messageType == websocket.TextMessage {
			var clientMsg map[string]interface{}
			if err := json.Unmarshal(message, &clientMsg); err != nil {
				continue
			}

			msgType, ok := clientMsg["type"].(string)
			if !ok {
				continue
			}

			ctx := context.Background()

			switch msgType {
			case "place_bet":
				amount, _ := strconv.ParseFloat(fmt.Sprintf("%v", clientMsg["amount"]), 64)
				autoCashout, _ := strconv.ParseFloat(fmt.Sprintf("%v", clientMsg["auto_cashout"]), 64)

				resp := s.gameManager.PlaceWager(ctx, game.BetRequest{
					UserID:      userID,
					Amount:      amount,
					AutoCashout: autoCashout,
				})

				respJSON, _ := json.Marshal(resp)
				conn.WriteMessage(websocket.TextMessage, respJSON)

			case "cashout":
				wagerID := fmt.Sprintf("%v", clientMsg["wager_id"])

				resp := s.gameManager.Cashout(ctx, game.CashoutRequest{
					UserID:  userID,
					WagerID: wagerID,
				})

				respJSON, _ := json.Marshal(resp)
				conn.WriteMessage(websocket.TextMessage, respJSON)

			case "ping":
				pongJSON, _ := json.Marshal(map[string]string{"type": "pong"})
				conn.WriteMessage(websocket.TextMessage, pongJSON)
			}
		}
	}
}
