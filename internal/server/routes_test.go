package server

import (
	"encoding/json"
	"io"
	"net/http"
	"testing"

	"github.com/gofiber/fiber/v2"

	"crashpit/internal/game"
)

func TestHealthHandler(t *testing.T) {
	// Create a minimal Fiber app for testing
	app := fiber.New()

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "ok",
			"message": "Server is running",
		})
	})

	req, err := http.NewRequest("GET", "/health", nil)
	if err != nil {
		t.Fatalf("could not create request: %v", err)
	}

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("could not perform request: %v", err)
	}

	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected status OK; got %v", resp.Status)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("could not read response body: %v", err)
	}

	var result map[string]interface{}
	if err := json.Unmarshal(body, &result); err != nil {
		t.Fatalf("could not unmarshal response: %v", err)
	}

	if result["status"] != "ok" {
		t.Errorf("expected status to be 'ok'; got %v", result["status"])
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		code string
		want int
	}{
		{game.CodeInvalidRequest, http.StatusBadRequest},
		{game.CodeWagerNotFound, http.StatusNotFound},
		{game.CodeRoundNotAccepting, http.StatusConflict},
		{game.CodeCashoutTooLate, http.StatusConflict},
		{game.CodeAlreadySettled, http.StatusConflict},
		{game.CodeInsufficientFunds, http.StatusPaymentRequired},
		{game.CodeLedgerUnavailable, http.StatusServiceUnavailable},
		{"", http.StatusBadRequest},
	}

	for _, tt := range tests {
		if got := statusFor(tt.code); got != tt.want {
			t.Errorf("statusFor(%q) = %d, want %d", tt.code, got, tt.want)
		}
	}
}
