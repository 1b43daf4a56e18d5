package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	_ "github.com/joho/godotenv/autoload"

	"crashpit/internal/server"
)

func gracefulShutdown(fiberServer *server.FiberServer, done chan bool) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-ctx.Done()

	log.Println("shutting down gracefully, press Ctrl+C again to force")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := fiberServer.ShutdownWithContext(ctx); err != nil {
		log.Printf("Server forced to shutdown with error: %v", err)
	}

	fiberServer.Shutdown()

	log.Println("Server exiting")

	done <- true
}

func main() {
	app := server.New()

	app.RegisterFiberRoutes()
	app.RegisterGameRoutes()

	done := make(chan bool, 1)

	go func() {
		port, _ := strconv.Atoi(os.Getenv("PORT"))
		if port == 0 {
			port = 8080
		}
		if err := app.Listen(fmt.Sprintf(":%d", port)); err != nil {
			log.Fatalf("http server error: %s", err)
		}
	}()

	go gracefulShutdown(app, done)

	<-done
	log.Println("Graceful shutdown complete.")
}
