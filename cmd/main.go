package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"lung-vision/config"
	"lung-vision/internal/api/rest"
	"lung-vision/internal/api/telegram"
	"lung-vision/internal/container"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	appContainer, err := container.New(cfg)
	if err != nil {
		log.Fatalf("Failed to build services: %v", err)
	}
	defer appContainer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	staticDir := ""
	if cfg.EnableVisualization {
		staticDir = cfg.VisualizationDir()
	}
	handler := rest.NewHandler(appContainer.DiagnosisService)
	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           rest.NewRouter(handler, staticDir, cfg.PublicPath),
		ReadHeaderTimeout: 10 * time.Second,
	}

	if cfg.TelegramToken != "" {
		bot, err := telegram.NewBot(cfg.TelegramToken, appContainer.UserService, appContainer.DiagnosisService)
		if err != nil {
			log.Fatalf("Failed to create bot: %v", err)
		}
		go func() {
			log.Println("Bot is running...")
			if err := bot.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("Bot error: %v", err)
			}
		}()
	} else {
		log.Println("TELEGRAM_TOKEN is not set, bot disabled")
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("Shutdown error: %v", err)
		}
	}()

	log.Printf("Server starting on %s (backend %s, visualization %t)", cfg.HTTPAddr, cfg.Backend, cfg.EnableVisualization)
	log.Println("Endpoints:")
	log.Println("  GET    /health")
	log.Println("  POST   /predict")
	log.Println("  GET    /history, /history/{id}")
	log.Println("  DELETE /history/{id}")
	log.Println("  GET    /summary")

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("Server failed: %v", err)
	}
}
