// Package main запускает HTTP-сервер бота-ассистента магазина.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"retail-assistant/internal/barcode"
	"retail-assistant/internal/bot"
	"retail-assistant/internal/catalog"
	"retail-assistant/internal/config"
	"retail-assistant/internal/handler"
	"retail-assistant/internal/metrics"
	"retail-assistant/internal/middleware"
	"retail-assistant/internal/pipeline"
	"retail-assistant/internal/ratelimit"
	"retail-assistant/internal/repository"
	"retail-assistant/internal/transport"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	cfg, err := config.Parse()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	repo, err := repository.NewPostgresRepository(cfg.DatabaseURI)
	if err != nil {
		sugar.Fatalw("database initialization error", "error", err.Error())
	}
	defer repo.Close()

	catalogClient := catalog.NewClient(cfg.CatalogAddress, cfg.CatalogUsername, cfg.CatalogKey, cfg.UpstreamTimeout)
	gateway := transport.NewClient(cfg.GatewayAddress, cfg.GatewayToken, cfg.UpstreamTimeout)
	decoder := barcode.NewDecoder(cfg.DecoderAddress, cfg.UpstreamTimeout)

	resolver := pipeline.New(catalogClient, logger, cfg.CatalogImageURL)

	assistant := bot.New(repo, repo, gateway, resolver, catalogClient, decoder, logger, bot.Options{
		OperatorID:     cfg.OperatorID,
		AdminIDs:       cfg.AdminIDs,
		SiteSearchURL:  cfg.SiteSearchURL,
		StoreURL:       cfg.StoreURL,
		BroadcastPause: cfg.BroadcastPause,
		StopWords:      cfg.StopWords,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Очереди дорабатывают принятые события при остановке, поэтому живут
	// на собственном контексте, а не на сигнальном.
	dispatcher := bot.NewDispatcher(context.Background(), assistant, logger)
	limiter := ratelimit.New(cfg.RateLimit, cfg.RateWindow)

	m := metrics.New()
	h := handler.NewHandler(dispatcher, limiter, gateway, repo, m, logger)
	auth := middleware.NewTokenAuth(cfg.GatewayToken)

	server := &http.Server{
		Addr:    cfg.RunAddress,
		Handler: h.SetupRouter(auth),
	}

	g, ctx := errgroup.WithContext(ctx)

	// Запуск HTTP-сервера
	g.Go(func() error {
		sugar.Infow("starting assistant server", "addr", cfg.RunAddress)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown при отмене контекста (сигнал или ошибка в другой горутине)
	g.Go(func() error {
		<-ctx.Done()
		sugar.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		if err := dispatcher.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("dispatcher shutdown error: %w", err)
		}
		sugar.Info("server stopped gracefully")
		return nil
	})

	if err := g.Wait(); err != nil {
		sugar.Fatalw("application terminated with error", "error", err)
	}
}
