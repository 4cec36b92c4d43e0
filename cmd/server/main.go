package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"access-verifier/internal/factory"
	"access-verifier/internal/handler"
	"access-verifier/internal/util"
)

func main() {
	// Initialize factory (which loads config and initializes all clients)
	f, err := factory.NewFactory()
	if err != nil {
		util.Fatal("Failed to initialize factory", util.ErrorField(err))
	}
	defer f.Close()

	cfg := f.Config()

	router := handler.NewRouter(
		handler.NewReviewHandler(f.ReviewService(), util.Get()),
		handler.NewEmployeeHandler(f.EmployeeService(), util.Get()),
		f.Worker(),
		util.Get(),
	)

	server := &http.Server{
		Addr:         cfg.GetServerAddress(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(),
		syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		return f.EvidenceConsumer().Run(ctx)
	})
	group.Go(func() error {
		return f.EmergencyConsumer().Run(ctx)
	})
	group.Go(func() error {
		return f.Worker().Run(ctx)
	})
	group.Go(func() error {
		util.Info("HTTP server starting",
			util.String("environment", cfg.Environment),
			util.String("address", server.Addr),
		)
		var err error
		if cfg.Server.EnableTLS && cfg.Server.CertFile != "" && cfg.Server.KeyFile != "" {
			err = server.ListenAndServeTLS(cfg.Server.CertFile, cfg.Server.KeyFile)
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			util.Error("Failed to shutdown server gracefully", util.ErrorField(err))
			return err
		}
		util.Info("Server shutdown completed")
		return nil
	})

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		util.Error("Service exited with error", util.ErrorField(err))
		f.Close()
		os.Exit(1)
	}

	util.Info("Service stopped")
}
