package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gatekit.org/internal/authz"
	"gatekit.org/internal/bulk"
	"gatekit.org/internal/config"
	"gatekit.org/internal/extlogin"
	"gatekit.org/internal/httpapi"
	"gatekit.org/internal/obs"
	"gatekit.org/internal/rbac"
	"gatekit.org/internal/store/pg"
	"gatekit.org/internal/token"
)

var version = "1.0.0"

func main() {
	obs.Init()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	store, err := pg.Open(cfg.PGDSN)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}

	users, err := rbac.NewService(store)
	if err != nil {
		log.Fatalf("rbac service: %v", err)
	}
	engine, err := authz.NewEngine(store)
	if err != nil {
		log.Fatalf("authz: %v", err)
	}
	tokens, err := token.NewService(store,
		token.WithSecret(cfg.TokenSecret),
		token.WithIssuer(cfg.AppName),
		token.WithAccessTTL(cfg.AccessTTL),
		token.WithRefreshTTL(cfg.RefreshTTL),
		token.WithPersonalMaxTTL(cfg.PersonalMaxTTL),
	)
	if err != nil {
		log.Fatalf("token service: %v", err)
	}
	bulkSvc := bulk.NewService(store,
		bulk.WithAppName(cfg.AppName),
		bulk.WithLocation(cfg.Location),
	)
	extSvc := extlogin.NewService(users, nil, cfg.AllowedLoginDomain)

	// Register the permission catalog so fresh databases know every key.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := users.EnsureCatalog(ctx, authz.Catalog); err != nil {
		log.Printf("ensure permission catalog: %v", err)
	}
	cancel()

	api := httpapi.New(httpapi.Config{
		Version:         version,
		AppName:         cfg.AppName,
		Tokens:          tokens,
		Engine:          engine,
		Users:           users,
		Bulk:            bulkSvc,
		ExtLogin:        extSvc,
		ReadyProbe:      httpapi.ReadyProbe{DB: store.DB()},
		IssueRatePerMin: cfg.IssueRatePerMin,
		AuthRatePerMin:  cfg.AuthRatePerMin,
	})

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting %s %s on %s", cfg.AppName, version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	_ = srv.Shutdown(shutdownCtx)
	_ = store.Close()
	log.Println("Stopped")
}
