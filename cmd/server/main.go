package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/characterchat/backend/internal/admin"
	"github.com/characterchat/backend/internal/config"
	"github.com/characterchat/backend/internal/db"
	"github.com/characterchat/backend/internal/httpapi"
	"github.com/characterchat/backend/internal/store/rabbitmq"
	"github.com/characterchat/backend/internal/store/redisstore"
)

func listenAddr() string {
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		return v
	}
	return ":8080"
}

func main() {
	cfg := config.Load()

	gdb := db.Connect(cfg.DBDSN)

	rds := redisstore.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	{
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		if err := rds.Ping(ctx); err != nil {
			log.Printf("redis unavailable, continuing without cache: %v", err)
			rds = nil
		}
		cancel()
	}

	var pub admin.Publisher
	if p, err := rabbitmq.NewPublisher(cfg.RabbitURL, cfg.RabbitQueue); err != nil {
		log.Printf("rabbit unavailable, audit events disabled: %v", err)
	} else {
		pub = p
		defer p.Close()
	}

	r := httpapi.NewRouter(gdb, cfg, rds, pub)

	srv := &http.Server{
		Addr:    listenAddr(),
		Handler: r,
	}

	go func() {
		log.Printf("server listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	log.Printf("server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown: %v", err)
	}
}
