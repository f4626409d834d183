package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/ordena-app/backend/internal/config"
	"github.com/ordena-app/backend/internal/httpx"
	kafkax "github.com/ordena-app/backend/internal/kafka"
	"github.com/ordena-app/backend/internal/logx"
	"github.com/ordena-app/backend/internal/orders"
	"github.com/ordena-app/backend/internal/postgres"
	"github.com/ordena-app/backend/internal/redisx"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	logx.Setup(cfg.ServiceName, cfg.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// DB
	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("db connect")
	}
	defer db.Close()

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	// Kafka producers, one per topic
	pCreated := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicOrderCreated, 1024)
	pCreated.Start(ctx)
	pStatus := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicOrderStatusChanged, 1024)
	pStatus.Start(ctx)

	// Store, workflow & handlers
	repo := &orders.Repo{DB: db}
	svc := &orders.Service{Store: repo}

	router := httpx.NewRouter()
	oh := &httpx.OrdersHandler{
		Workflow:      svc,
		Reader:        repo,
		CreatedEvents: pCreated,
		StatusEvents:  pStatus,
		Redis:         rdb,
		ServiceName:   cfg.ServiceName,
	}
	ph := &httpx.ProductsHandler{Store: repo}
	ch := &httpx.CustomersHandler{Store: repo}
	sh := &httpx.StatsHandler{Store: repo, Redis: rdb}
	ah := &httpx.AuthHandler{Store: repo}

	router.Route("/api", func(r chi.Router) {
		oh.Register(r)
		ph.Register(r)
		ch.Register(r)
		sh.Register(r)
		ah.Register(r)
	})

	// HTTP server
	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router}

	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("HTTP listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("listen")
		}
	}()

	// wait signal
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info().Msg("shutting down...")

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	_ = srv.Shutdown(ctx2)

	pCreated.Close()
	pStatus.Close()
	cancel()
	pCreated.WaitClosed()
	pStatus.WaitClosed()
}
