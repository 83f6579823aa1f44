package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/xela07ax/audit-logger/internal/infra"
	"github.com/xela07ax/audit-logger/internal/interceptor"
	"github.com/xela07ax/audit-logger/internal/starter"
	"go.uber.org/zap"
)

var errOrderNotFound = errors.New("order not found")

func main() {
	// 1. Config and logger
	cfg, err := infra.LoadConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger, err := infra.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	appCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 2. Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	// 3. Audit interceptors
	auditStarter, err := starter.New(appCtx, cfg, logger, reg)
	if err != nil {
		logger.Fatal("audit starter failed", zap.Error(err))
	}

	// 4. Router: probes and metrics stay outside the audited group
	r := chi.NewRouter()
	r.Use(middleware.RealIP)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Get("/ready", func(w http.ResponseWriter, _ *http.Request) {
		if auditStarter.TransportOpen() {
			http.Error(w, "audit transport unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	r.Group(func(r chi.Router) {
		r.Use(auditStarter.Middleware)

		r.Post("/v1/echo", echo)
		r.Method(http.MethodGet, "/v1/orders/{id}", auditStarter.Dispatcher().Func("orders.Get", getOrder))
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.Info("auditd started", zap.String("addr", srv.Addr), zap.String("app", cfg.App.Name))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("listen failed", zap.Error(err))
		}
	}()

	// 5. Graceful shutdown
	<-appCtx.Done()
	logger.Info("auditd stopping...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", zap.Error(err))
	}
	// queued audit records are flushed only after the last request finished
	if err := auditStarter.Close(shutdownCtx); err != nil {
		logger.Error("audit shutdown failed", zap.Error(err))
	}
	logger.Info("auditd exited properly")
}

func echo(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "read failed", http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", r.Header.Get("Content-Type"))
	_, _ = w.Write(body)
}

func getOrder(w http.ResponseWriter, r *http.Request) error {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		return &interceptor.StatusError{Code: http.StatusBadRequest, Err: err}
	}
	if id <= 0 || id > 100 {
		return &interceptor.StatusError{Code: http.StatusNotFound, Err: errOrderNotFound}
	}
	w.Header().Set("Content-Type", "application/json")
	return json.NewEncoder(w).Encode(map[string]any{"id": id, "status": "shipped"})
}
