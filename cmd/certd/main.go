// Command certd is the minimal demonstration HTTP surface spec §6.2
// describes the contract for (SPEC_FULL §C.3): it exposes
// GET /.well-known/acme-challenge/:token and runs the renewal sweeper
// daemon alongside it. It intentionally does not grow into a full reverse
// proxy or TLS-terminating server — the hosting HTTP server is an explicit
// Non-goal of the core library (spec §1).
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/caasmo/certrenew"
	"github.com/caasmo/certrenew/config"
	"github.com/caasmo/certrenew/dispatcher"
	"github.com/caasmo/certrenew/kv/redis"
	"github.com/caasmo/certrenew/logging"
	"github.com/caasmo/certrenew/secure"
	jshttprouter "github.com/julienschmidt/httprouter"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "config.toml", "path to config TOML file")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("certd: failed to load config", "path", configPath, "error", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.Log.Format, nil)
	slog.SetDefault(logger)

	client := redis.New(cfg.KV.Addr, cfg.KV.Password, cfg.KV.DB)

	opts := []certrenew.Option{
		certrenew.WithKV(client),
		certrenew.WithConfig(cfg),
		certrenew.WithLogger(logger),
	}
	if cfg.Secure.AgeKeyPath != "" {
		crypter := secure.NewAgeCrypter(cfg.Secure.AgeKeyPath)
		opts = append(opts, certrenew.WithTransforms(crypter.Encrypt, crypter.Decrypt))
	}

	certs, err := certrenew.New(opts...)
	if err != nil {
		logger.Error("certd: failed to construct certs instance", "error", err)
		os.Exit(1)
	}

	router := jshttprouter.New()
	router.Handler(http.MethodGet, "/.well-known/acme-challenge/:token", challengeHandler(certs, logger))

	httpServer := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: router,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var sweeper *sweeperDaemon
	if cfg.Sweeper.Enabled {
		sweeper = newSweeperDaemon(certs, cfg)
		sweeper.Start(ctx)
		logger.Info("certd: sweeper started", "interval", cfg.Sweeper.Interval, "concurrency", cfg.Sweeper.Concurrency)
	}

	go func() {
		logger.Info("certd: listening", "addr", cfg.Server.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("certd: http server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("certd: shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if sweeper != nil {
		if err := sweeper.Stop(shutdownCtx); err != nil {
			logger.Error("certd: sweeper stop failed", "error", err)
		}
	}
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("certd: http server shutdown failed", "error", err)
	}
}

// challengeHandler adapts certrenew.Certs.RouteHandler (spec §4.7) to an
// http.Handler, reading the token from the route param and the domain from
// the Host header (spec §6.2: "Host: <D>").
func challengeHandler(certs *certrenew.Certs, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		params := jshttprouter.ParamsFromContext(r.Context())
		token := params.ByName("token")

		keyAuth, err := certs.RouteHandler(r.Context(), r.Host, token)
		if err != nil {
			writeDispatcherError(w, err, logger)
			return
		}

		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(keyAuth))
	})
}

// statusCoder is satisfied by every dispatcher error type (spec §4.7,
// §6.2: "status from the error's HTTP code with JSON {error, code,
// details}").
type statusCoder interface {
	error
	StatusCode() int
	Response() dispatcher.Response
}

func writeDispatcherError(w http.ResponseWriter, err error, logger *slog.Logger) {
	var sc statusCoder
	if !errors.As(err, &sc) {
		logger.Error("certd: unexpected dispatcher error", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	resp := sc.Response()
	logger.Warn("certd: challenge request failed", "code", resp.Code, "error", sc.Error())

	body, err := json.Marshal(resp)
	if err != nil {
		logger.Error("certd: failed to marshal dispatcher response", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(sc.StatusCode())
	_, _ = w.Write(body)
}
