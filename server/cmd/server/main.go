package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"google.golang.org/grpc"

	"github.com/compostwatch/compostwatch/pkg/reportrpc"
	"github.com/compostwatch/compostwatch/server/internal/alerts"
	"github.com/compostwatch/compostwatch/server/internal/api"
	"github.com/compostwatch/compostwatch/server/internal/auth"
	"github.com/compostwatch/compostwatch/server/internal/config"
	"github.com/compostwatch/compostwatch/server/internal/history"
	"github.com/compostwatch/compostwatch/server/internal/receiver"
	"github.com/compostwatch/compostwatch/server/internal/store"
	"github.com/compostwatch/compostwatch/server/internal/ws"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	uiDir := flag.String("ui-dir", "", "serve the dashboard static files from this directory; leave empty to disable")
	flag.Parse()

	var level slog.LevelVar
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: &level}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file, using process environment")
	}

	slog.Info("compostwatch-server starting", "config", *configPath)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	level.Set(parseLevel(cfg.Server.LogLevel))
	slog.Info("config loaded",
		"grpc_port", cfg.Server.GRPCPort,
		"http_port", cfg.Server.HTTPPort,
		"auth_mode", cfg.Server.Auth.Mode,
		"report_ttl", cfg.Server.Store.TTL,
		"alert_rules", len(cfg.Server.Alerts.Rules),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	st := store.New(cfg.Server.Store.TTL, cfg.Server.Store.TransitionHistory)
	go st.Run(ctx)

	alertEngine, err := alerts.New(cfg.Server.Alerts)
	if err != nil {
		slog.Error("invalid alert rules", "err", err)
		os.Exit(1)
	}

	var recorder receiver.Recorder
	if cfg.Server.History.URL != "" {
		hw, err := history.NewWriter(ctx, cfg.Server.History)
		if err != nil {
			slog.Error("history disabled", "err", err)
		} else {
			defer hw.Close()
			recorder = hw
		}
	}

	authMode := cfg.Server.Auth.Mode
	authHeader := cfg.Server.Auth.EffectiveHeader()
	authKey := cfg.Server.Auth.Key()

	grpcSrv := grpc.NewServer(grpc.UnaryInterceptor(auth.APIKeyInterceptor(authMode, authHeader, authKey)))
	reportrpc.RegisterReportServiceServer(grpcSrv, receiver.New(st, alertEngine, recorder))

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Server.GRPCPort))
	if err != nil {
		slog.Error("failed to listen on gRPC port", "port", cfg.Server.GRPCPort, "err", err)
		os.Exit(1)
	}
	go func() {
		slog.Info("gRPC receiver listening", "port", cfg.Server.GRPCPort)
		if err := grpcSrv.Serve(lis); err != nil {
			slog.Error("gRPC server stopped", "err", err)
		}
	}()

	apiHandler := api.New(st, alertEngine)
	hub := ws.New(apiHandler, cfg.Server.BroadcastInterval)
	go hub.Run(ctx)

	protect := auth.HTTPMiddleware(authMode, authHeader, authKey, "/api/v1/health")
	httpMux := http.NewServeMux()
	httpMux.Handle("/api/", protect(apiHandler))
	httpMux.Handle("/ws/stream", protect(hub))

	if *uiDir != "" {
		fs := http.FileServer(http.Dir(*uiDir))
		httpMux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
			// SPA fallback
			if _, err := os.Stat(*uiDir + r.URL.Path); os.IsNotExist(err) {
				http.ServeFile(w, r, *uiDir+"/index.html")
				return
			}
			fs.ServeHTTP(w, r)
		})
		slog.Info("serving dashboard static files", "dir", *uiDir)
	}

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:           httpMux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		slog.Info("HTTP server listening", "port", cfg.Server.HTTPPort)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server stopped", "err", err)
		}
	}()

	<-ctx.Done()
	slog.Info("compostwatch-server shutting down")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()
	grpcSrv.GracefulStop()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("HTTP shutdown", "err", err)
	}
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}
