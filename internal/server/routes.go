// Package server exposes the thread service over HTTP under /api.
package server

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/zjregee/threadchat/internal/config"
)

func SetupRoutes(threads Threads, cfg config.ServerConfig, logger *zap.Logger) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("http")

	maxBodyBytes := cfg.MaxBodyBytes
	if maxBodyBytes <= 0 {
		maxBodyBytes = config.Default().Server.MaxBodyBytes
	}

	h := &handlers{
		threads:      threads,
		maxBodyBytes: maxBodyBytes,
		logger:       logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", h.health)
	mux.HandleFunc("GET /api/threads", h.listThreads)
	mux.HandleFunc("GET /api/threads/{id}", h.getThread)
	mux.HandleFunc("POST /api/threads/{id}", h.appendTurn)
	mux.HandleFunc("POST /api/threads/{id}/reply", h.regenerateReply)
	mux.HandleFunc("DELETE /api/threads/{id}", h.deleteThread)

	origins := newOriginPolicy(cfg.AllowedOrigins, logger)

	return recoverPanics(logger, logRequests(logger, origins.middleware(mux)))
}
