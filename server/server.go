package server

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"spinfm/config"
	"spinfm/core/room"
	"spinfm/logger"
	"spinfm/transport/ws"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

var wsUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Start initializes and starts the HTTP server.
func Start() {
	cfg := config.Load()

	logger.InitLogger(logger.Config{
		Level:      logger.LogLevel(cfg.LogLevel),
		OutputPath: cfg.LogPath,
		MaxSize:    cfg.LogMaxSize,
		MaxBackups: cfg.LogMaxBackups,
		MaxAge:     cfg.LogMaxAge,
		Compress:   true,
	})

	engine := room.NewServer(cfg)

	router := mux.NewRouter()

	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS, HEAD")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, Range")
			w.Header().Set("Access-Control-Expose-Headers", "Content-Length, Content-Range")

			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusOK)
				return
			}

			next.ServeHTTP(w, r)
		})
	})

	router.HandleFunc("/ws", wsHandler(engine)).Methods(http.MethodGet)
	router.HandleFunc("/tracks/{track_id}", trackHandler(engine)).Methods(http.MethodGet, http.MethodHead)

	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		logger.Info("server listening",
			logger.String("addr", cfg.ListenAddr),
			logger.String("name", cfg.ServerName),
			logger.String("serverId", cfg.ServerID))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", logger.ErrorField(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("shutdown failed", logger.ErrorField(err))
	}
}

// wsHandler upgrades a connection and hands the session to the engine.
func wsHandler(engine *room.Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := wsUpgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Error("websocket upgrade failed", logger.ErrorField(err))
			return
		}

		sess := ws.NewSession(conn)
		peer := engine.Connect(sess)
		sess.Start(peer.HandleRPC, peer.Disconnect)
	}
}

// trackHandler serves a track's payload bytes out of the registry.
// Tracks only exist while some room is playing or holding them.
func trackHandler(engine *room.Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		vars := mux.Vars(r)
		track := engine.Tracks().Get(vars["track_id"])
		if track == nil || track.Data == "" {
			http.Error(w, "track not found", http.StatusNotFound)
			return
		}

		contentType := "application/octet-stream"
		if mt, ok := track.Meta["mimeType"].(string); ok && mt != "" {
			contentType = mt
		}
		w.Header().Set("Content-Type", contentType)
		w.Header().Set("Cache-Control", "no-store")
		w.Write([]byte(track.Data))
	}
}
