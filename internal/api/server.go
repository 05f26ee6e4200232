// Package api exposes the read path: market snapshots, candle history,
// health, and the push WebSocket endpoint.
package api

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/signal-back/internal/broadcast"
	"github.com/signal-back/internal/store"
	"github.com/signal-back/internal/universe"
	"github.com/signal-back/pkg/config"
	"github.com/signal-back/pkg/models"
)

// HealthChecker is anything with a liveness probe.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// snapshotCache is the read side of the durable snapshot cache. Served
// as a fallback when a symbol has not reached the in-memory store yet,
// such as right after a restart. May be nil.
type snapshotCache interface {
	GetTicker(ctx context.Context, symbol string) (*models.Ticker, error)
	GetIndicators(ctx context.Context, symbol string) (*models.IndicatorSet, error)
}

// Server is the HTTP read-path server.
type Server struct {
	cfg    *config.Config
	logger *logrus.Logger

	snapshots *store.SnapshotStore
	candles   *store.CandleStore
	universe  *universe.Manager
	wsManager *broadcast.Manager
	cache     snapshotCache

	checks map[string]HealthChecker

	router     *mux.Router
	httpServer *http.Server
}

// NewServer creates the API server. cache may be nil. checks maps
// dependency names to their health probes; nil-valued entries are
// skipped.
func NewServer(
	cfg *config.Config,
	logger *logrus.Logger,
	snapshots *store.SnapshotStore,
	candles *store.CandleStore,
	universeMgr *universe.Manager,
	wsManager *broadcast.Manager,
	cache snapshotCache,
	checks map[string]HealthChecker,
) *Server {
	s := &Server{
		cfg:       cfg,
		logger:    logger,
		snapshots: snapshots,
		candles:   candles,
		universe:  universeMgr,
		wsManager: wsManager,
		cache:     cache,
		checks:    checks,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router = mux.NewRouter()

	s.router.Use(s.loggingMiddleware)
	s.router.Use(s.recoveryMiddleware)
	if s.cfg.Server.CORSEnabled {
		s.router.Use(s.corsMiddleware)
	}

	api := s.router.PathPrefix("/api").Subrouter()

	api.HandleFunc("/health", s.handleHealth).Methods("GET")
	api.HandleFunc("/market", s.handleGetMarket).Methods("GET")
	api.HandleFunc("/market/{symbol}", s.handleGetMarketSymbol).Methods("GET")
	api.HandleFunc("/candles/{symbol}", s.handleGetCandles).Methods("GET")
	api.HandleFunc("/symbols", s.handleGetSymbols).Methods("GET")
	api.HandleFunc("/ws", s.handleWebSocket).Methods("GET")
}

// Router exposes the configured handler, used by tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := s.cfg.GetServerAddr()

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
		IdleTimeout:  s.cfg.Server.IdleTimeout,
	}

	s.logger.WithField("address", addr).Info("Starting HTTP server")
	return s.httpServer.ListenAndServe()
}

// Stop gracefully stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping HTTP server")
	return s.httpServer.Shutdown(ctx)
}

// Middleware

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		s.logger.WithFields(logrus.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   wrapped.statusCode,
			"duration": time.Since(start),
			"remote":   r.RemoteAddr,
		}).Debug("HTTP request")
	})
}

func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				s.logger.WithFields(logrus.Fields{
					"error": err,
					"path":  r.URL.Path,
				}).Error("Panic recovered")
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return handlers.CORS(
		handlers.AllowedOrigins([]string{"*"}),
		handlers.AllowedMethods([]string{"GET", "OPTIONS"}),
		handlers.AllowedHeaders([]string{"Content-Type"}),
	)(next)
}

// Handlers

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	services := make(map[string]bool, len(s.checks))
	healthy := true
	for name, check := range s.checks {
		if check == nil {
			continue
		}
		err := check.Health(r.Context())
		services[name] = err == nil
		if err != nil {
			healthy = false
		}
	}

	status := "healthy"
	code := http.StatusOK
	if !healthy {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}

	s.writeJSON(w, code, map[string]interface{}{
		"status":    status,
		"services":  services,
		"symbols":   len(s.universe.Symbols()),
		"timestamp": time.Now().Unix(),
	})
}

// handleGetMarket returns every tracked symbol's snapshot.
func (s *Server) handleGetMarket(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.snapshots.All())
}

// handleGetMarketSymbol returns one symbol's snapshot. A symbol missing
// from memory is looked up in the durable cache before reporting 404.
func (s *Server) handleGetMarketSymbol(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]

	snap, ok := s.snapshots.Get(symbol)
	if !ok {
		snap, ok = s.cachedSnapshot(r.Context(), symbol)
	}
	if !ok {
		s.writeError(w, http.StatusNotFound, fmt.Sprintf("unknown symbol %s", symbol))
		return
	}
	s.writeJSON(w, http.StatusOK, snap)
}

func (s *Server) cachedSnapshot(ctx context.Context, symbol string) (*store.Snapshot, bool) {
	if s.cache == nil {
		return nil, false
	}

	ticker, err := s.cache.GetTicker(ctx, symbol)
	if err != nil {
		s.logger.WithError(err).WithField("symbol", symbol).Warn("Cache ticker lookup failed")
	}
	set, err := s.cache.GetIndicators(ctx, symbol)
	if err != nil {
		s.logger.WithError(err).WithField("symbol", symbol).Warn("Cache indicator lookup failed")
	}
	if ticker == nil && set == nil {
		return nil, false
	}
	return &store.Snapshot{Ticker: ticker, Indicators: set}, true
}

// handleGetCandles returns the stored window for one symbol and
// timeframe.
func (s *Server) handleGetCandles(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]

	tf, err := models.ParseTimeframe(r.URL.Query().Get("timeframe"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit < 0 {
			s.writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
	}

	candles := s.candles.Recent(symbol, tf, limit)
	if len(candles) == 0 {
		s.writeError(w, http.StatusNotFound, fmt.Sprintf("no candles for %s %s", symbol, tf))
		return
	}
	s.writeJSON(w, http.StatusOK, candles)
}

// handleGetSymbols returns the current universe in rank order.
func (s *Server) handleGetSymbols(w http.ResponseWriter, r *http.Request) {
	symbols := s.universe.Symbols()

	infos := make([]*models.SymbolInfo, 0, len(symbols))
	for _, symbol := range symbols {
		if info, ok := s.universe.Info(symbol); ok {
			infos = append(infos, info)
		}
	}
	s.writeJSON(w, http.StatusOK, infos)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.wsManager == nil {
		http.Error(w, "WebSocket service unavailable", http.StatusServiceUnavailable)
		return
	}
	s.wsManager.HandleWebSocket(w, r)
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.WithError(err).Error("Failed to encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, code int, message string) {
	s.writeJSON(w, code, map[string]string{"error": message})
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Hijack lets the WebSocket upgrade reach the underlying connection
// through the logging wrapper.
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	return hijacker.Hijack()
}
