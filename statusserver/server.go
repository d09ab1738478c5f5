// Package statusserver exposes a small diagnostics HTTP surface over
// the running Supervisor: liveness, a point-in-time status snapshot,
// and a live telemetry record feed over WebSocket, which requires a
// JWT when auth is enabled. It never serves telemetry history or accepts
// acquisition commands — that stays on the MQTT command channel.
package statusserver

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"
	"golang.org/x/crypto/bcrypt"

	"github.com/kdvlr/modbustt/services"
)

// Config controls whether the server runs and, if so, how it
// authenticates operators.
type Config struct {
	Enabled          bool
	Address          string
	AuthEnabled      bool
	OperatorPassword string // plaintext or bcrypt hash; hashed by New if plaintext and auth is enabled
	JWTSecret        string
}

// Server serves the diagnostics HTTP surface backed by a Supervisor.
type Server struct {
	cfg         Config
	supervisor  *services.Supervisor
	broadcaster *RecordBroadcaster
	logger      *log.Logger
	startTime   time.Time
	httpServer  *http.Server

	passwordHash string
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// New builds a Server. broadcaster is the RecordBroadcaster shared
// with the Supervisor's exporter set; pass nil to have the server
// create its own (useful for tests that never feed it real records).
// Call Start to begin listening.
func New(cfg Config, supervisor *services.Supervisor, broadcaster *RecordBroadcaster, logger *log.Logger) (*Server, error) {
	if logger == nil {
		logger = log.Default()
	}
	if cfg.Address == "" {
		cfg.Address = "127.0.0.1:8090"
	}
	if broadcaster == nil {
		broadcaster = NewRecordBroadcaster()
		broadcaster.Connect()
	}

	s := &Server{
		cfg:         cfg,
		supervisor:  supervisor,
		broadcaster: broadcaster,
		logger:      logger,
		startTime:   time.Now(),
	}

	if cfg.AuthEnabled {
		hash, err := passwordHash(cfg.OperatorPassword)
		if err != nil {
			return nil, fmt.Errorf("statusserver: hash operator password: %w", err)
		}
		s.passwordHash = hash
	}

	return s, nil
}

// passwordHash returns a bcrypt hash for raw. If raw already looks
// like a bcrypt hash, it is returned unchanged.
func passwordHash(raw string) (string, error) {
	if _, err := bcrypt.Cost([]byte(raw)); err == nil {
		return raw, nil
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(raw), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

// Start builds the route table and begins listening in the
// background. It returns immediately; call Shutdown to stop.
func (s *Server) Start() error {
	r := mux.NewRouter()
	r.Use(s.recoverMiddleware)
	r.Use(s.loggingMiddleware)

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)

	if s.cfg.AuthEnabled {
		r.HandleFunc("/auth/login", s.handleLogin).Methods(http.MethodPost)
		r.Handle("/ws/status", s.authMiddleware(http.HandlerFunc(s.handleWSStatus))).Methods(http.MethodGet)
	} else {
		r.HandleFunc("/ws/status", s.handleWSStatus).Methods(http.MethodGet)
	}

	handler := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}).Handler(r)

	s.httpServer = &http.Server{
		Addr:         s.cfg.Address,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		s.logger.Printf("statusserver: listening on %s", s.cfg.Address)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Printf("statusserver: serve error: %v", err)
		}
	}()

	return nil
}

// Shutdown closes the HTTP listener and its open connections
// immediately, without waiting for in-flight requests.
func (s *Server) Shutdown() error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Close()
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				s.logger.Printf("statusserver: panic recovered: %v\n%s", err, debug.Stack())
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusInternalServerError)
				json.NewEncoder(w).Encode(map[string]string{"error": "internal server error"})
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Printf("statusserver: %s %s in %v", r.Method, r.URL.Path, time.Since(start))
	})
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString := bearerToken(r)
		if tokenString == "" {
			http.Error(w, "missing bearer token", http.StatusUnauthorized)
			return
		}

		token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
			}
			return []byte(s.cfg.JWTSecret), nil
		})
		if err != nil || !token.Valid {
			http.Error(w, "invalid or expired token", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(auth) > len(prefix) && auth[:len(prefix)] == prefix {
		return auth[len(prefix):]
	}
	return ""
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "healthy",
		"uptime": time.Since(s.startTime).String(),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.supervisor.Snapshot())
}

type loginRequest struct {
	Password string `json:"password"`
}

type loginResponse struct {
	Token string `json:"token"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(s.passwordHash), []byte(req.Password)); err != nil {
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
		return
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "operator",
		"exp": time.Now().Add(12 * time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(s.cfg.JWTSecret))
	if err != nil {
		http.Error(w, "failed to issue token", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, loginResponse{Token: signed})
}

// handleWSStatus streams one JSON message per TelemetryRecord emitted
// by any collector — a record feed, not a status poll. It reads from
// the same RecordBroadcaster exporter every collector's fan-out writes to.
func (s *Server) handleWSStatus(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Printf("statusserver: websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	records, cancel := s.broadcaster.Subscribe()
	defer cancel()

	// A reader goroutine is the only way to learn the client went away
	// between records; this connection never reads application data.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case record, ok := <-records:
			if !ok {
				return
			}
			if err := conn.WriteJSON(record); err != nil {
				return
			}
		case <-closed:
			return
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
