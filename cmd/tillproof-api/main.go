package main

import (
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"

	"github.com/yourorg/tillproof/internal/auth"
	"github.com/yourorg/tillproof/internal/db"
	"github.com/yourorg/tillproof/internal/proof"
	"github.com/yourorg/tillproof/internal/prover"
	"github.com/yourorg/tillproof/internal/verify"
)

func main() {
	_ = godotenv.Load()

	logger := slog.Default()
	proofCfg := proof.LoadConfig()
	authCfg := auth.LoadConfig()

	var (
		sessions proof.SessionStore
		recorder verify.Recorder
	)
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		conn, err := db.Connect(dsn)
		if err != nil {
			logger.Error("database connection failed", "error", err)
			os.Exit(1)
		}
		defer conn.Close()

		pgSessions, err := proof.NewPostgresSessionStore(conn)
		if err != nil {
			logger.Error("session store init failed", "error", err)
			os.Exit(1)
		}
		pgRecorder, err := verify.NewPostgresRecorder(conn)
		if err != nil {
			logger.Error("record store init failed", "error", err)
			os.Exit(1)
		}
		sessions = pgSessions
		recorder = pgRecorder
		logger.Info("using postgres stores")
	} else {
		sessions = proof.NewInMemorySessionStore()
		recorder = verify.NewMemoryRecorder()
		logger.Warn("DATABASE_URL not set, using in-memory stores")
	}

	proverKey := []byte(getenv("PROVER_KEY", "tillproof-dev-key"))
	stepDelay := getDuration("PROVER_STEP_DELAY", 500*time.Millisecond)
	engine := prover.NewLocalProver(proverKey, stepDelay)

	manager := proof.NewManager(proofCfg, sessions, engine, logger)
	gateway := verify.NewGateway(sessions, recorder, logger)

	proofSvc := proof.NewService(manager, logger)
	verifySvc := verify.NewService(gateway, logger)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Mount("/proofs", proofSvc.Routes(auth.Middleware(authCfg)))
	r.Mount("/verify", verifySvc.Routes())

	addr := ":" + getenv("PORT", "8080")
	logger.Info("tillproof api listening", "addr", addr)
	if err := http.ListenAndServe(addr, r); err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func getenv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func getDuration(key string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
