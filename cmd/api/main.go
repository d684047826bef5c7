package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/georgemunganga/printa-checkout/internal/config"
	"github.com/georgemunganga/printa-checkout/internal/logger"
	"github.com/georgemunganga/printa-checkout/internal/modules/auth"
	"github.com/georgemunganga/printa-checkout/internal/modules/coupon"
	"github.com/georgemunganga/printa-checkout/internal/modules/ledger"
	"github.com/georgemunganga/printa-checkout/internal/modules/order"
	"github.com/georgemunganga/printa-checkout/internal/modules/payment"
	"github.com/georgemunganga/printa-checkout/internal/modules/program"
	"github.com/georgemunganga/printa-checkout/internal/modules/user"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	_ "github.com/lib/pq"
)

// repositories groups the storage of every backend module.
type repositories struct {
	users    user.Repository
	ledger   ledger.Repository
	orders   order.Repository
	coupons  coupon.Repository
	methods  payment.Repository
	programs program.Repository
}

func main() {
	cfg, err := config.NewConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	lg, err := logger.NewLogger(cfg.Logging.Level)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer lg.Sync()

	var repos repositories
	if cfg.Postgres.URL == "" {
		lg.Warnw("no postgres url configured, keeping all data in memory")
		repos = repositories{
			users:    user.NewMemoryRepository(),
			ledger:   ledger.NewMemoryRepository(),
			orders:   order.NewMemoryRepository(),
			coupons:  coupon.NewMemoryRepository(),
			methods:  payment.NewMemoryRepository(),
			programs: program.NewMemoryRepository(),
		}
	} else {
		db, err := sql.Open("postgres", cfg.Postgres.URL)
		if err != nil {
			lg.Fatalw("open database", "error", err)
		}
		defer db.Close()

		if err := db.Ping(); err != nil {
			lg.Fatalw("ping database", "error", err)
		}
		fmt.Println("Successfully connected to the database!")
		repos = repositories{
			users:    user.NewPostgresRepository(db),
			ledger:   ledger.NewPostgresRepository(db),
			orders:   order.NewPostgresRepository(db),
			coupons:  coupon.NewPostgresRepository(db),
			methods:  payment.NewPostgresRepository(db),
			programs: program.NewPostgresRepository(db),
		}
	}

	// ── Router ──────────────────────────────────────────────
	router := chi.NewRouter()
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)
	router.Use(middleware.RequestID)

	// ── Phase 1: Operators ──────────────────────────────────
	userService := user.NewService(repos.users)
	user.NewHandler(userService).RegisterRoutes(router)

	authService := auth.NewService(repos.users, cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	auth.NewHandler(authService).RegisterRoutes(router)

	// ── Phase 2: Resource ledger ────────────────────────────
	ledgerService := ledger.NewService(repos.ledger)
	ledger.NewHandler(ledgerService).RegisterRoutes(router)

	// ── Phase 3: Order sync ─────────────────────────────────
	orderService := order.NewService(repos.orders, ledgerService)
	order.NewHandler(orderService).RegisterRoutes(router)

	// ── Phase 4: Coupons, payment methods, programs ─────────
	coupon.NewHandler(coupon.NewService(repos.coupons)).RegisterRoutes(router)
	payment.NewHandler(payment.NewService(repos.methods)).RegisterRoutes(router)
	program.NewHandler(program.NewService(repos.programs)).RegisterRoutes(router)

	// ── Start Server ─────────────────────────────────────────
	srv := &http.Server{Addr: cfg.Server.Address, Handler: router}
	go func() {
		lg.Infow("Printa API server starting", "address", cfg.Server.Address)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			lg.Fatalw("server stopped", "error", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		lg.Errorw("shutdown", "error", err)
	}
}
