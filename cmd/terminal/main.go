package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/georgemunganga/printa-checkout/internal/cache"
	"github.com/georgemunganga/printa-checkout/internal/checkout/autopay"
	"github.com/georgemunganga/printa-checkout/internal/checkout/backend"
	"github.com/georgemunganga/printa-checkout/internal/checkout/device"
	"github.com/georgemunganga/printa-checkout/internal/checkout/events"
	"github.com/georgemunganga/printa-checkout/internal/checkout/finalize"
	"github.com/georgemunganga/printa-checkout/internal/checkout/ledgerclient"
	"github.com/georgemunganga/printa-checkout/internal/checkout/reconcile"
	"github.com/georgemunganga/printa-checkout/internal/checkout/redemption"
	"github.com/georgemunganga/printa-checkout/internal/checkout/reward"
	"github.com/georgemunganga/printa-checkout/internal/config"
	"github.com/georgemunganga/printa-checkout/internal/httpclient"
	"github.com/georgemunganga/printa-checkout/internal/logger"
	"github.com/georgemunganga/printa-checkout/internal/metrics"
	"github.com/georgemunganga/printa-checkout/internal/modules/auth"
	"github.com/georgemunganga/printa-checkout/internal/modules/pos"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

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
	lg = lg.With("store_id", cfg.Terminal.StoreID)

	reg := metrics.NewRegistry()

	// ── Reconciliation journal ──────────────────────────────
	journal, err := reconcile.OpenJournal(cfg.Journal.Dir)
	if err != nil {
		lg.Fatalw("open reconciliation journal", "dir", cfg.Journal.Dir, "error", err)
	}
	defer journal.Close()
	if open, err := journal.CountOpen(); err == nil {
		reg.ReconciliationOpen.Set(float64(open))
		if open > 0 {
			lg.Warnw("reconciliation records awaiting follow-up", "open", open)
		}
	}

	// ── Backend clients ─────────────────────────────────────
	ledgerHTTP := httpclient.NewDefaultClient(httpclient.ClientConfig{
		Timeout:     cfg.Ledger.Timeout,
		MaxRetries:  cfg.Ledger.MaxRetries,
		BearerToken: cfg.Terminal.BackendToken,
	}, lg)
	syncHTTP := httpclient.NewDefaultClient(httpclient.ClientConfig{
		Timeout:     cfg.Sync.Timeout,
		MaxRetries:  cfg.Sync.MaxRetries,
		BearerToken: cfg.Terminal.BackendToken,
	}, lg)

	ledgerClient := ledgerclient.NewCachedClient(
		ledgerclient.NewHTTPClient(cfg.Terminal.BackendURL, ledgerHTTP, reg),
		cache.NewManager[*ledgerclient.Balance](cache.PrefixBalance, cfg.Ledger.CacheFreshness, cache.SystemClock{}),
	)
	backendClient := backend.NewClient(cfg.Terminal.BackendURL, syncHTTP, backend.Options{
		MethodsTTL:  cfg.Methods.CacheTTL,
		ProgramsTTL: cfg.Methods.CacheTTL,
		Clock:       cache.SystemClock{},
	})
	// coupon checks get their own, shorter budget
	couponClient := backend.NewClient(cfg.Terminal.BackendURL, httpclient.NewDefaultClient(httpclient.ClientConfig{
		Timeout:     cfg.Coupon.Timeout,
		BearerToken: cfg.Terminal.BackendToken,
	}, lg), backend.Options{})

	// ── Devices ─────────────────────────────────────────────
	queue := device.NewQueue(device.QueueConfig{
		Workers:     cfg.Devices.Workers,
		Size:        cfg.Devices.QueueSize,
		MaxAttempts: cfg.Devices.MaxAttempts,
	}, lg.With("component", "devices"), reg)
	deviceHTTP := httpclient.NewDefaultClient(httpclient.ClientConfig{Timeout: cfg.Devices.PrintTimeout}, nil)

	var (
		drawer  device.Drawer
		display device.PoleDisplay
		printer device.Printer
	)
	if cfg.Devices.DrawerURL != "" {
		drawer = device.NewHTTPDrawer(cfg.Devices.DrawerURL, deviceHTTP)
	}
	if cfg.Devices.PoleDisplayURL != "" {
		display = device.NewWSPoleDisplay(cfg.Devices.PoleDisplayURL)
	}
	if cfg.Devices.PrintURL != "" {
		printer = device.NewHTTPPrinter(cfg.Devices.PrintURL, deviceHTTP)
	}
	hub := device.NewHub(queue, drawer, display, printer, device.Timeouts{
		Drawer:  cfg.Devices.DrawerTimeout,
		Display: cfg.Devices.DisplayTimeout,
		Print:   cfg.Devices.PrintTimeout,
	})

	// ── Events ──────────────────────────────────────────────
	var publisher events.Publisher = events.Noop{}
	if len(cfg.Kafka.Brokers) > 0 {
		publisher = events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
	}
	defer publisher.Close()

	// ── Saga ────────────────────────────────────────────────
	orchestrator := redemption.NewOrchestrator(ledgerClient, reward.NewApplicator(), journal,
		lg.With("component", "redemption"), reg)
	binder := autopay.NewBinder(backendClient, lg.With("component", "autopay"))
	finalizer := finalize.New(finalize.Deps{
		Backend:   backendClient,
		Coupons:   couponClient,
		Ledger:    ledgerClient,
		Holds:     orchestrator,
		Devices:   hub,
		Publisher: publisher,
		Tasks:     queue,
		Log:       lg.With("component", "finalize"),
		Metrics:   reg,
	}, finalize.Options{
		FinalizeRoles: cfg.Auth.FinalizeRoles,
		CashKind:      cfg.Terminal.CashMethodKind,
		TaskTimeout:   cfg.Sync.Timeout,
	})

	// holds left by a previous run belong to sales that no longer exist
	recoverCtx, recoverCancel := context.WithTimeout(context.Background(), cfg.Ledger.Timeout*4)
	recovered, err := orchestrator.Recover(recoverCtx)
	recoverCancel()
	if err != nil {
		lg.Errorw("hold recovery", "error", err)
	} else if recovered != (redemption.Recovery{}) {
		lg.Infow("recovered holds from previous run",
			"rolled_back", recovered.RolledBack,
			"committed", recovered.Committed,
			"failed", recovered.Failed)
	}

	terminal := pos.NewService(pos.Config{
		StoreID:  cfg.Terminal.StoreID,
		Currency: cfg.Terminal.Currency,
	}, pos.Deps{
		Store:        pos.NewMemoryStore(cfg.Terminal.ClosedOrderRetention),
		Programs:     backendClient,
		Methods:      backendClient,
		Orchestrator: orchestrator,
		Binder:       binder,
		Finalizer:    finalizer,
		Journal:      journal,
		Log:          lg.With("component", "terminal"),
		Metrics:      reg,
	})

	// ── Router ──────────────────────────────────────────────
	router := chi.NewRouter()
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)
	router.Use(middleware.RequestID)
	router.Handle("/metrics", reg.Handler())
	router.Group(func(r chi.Router) {
		r.Use(auth.Middleware(auth.NewVerifier(cfg.Auth.JWTSecret)))
		pos.NewHandler(terminal, reg.Handler()).RegisterRoutes(r)
	})

	// ── Start Server ─────────────────────────────────────────
	srv := &http.Server{Addr: cfg.Server.Address, Handler: router}
	go func() {
		lg.Infow("Printa terminal starting", "address", cfg.Server.Address, "backend", cfg.Terminal.BackendURL)
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
	queue.Close(ctx)
}
