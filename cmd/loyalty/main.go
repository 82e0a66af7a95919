package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/orbisretail/loyalty/internal/account"
	"github.com/orbisretail/loyalty/internal/auth"
	"github.com/orbisretail/loyalty/internal/broker"
	"github.com/orbisretail/loyalty/internal/config"
	"github.com/orbisretail/loyalty/internal/dashboard"
	"github.com/orbisretail/loyalty/internal/handler"
	"github.com/orbisretail/loyalty/internal/ledger"
	"github.com/orbisretail/loyalty/internal/logger"
	"github.com/orbisretail/loyalty/internal/notifier"
	"github.com/orbisretail/loyalty/internal/reconcile"
	"github.com/orbisretail/loyalty/internal/service"
	"github.com/orbisretail/loyalty/internal/store"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	cfg, err := config.GetConfig()
	if err != nil {
		return err
	}

	zaplog, err := logger.NewZapLog(cfg.Logger)
	if err != nil {
		return err
	}
	defer zaplog.Sync()

	led, err := newLedger(cfg)
	if err != nil {
		return err
	}

	store, err := store.NewStore(cfg.Store, led)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	msgbroker, err := newBroker(cfg.Broker, zaplog)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), cfg.Handler.ShutdownTimeout)
		defer cancel()
		if err := msgbroker.Close(closeCtx); err != nil {
			zaplog.Error("broker close failed", zap.Error(err))
		}
	}()

	// У каждого потребителя своя группа: внутри группы поток делится
	// между экземплярами, разные группы получают полную копию
	accounts := account.NewAccounts(store, msgbroker, zaplog)
	service := service.NewService(store, accounts, msgbroker, led, cfg.Broker.Group, zaplog)
	if err := service.Start(); err != nil {
		return err
	}

	dash := dashboard.New(led, zaplog)
	if err := dash.Start(msgbroker, "dashboard-service-group"); err != nil {
		return err
	}

	ntf := notifier.NewNotifier(cfg.Notifier, zaplog)
	if err := ntf.Start(msgbroker, "notifier-group"); err != nil {
		return err
	}

	rec := reconcile.NewReconciler(store, msgbroker, cfg.Reconcile.Interval, zaplog)
	go rec.Run(ctx)

	auth := auth.NewAuth(cfg.Auth)

	zaplog.Info("loyalty service started",
		zap.String("addr", cfg.Handler.ServerAddr),
		zap.String("broker", cfg.Broker.Kind),
	)
	err = handler.Serve(ctx, cfg.Handler, auth, service, dash, zaplog)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// newLedger собирает таблицу ступеней из конфигурации,
// без нее берется встроенная
func newLedger(cfg config.Config) (*ledger.Ledger, error) {
	if len(cfg.Tiers) == 0 {
		return ledger.Default(), nil
	}
	return ledger.New(cfg.Tiers)
}

func newBroker(cfg config.BrokerConfig, zaplog *zap.Logger) (broker.Broker, error) {
	policy := broker.RetryPolicy{
		MaxAttempts:    cfg.MaxAttempts,
		BaseBackoff:    cfg.BaseBackoff,
		MaxBackoff:     cfg.MaxBackoff,
		HandlerTimeout: cfg.HandlerTimeout,
	}
	switch cfg.Kind {
	case "nats":
		return broker.NewNATS(cfg.NATSURL, zaplog, policy)
	case "", "memory":
		return broker.NewMemory(zaplog, policy), nil
	default:
		return nil, fmt.Errorf("unknown broker kind: %q", cfg.Kind)
	}
}
