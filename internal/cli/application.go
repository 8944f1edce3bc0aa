package cli

import (
	"context"
	"os"
	"os/signal"
	"reflect"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/ijonas/omikuji/internal/balance"
	"github.com/ijonas/omikuji/internal/config"
	"github.com/ijonas/omikuji/internal/eth"
	"github.com/ijonas/omikuji/internal/feed"
	"github.com/ijonas/omikuji/internal/keys"
	"github.com/ijonas/omikuji/internal/logger"
	"github.com/ijonas/omikuji/internal/monitoring"
	"github.com/ijonas/omikuji/internal/scheduler"
	"github.com/ijonas/omikuji/internal/services"
	"github.com/ijonas/omikuji/internal/store"
	"github.com/ijonas/omikuji/internal/txmgr"
)

// shutdownDeadline bounds how long a signal-initiated stop may take before
// the process is terminated anyway.
const shutdownDeadline = 30 * time.Second

// Application owns every long-lived service of the daemon and starts them in
// dependency order: metrics endpoint, provider registry, store writer, feed
// monitors, scheduled tasks, balance monitor, retention sweeper. Stop closes
// them in reverse.
type Application interface {
	Start() error
	Stop() error
	StopIfStarted() error
	Done() <-chan struct{}
	GetLogger() *logger.Logger
	GetConfig() *config.Config
	GetStore() *store.Store
	GetHealthChecker() services.Checker
}

type OmikujiApplication struct {
	Exiter func(int)

	logger        *logger.Logger
	cfg           *config.Config
	store         *store.Store
	registry      *eth.Registry
	healthChecker services.Checker
	subservices   []services.Service

	started      bool
	startStopMu  sync.Mutex
	shutdownOnce sync.Once
	done         chan struct{}
}

var _ Application = &OmikujiApplication{}

// NewApplication wires the full service graph. The store connects and
// migrates here; if DATABASE_URL is unset the daemon runs degraded, without
// persistence. The registry is built but not dialed until Start.
func NewApplication(lggr *logger.Logger, cfg *config.Config, legacyKeyEnvVar string) (Application, error) {
	healthChecker := services.NewChecker()

	storage, err := keys.NewStorage(lggr, cfg.KeyStorage, legacyKeyEnvVar)
	if err != nil {
		return nil, errors.Wrap(err, "building key storage")
	}
	provider := keys.NewProvider(lggr, storage)

	db, err := store.Open(lggr)
	if err != nil {
		return nil, err
	}

	registry := eth.NewRegistry(lggr, cfg.Networks, provider)
	executor := txmgr.NewExecutor(lggr, registry, cfg.Networks, db)
	feeds := feed.NewManager(lggr, cfg, registry, executor, db)
	tasks := scheduler.NewManager(lggr, cfg, registry, executor)
	sweeper, err := store.NewSweeper(lggr, cfg, db)
	if err != nil {
		return nil, err
	}

	subservices := make([]services.Service, 0, 8)
	if cfg.Metrics.Enabled == nil || *cfg.Metrics.Enabled {
		subservices = append(subservices, monitoring.NewServer(cfg.Metrics.Port, healthChecker, lggr))
	}
	subservices = append(subservices, registry, db, feeds, tasks)

	accounts := resolveAccounts(lggr, cfg, provider)
	if len(accounts) > 0 {
		subservices = append(subservices, balance.NewMonitor(lggr, registry, accounts))
	}
	subservices = append(subservices, sweeper)

	app := &OmikujiApplication{
		Exiter:        os.Exit,
		logger:        lggr,
		cfg:           cfg,
		store:         db,
		registry:      registry,
		healthChecker: healthChecker,
		subservices:   subservices,
		done:          make(chan struct{}),
	}

	for _, service := range app.subservices {
		if err := app.healthChecker.Register(reflect.TypeOf(service).String(), service); err != nil {
			return nil, err
		}
	}

	return app, nil
}

// resolveAccounts maps each configured network to its signing address. A
// network whose key cannot be resolved is left out; its feeds will report
// their own errors when they try to submit.
func resolveAccounts(lggr *logger.Logger, cfg *config.Config, provider *keys.Provider) map[string]common.Address {
	accounts := make(map[string]common.Address, len(cfg.Networks))
	for _, n := range cfg.Networks {
		addr, err := provider.Address(context.Background(), n.Name)
		if err != nil {
			lggr.Warnw("No signing key resolved for network, balance monitoring disabled for it",
				"network", n.Name, "error", err.Error())
			continue
		}
		accounts[n.Name] = addr
	}
	return accounts
}

func (app *OmikujiApplication) Start() error {
	app.startStopMu.Lock()
	defer app.startStopMu.Unlock()
	if app.started {
		panic("application is already started")
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigs
		app.logger.Infow("Shutdown signal received", "signal", sig.String())
		go func() {
			<-time.After(shutdownDeadline)
			app.logger.Error("Graceful shutdown exceeded deadline, terminating")
			app.Exiter(1)
		}()
		app.logger.ErrorIf(app.StopIfStarted())
		app.Exiter(0)
	}()

	for _, subservice := range app.subservices {
		app.logger.Debugw("Starting service...", "serviceType", reflect.TypeOf(subservice))
		if err := subservice.Start(); err != nil {
			return err
		}
	}

	if err := app.healthChecker.Start(); err != nil {
		return err
	}

	app.started = true

	return nil
}

func (app *OmikujiApplication) StopIfStarted() error {
	app.startStopMu.Lock()
	defer app.startStopMu.Unlock()
	if app.started {
		return app.stop()
	}
	return nil
}

func (app *OmikujiApplication) Stop() error {
	app.startStopMu.Lock()
	defer app.startStopMu.Unlock()
	return app.stop()
}

func (app *OmikujiApplication) stop() error {
	if !app.started {
		panic("application is already stopped")
	}
	var merr error
	app.shutdownOnce.Do(func() {
		defer func() {
			if err := app.logger.Sync(); err != nil {
				// Syncing to a terminal fails on some platforms; only real
				// write errors are worth surfacing.
				msg := err.Error()
				if !strings.Contains(msg, os.ErrInvalid.Error()) &&
					!strings.Contains(msg, "inappropriate ioctl for device") &&
					!strings.Contains(msg, "bad file descriptor") {
					merr = multierr.Append(merr, err)
				}
			}
		}()
		app.logger.Info("Gracefully exiting...")

		// Close services in the reverse order from which they were started.
		for i := len(app.subservices) - 1; i >= 0; i-- {
			service := app.subservices[i]
			app.logger.Debugw("Closing service...", "serviceType", reflect.TypeOf(service))
			merr = multierr.Append(merr, service.Close())
		}

		app.logger.Debug("Closing HealthChecker...")
		merr = multierr.Append(merr, app.healthChecker.Close())

		app.logger.Info("Exited all services")

		app.started = false
		close(app.done)
	})
	return merr
}

// Done closes once Stop has finished winding the services down.
func (app *OmikujiApplication) Done() <-chan struct{} {
	return app.done
}

func (app *OmikujiApplication) GetLogger() *logger.Logger {
	return app.logger
}

func (app *OmikujiApplication) GetConfig() *config.Config {
	return app.cfg
}

func (app *OmikujiApplication) GetStore() *store.Store {
	return app.store
}

func (app *OmikujiApplication) GetHealthChecker() services.Checker {
	return app.healthChecker
}
