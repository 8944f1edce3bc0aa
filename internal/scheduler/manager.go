package scheduler

import (
	"go.uber.org/multierr"

	"github.com/ijonas/omikuji/internal/config"
	"github.com/ijonas/omikuji/internal/eth"
	"github.com/ijonas/omikuji/internal/logger"
	"github.com/ijonas/omikuji/internal/monitoring"
	"github.com/ijonas/omikuji/internal/utils"
)

// ClientSource resolves RPC clients by network name. *eth.Registry
// implements it.
type ClientSource interface {
	Get(network string) (eth.Client, error)
}

// Manager builds and supervises one Runner per configured task.
type Manager struct {
	utils.StartStopOnce
	logger   *logger.Logger
	cfg      *config.Config
	clients  ClientSource
	executor Submitter

	runners []*Runner
}

func NewManager(lggr *logger.Logger, cfg *config.Config, clients ClientSource, executor Submitter) *Manager {
	return &Manager{
		logger:   lggr.Named("TaskManager"),
		cfg:      cfg,
		clients:  clients,
		executor: executor,
	}
}

// Start builds and starts every runner. A task that fails to build is
// logged and skipped; the rest of the daemon is not held hostage to one
// bad entry.
func (m *Manager) Start() error {
	return m.StartOnce("TaskManager", func() error {
		m.logger.Infow("Starting scheduled tasks", "tasks", len(m.cfg.ScheduledTasks))

		for _, task := range m.cfg.ScheduledTasks {
			r, err := m.buildRunner(task)
			if err != nil {
				m.logger.Errorw("Skipping scheduled task", "task", task.Name, "error", err)
				monitoring.IncCriticalError("scheduled_task")
				continue
			}
			m.runners = append(m.runners, r)
		}

		for _, r := range m.runners {
			if err := r.Start(); err != nil {
				return err
			}
		}
		monitoring.SetScheduledTasksActive(float64(len(m.runners)))
		return nil
	})
}

func (m *Manager) buildRunner(task config.ScheduledTask) (*Runner, error) {
	client, err := m.clients.Get(task.Network)
	if err != nil {
		return nil, err
	}
	return NewRunner(m.logger, task, client, m.executor)
}

func (m *Manager) Close() error {
	return m.StopOnce("TaskManager", func() error {
		var merr error
		for _, r := range m.runners {
			merr = multierr.Append(merr, r.Close())
		}
		monitoring.SetScheduledTasksActive(0)
		return merr
	})
}
