// Package scheduler runs the cron-driven contract calls configured under
// scheduled_tasks. Each Runner owns one task: on every firing it checks the
// optional on-chain condition, encodes the target function, and hands the
// call to the transaction executor under purpose=scheduled_task.
package scheduler

import (
	"context"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"

	"github.com/ijonas/omikuji/internal/config"
	"github.com/ijonas/omikuji/internal/contracts"
	"github.com/ijonas/omikuji/internal/eth"
	"github.com/ijonas/omikuji/internal/logger"
	"github.com/ijonas/omikuji/internal/monitoring"
	"github.com/ijonas/omikuji/internal/txmgr"
	"github.com/ijonas/omikuji/internal/utils"
)

// Submitter is the slice of the transaction executor runners use.
type Submitter interface {
	Submit(ctx context.Context, req txmgr.Request) (txmgr.Outcome, error)
}

// Runner drives one scheduled task on a single goroutine, so at most one
// call is in flight. Firings that land while a run is still executing
// collapse into one pending tick.
type Runner struct {
	utils.StartStopOnce
	logger   *logger.Logger
	task     config.ScheduledTask
	client   eth.Client
	executor Submitter

	target   common.Address
	condAddr common.Address

	cronTicker utils.CronTicker
	chStop     chan struct{}
	waitOnStop chan struct{}
}

// NewRunner wires a runner for one task. The config must have been through
// Load, which validates the schedule, the addresses, and that a condition
// names exactly one of property or function.
func NewRunner(lggr *logger.Logger, task config.ScheduledTask, client eth.Client, executor Submitter) (*Runner, error) {
	ticker, err := utils.NewCronTicker(task.Schedule)
	if err != nil {
		return nil, errors.Wrapf(err, "task %q", task.Name)
	}

	r := &Runner{
		logger:     lggr.Named("TaskRunner").With("task", task.Name, "network", task.Network),
		task:       task,
		client:     client,
		executor:   executor,
		target:     common.HexToAddress(task.TargetFunction.ContractAddress),
		cronTicker: ticker,
		chStop:     make(chan struct{}),
		waitOnStop: make(chan struct{}),
	}
	if task.CheckCondition != nil {
		r.condAddr = common.HexToAddress(task.CheckCondition.ContractAddress)
	}
	return r, nil
}

func (r *Runner) Start() error {
	return r.StartOnce("TaskRunner("+r.task.Name+")", func() error {
		go r.consume()
		return nil
	})
}

// Close stops the schedule and waits for an in-flight run to wind down.
func (r *Runner) Close() error {
	return r.StopOnce("TaskRunner("+r.task.Name+")", func() error {
		close(r.chStop)
		<-r.waitOnStop
		return nil
	})
}

func (r *Runner) consume() {
	defer close(r.waitOnStop)

	ctx, cancel := utils.ContextFromChan(r.chStop)
	defer cancel()

	r.logger.Infow("Starting scheduled task", "schedule", r.task.Schedule)
	r.cronTicker.Start()
	defer r.cronTicker.Stop()

	for {
		select {
		case <-r.chStop:
			return
		case <-r.cronTicker.Ticks():
			r.runOnce(ctx)
		}
	}
}

// runOnce performs one firing. Failures are logged and counted; the schedule
// keeps going either way.
func (r *Runner) runOnce(ctx context.Context) {
	if r.task.CheckCondition != nil {
		met, err := r.checkCondition(ctx)
		if err != nil {
			r.logger.Errorw("Condition check failed", "error", err)
			monitoring.IncCriticalError("scheduled_task")
			return
		}
		if !met {
			r.logger.Infow("Condition not met, skipping run")
			return
		}
		r.logger.Debugw("Condition met")
	}

	calldata, err := contracts.PackCall(r.task.TargetFunction.Function, r.task.TargetFunction.Parameters)
	if err != nil {
		r.logger.Errorw("Encoding target function failed", "error", err)
		monitoring.IncCriticalError("scheduled_task")
		return
	}

	r.logger.Infow("Executing scheduled task", "function", r.task.TargetFunction.Function, "target", r.target.Hex())
	outcome, err := r.executor.Submit(ctx, txmgr.Request{
		Network:     r.task.Network,
		Name:        r.task.Name,
		Purpose:     txmgr.PurposeScheduledTask,
		To:          r.target,
		Calldata:    calldata,
		GasOverride: r.task.GasConfig,
	})
	if err != nil {
		// The executor has already recorded and counted the failure.
		r.logger.Errorw("Scheduled task submission failed", "error", err)
		return
	}
	r.logger.Infow("Scheduled task executed", "tx", outcome.TxHash.Hex(), "attempts", outcome.Attempts)
}

// checkCondition reads the configured bool property or zero-arg view function
// and compares it to the expected value.
func (r *Runner) checkCondition(ctx context.Context) (bool, error) {
	cond := r.task.CheckCondition
	name := cond.Property
	if name == "" {
		name = cond.Function
	}

	calldata, err := contracts.PackBoolRead(name)
	if err != nil {
		return false, err
	}

	callCtx, cancel := eth.DefaultQueryCtx(ctx)
	defer cancel()
	raw, err := r.client.CallContract(callCtx, ethereum.CallMsg{To: &r.condAddr, Data: calldata}, nil)
	if err != nil {
		return false, errors.Wrapf(err, "reading %s", name)
	}

	got, err := contracts.UnpackBool(raw)
	if err != nil {
		return false, errors.Wrapf(err, "decoding %s", name)
	}
	r.logger.Debugw("Condition read", "name", name, "value", got, "expected", cond.ExpectedValue)
	return got == cond.ExpectedValue, nil
}
