// Package feed polls external price sources and keeps their FluxAggregator
// contracts fresh. One Monitor runs per configured datafeed, owning its
// fetch-decide-submit-record cycle end to end; the Manager resolves contract
// configuration at startup and supervises the monitor set.
package feed

import (
	"context"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/ijonas/omikuji/internal/config"
	"github.com/ijonas/omikuji/internal/contracts"
	"github.com/ijonas/omikuji/internal/logger"
	"github.com/ijonas/omikuji/internal/monitoring"
	"github.com/ijonas/omikuji/internal/txmgr"
	"github.com/ijonas/omikuji/internal/utils"
)

// Submitter is the slice of the transaction executor monitors use.
type Submitter interface {
	Submit(ctx context.Context, req txmgr.Request) (txmgr.Outcome, error)
}

// SampleRecord is one row of the feed log: what the source said and how the
// fetch went. One row is written per poll, error or not.
type SampleRecord struct {
	FeedName      string
	NetworkName   string
	Value         float64
	FeedTimestamp int64
	// HTTPStatus is zero unless the source answered with a non-200 status.
	HTTPStatus   int
	NetworkError bool
	CreatedAt    time.Time
}

// SampleSink accepts feed-log rows. Implementations must not block; the
// monitor fires and forgets.
type SampleSink interface {
	SaveSample(rec SampleRecord)
}

// Submission is the last confirmed update, kept for logging.
type Submission struct {
	Value   float64
	RoundID uint32
	TxHash  common.Hash
	At      time.Time
}

const defaultDecimals = uint8(8)

func decimalsOrDefault(d *uint8) uint8 {
	if d == nil {
		return defaultDecimals
	}
	return *d
}

// Monitor owns one datafeed. All of its state is private to its goroutine;
// cross-task communication goes through the sample sink and the metrics
// registry, which synchronize internally.
type Monitor struct {
	utils.StartStopOnce
	logger     *logger.Logger
	cfg        config.Datafeed
	aggregator *contracts.FluxAggregator
	fetcher    *Fetcher
	executor   Submitter
	sink       SampleSink
	signerAddr common.Address

	decimals  uint8
	minUpdate time.Duration
	checker   *DeviationChecker
	bounds    *SubmissionChecker

	pollTicker utils.PausableTicker
	chStop     chan struct{}
	waitOnStop chan struct{}

	lastSubmitted     *Submission
	consecutiveErrors uint32
	consecutiveSkips  uint32
}

// NewMonitor wires a monitor for one datafeed. The config must have been
// through Load so its optional fields carry their defaults; decimals and
// bounds are expected to be resolved already when read_contract_config is
// set.
func NewMonitor(
	lggr *logger.Logger,
	cfg config.Datafeed,
	aggregator *contracts.FluxAggregator,
	fetcher *Fetcher,
	executor Submitter,
	sink SampleSink,
	signerAddr common.Address,
) *Monitor {
	l := lggr.Named("FeedMonitor").With("feed", cfg.Name, "network", cfg.Networks)

	var min, max *big.Int
	if cfg.MinValue != nil {
		min = &cfg.MinValue.Int
	}
	if cfg.MaxValue != nil {
		max = &cfg.MaxValue.Int
	}

	return &Monitor{
		logger:     l,
		cfg:        cfg,
		aggregator: aggregator,
		fetcher:    fetcher,
		executor:   executor,
		sink:       sink,
		signerAddr: signerAddr,
		decimals:   decimalsOrDefault(cfg.Decimals),
		minUpdate:  time.Duration(*cfg.MinimumUpdateFrequency) * time.Second,
		checker:    NewDeviationChecker(l, *cfg.DeviationThresholdPct),
		bounds:     NewSubmissionChecker(min, max),
		pollTicker: utils.NewPausableTicker(time.Duration(*cfg.CheckFrequency) * time.Second),
		chStop:     make(chan struct{}),
		waitOnStop: make(chan struct{}),
	}
}

// Start begins polling. The first poll runs immediately; later ones follow
// check_frequency.
func (fm *Monitor) Start() error {
	return fm.StartOnce("FeedMonitor("+fm.cfg.Name+")", func() error {
		go fm.consume()
		return nil
	})
}

// Close stops the monitor and waits for the current poll to wind down. An
// in-flight submission is interrupted; the executor records its outcome.
func (fm *Monitor) Close() error {
	return fm.StopOnce("FeedMonitor("+fm.cfg.Name+")", func() error {
		close(fm.chStop)
		<-fm.waitOnStop
		return nil
	})
}

func (fm *Monitor) consume() {
	defer close(fm.waitOnStop)

	ctx, cancel := utils.ContextFromChan(fm.chStop)
	defer cancel()

	fm.logger.Infow("Starting feed monitor", "checkFrequency", *fm.cfg.CheckFrequency)
	fm.pollTicker.Resume()
	defer fm.pollTicker.Destroy()

	fm.poll(ctx)

	for {
		select {
		case <-fm.chStop:
			return
		case <-fm.pollTicker.Ticks():
			fm.poll(ctx)
		}
	}
}

// poll runs one full cycle. A poll never returns an error: every failure is
// recorded against the feed and the next tick starts clean.
func (fm *Monitor) poll(ctx context.Context) {
	started := time.Now()
	sample, err := fm.fetcher.Fetch(ctx, fm.cfg.FeedURL, fm.cfg.FeedJSONPath, fm.cfg.FeedJSONPathTimestamp)
	monitoring.ObserveDatasourceDuration(time.Since(started))
	if err != nil {
		fm.noteFetchFailure(err)
		return
	}

	monitoring.IncDatasourceRequest(fm.cfg.Name, fm.cfg.Networks, "200")
	monitoring.SetDatasourceAvailability(fm.cfg.Name, fm.cfg.Networks, true)
	fm.consecutiveErrors = 0
	monitoring.SetDatasourceConsecutiveErrors(fm.cfg.Name, fm.cfg.Networks, 0)
	monitoring.SetFeedValue(fm.cfg.Name, fm.cfg.Networks, sample.Value)
	fm.logger.Debugw("Fetched sample", "value", sample.Value, "sourceTimestamp", sample.SourceTimestamp)

	rec := SampleRecord{
		FeedName:      fm.cfg.Name,
		NetworkName:   fm.cfg.Networks,
		Value:         sample.Value,
		FeedTimestamp: int64(sample.SourceTimestamp),
		CreatedAt:     time.Now(),
	}
	defer fm.deliver(rec)

	round, err := fm.aggregator.LatestRoundData(ctx)
	if err != nil {
		if !strings.Contains(err.Error(), "No data present") {
			fm.logger.Errorw("Reading latest round failed", "error", err)
			return
		}
		// The aggregator has not accepted a round yet. A zero answer and
		// zero updatedAt let the time trigger drive the first submission.
		round = contracts.RoundData{Answer: new(big.Int), UpdatedAt: new(big.Int), RoundID: new(big.Int)}
	}

	contractValue := DescaleAnswer(round.Answer, fm.decimals)
	deviation, outside := fm.checker.OutsideDeviation(contractValue, decimal.NewFromFloat(sample.Value))
	deviationPct, _ := deviation.Float64()
	contractFloat, _ := contractValue.Float64()
	roundFloat, _ := new(big.Float).SetInt(round.RoundID).Float64()
	monitoring.SetContractValue(fm.cfg.Name, fm.cfg.Networks, contractFloat)
	monitoring.SetContractRound(fm.cfg.Name, fm.cfg.Networks, roundFloat)
	monitoring.SetFeedDeviation(fm.cfg.Name, fm.cfg.Networks, deviationPct)
	monitoring.SetFeedLastUpdate(fm.cfg.Name, fm.cfg.Networks, round.UpdatedAt.Int64())

	sinceUpdate := time.Since(time.Unix(round.UpdatedAt.Int64(), 0))
	timeDue := sinceUpdate >= fm.minUpdate

	var reason string
	switch {
	case timeDue && outside:
		reason = "both_triggers"
	case timeDue:
		reason = "min_frequency_elapsed"
	case outside:
		reason = "deviation_exceeded"
	default:
		fm.skip("below_threshold", "deviationPct", deviationPct, "sinceUpdate", sinceUpdate)
		return
	}

	submission := ScaleSubmission(sample.Value, fm.decimals)
	if !fm.bounds.IsValid(submission) {
		monitoring.IncInvalidValue(fm.cfg.Name, fm.cfg.Networks, "out_of_bounds")
		fm.skip("out_of_bounds", "submission", submission.String())
		return
	}

	state, err := fm.aggregator.OracleRoundState(ctx, fm.signerAddr)
	if err != nil {
		fm.logger.Errorw("Reading oracle round state failed", "error", err)
		return
	}
	if !state.EligibleToSubmit {
		fm.skip("not_eligible", "roundId", state.RoundID)
		return
	}

	calldata, err := fm.aggregator.SubmitCalldata(new(big.Int).SetUint64(uint64(state.RoundID)), submission)
	if err != nil {
		fm.logger.Errorw("Encoding submission failed", "error", err)
		return
	}

	monitoring.RecordUpdateDecision(fm.cfg.Name, fm.cfg.Networks, "update", reason)
	monitoring.IncUpdateAttempt(fm.cfg.Name, fm.cfg.Networks)
	fm.logger.Infow("Update triggered",
		"reason", reason,
		"value", sample.Value,
		"submission", submission.String(),
		"roundId", state.RoundID,
		"deviationPct", deviationPct,
		"sinceUpdate", sinceUpdate,
	)

	outcome, err := fm.executor.Submit(ctx, txmgr.Request{
		Network:  fm.cfg.Networks,
		Name:     fm.cfg.Name,
		Purpose:  txmgr.PurposeDatafeed,
		To:       fm.aggregator.Address(),
		Calldata: calldata,
	})
	if err != nil {
		// The executor has already recorded and counted the failure; the
		// feed itself stays healthy and polls again next tick.
		fm.logger.Errorw("Submission failed", "error", err)
		return
	}

	fm.lastSubmitted = &Submission{
		Value:   sample.Value,
		RoundID: state.RoundID,
		TxHash:  outcome.TxHash,
		At:      time.Now(),
	}
	fm.consecutiveSkips = 0
	monitoring.SetConsecutiveSkipped(fm.cfg.Name, fm.cfg.Networks, 0)
	monitoring.ObserveUpdateDeviation(deviationPct)
	if lag := time.Now().Unix() - int64(sample.SourceTimestamp); lag > 0 {
		monitoring.ObserveUpdateLag(float64(lag))
	}
	fm.logger.Infow("Contract updated",
		"value", sample.Value,
		"roundId", state.RoundID,
		"tx", outcome.TxHash.Hex(),
		"attempts", outcome.Attempts,
	)
}

func (fm *Monitor) skip(reason string, fields ...interface{}) {
	monitoring.RecordUpdateDecision(fm.cfg.Name, fm.cfg.Networks, "skip", reason)
	fm.consecutiveSkips++
	monitoring.SetConsecutiveSkipped(fm.cfg.Name, fm.cfg.Networks, float64(fm.consecutiveSkips))
	fm.logger.Debugw("Skipping update", append([]interface{}{"reason", reason}, fields...)...)
}

// noteFetchFailure records a failed poll: the sample row carries the error
// fields and the availability gauge drops until the next good fetch.
func (fm *Monitor) noteFetchFailure(err error) {
	rec := SampleRecord{
		FeedName:    fm.cfg.Name,
		NetworkName: fm.cfg.Networks,
		CreatedAt:   time.Now(),
	}

	var ferr *FetchError
	if errors.As(err, &ferr) {
		rec.HTTPStatus = ferr.StatusCode
		rec.NetworkError = ferr.IsNetwork()
		monitoring.IncDatasourceRequest(fm.cfg.Name, fm.cfg.Networks, ferr.StatusLabel())
		if ferr.IsParse() {
			monitoring.IncParseError(fm.cfg.Name, fm.cfg.Networks)
		}
	}

	fm.consecutiveErrors++
	monitoring.SetDatasourceAvailability(fm.cfg.Name, fm.cfg.Networks, false)
	monitoring.SetDatasourceConsecutiveErrors(fm.cfg.Name, fm.cfg.Networks, float64(fm.consecutiveErrors))

	fm.logger.Warnw("Fetching sample failed", "error", err, "consecutiveErrors", fm.consecutiveErrors)
	fm.deliver(rec)
}

func (fm *Monitor) deliver(rec SampleRecord) {
	if fm.sink == nil {
		return
	}
	fm.sink.SaveSample(rec)
}
