// Package txmgr signs and sends transactions, shepherding each one to a
// receipt. Stuck attempts are replaced at the same nonce with bumped fees,
// so one submission can never confirm twice.
package txmgr

import (
	"context"
	"math/big"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"

	"github.com/ijonas/omikuji/internal/config"
	"github.com/ijonas/omikuji/internal/eth"
	"github.com/ijonas/omikuji/internal/gas"
	"github.com/ijonas/omikuji/internal/logger"
	"github.com/ijonas/omikuji/internal/monitoring"
	"github.com/ijonas/omikuji/internal/utils"
)

// Purpose labels for who asked for a submission.
const (
	PurposeDatafeed      = "datafeed"
	PurposeScheduledTask = "scheduled_task"
)

// Status values recorded against a finished submission.
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
	StatusError   = "error"
)

// Request is one transaction the daemon wants on chain.
type Request struct {
	Network string
	Name    string
	Purpose string

	To       common.Address
	Calldata []byte

	// GasOverride carries per-task fee ceilings and a fixed gas limit.
	// Nil for datafeeds, which always use the network configuration.
	GasOverride *config.TaskGasConfig
}

// Outcome is what the caller learns about a finished submission.
type Outcome struct {
	TxHash      common.Hash
	Status      string
	GasUsed     uint64
	BlockNumber uint64
	Attempts    int
}

// Record is the persisted account of a submission, unique by TxHash.
// FeedName carries the task name for scheduled work; the column predates
// scheduled tasks.
type Record struct {
	TxHash            string
	FeedName          string
	Network           string
	GasLimit          uint64
	GasUsed           uint64
	GasPriceGwei      float64
	TotalCostWei      *big.Int
	EfficiencyPercent float64
	TxType            string
	Status            string
	BlockNumber       uint64
	MaxFeeGwei        *float64
	PriorityFeeGwei   *float64
	ErrorMessage      string
	CreatedAt         time.Time
}

// RecordSink accepts finished Records. Implementations must not block;
// the executor treats delivery as fire and forget.
type RecordSink interface {
	SaveTransaction(rec Record)
}

// SignerSource mints a signer bound to one network's client and key.
// *eth.Registry implements it.
type SignerSource interface {
	NewSigner(ctx context.Context, network string) (*eth.Signer, error)
}

// Executor owns the submission state machine. A single instance serves every
// network; per-account locking keeps feeds that share a signer from
// interleaving nonces.
type Executor struct {
	logger   *logger.Logger
	signers  SignerSource
	networks map[string]config.Network
	sink     RecordSink

	nonceLocks utils.KeyedMutex
}

func NewExecutor(lggr *logger.Logger, signers SignerSource, networks []config.Network, sink RecordSink) *Executor {
	byName := make(map[string]config.Network, len(networks))
	for _, n := range networks {
		byName[n.Name] = n
	}
	return &Executor{
		logger:   lggr.Named("TxManager"),
		signers:  signers,
		networks: byName,
		sink:     sink,
	}
}

// submission is the mutable state of one in-flight Submit call. Fees always
// scale from the initial quote, and every attempt shares the nonce.
type submission struct {
	nonce          uint64
	gasLimit       uint64
	initial        gas.Quote
	quote          gas.Quote
	hashes         []common.Hash
	attempt        uint8
	sentAt         time.Time
	nonceRefreshed bool
}

func (s *submission) noteSent(tx *types.Transaction) {
	if s.sentAt.IsZero() {
		s.sentAt = time.Now()
	}
	h := tx.Hash()
	for _, seen := range s.hashes {
		if seen == h {
			return
		}
	}
	s.hashes = append(s.hashes, h)
}

// Submit signs and sends req's calldata, replacing the transaction at the
// same nonce with bumped fees until a receipt lands or the bump budget is
// spent. The caller decides what a returned error means for its own health.
func (ex *Executor) Submit(ctx context.Context, req Request) (Outcome, error) {
	network, ok := ex.networks[req.Network]
	if !ok {
		return Outcome{}, errors.Errorf("no configured network %q", req.Network)
	}
	lggr := ex.logger.With("network", req.Network, "name", req.Name, "purpose", req.Purpose)

	signer, err := ex.signers.NewSigner(ctx, req.Network)
	if err != nil {
		return Outcome{}, err
	}

	// One submission at a time per account. Feeds sharing a signer would
	// otherwise race the pending nonce.
	unlock := ex.nonceLocks.LockString(req.Network + ":" + signer.Address().Hex())
	defer unlock()

	nctx, cancel := eth.DefaultQueryCtx(ctx)
	nonce, err := signer.PendingNonceAt(nctx, signer.Address())
	cancel()
	if err != nil {
		return Outcome{}, errors.Wrapf(err, "network %s: fetching pending nonce", req.Network)
	}

	est := gas.NewEstimator(ex.logger, signer.Client, network)
	quote, err := est.Quote(ctx, req.GasOverride)
	if err != nil {
		return Outcome{}, err
	}

	// Estimation also pre-flights the call: a reverting submission dies
	// here before a nonce or fee is spent on it.
	msg := ethereum.CallMsg{From: signer.Address(), To: &req.To, Data: req.Calldata}
	gasLimit, err := est.GasLimit(ctx, msg, req.GasOverride)
	if err != nil {
		return Outcome{}, err
	}
	monitoring.SetGasLimit(req.Name, req.Network, float64(gasLimit))

	sub := submission{
		nonce:    nonce,
		gasLimit: gasLimit,
		initial:  quote,
		quote:    quote,
	}
	return ex.sendWithRetry(ctx, lggr, signer, est, network, req, sub)
}

func (ex *Executor) sendWithRetry(ctx context.Context, lggr *logger.Logger, signer *eth.Signer, est *gas.Estimator, network config.Network, req Request, sub submission) (Outcome, error) {
	bumpEnabled, maxRetries, window := bumpPolicy(network)

	for {
		signed, err := signer.SignTx(buildTx(signer.ChainID(), sub.nonce, req, sub.gasLimit, sub.quote))
		if err != nil {
			return ex.fail(lggr, req, sub, err)
		}

		sendErr := ex.sendOnce(ctx, signer.Client, signed)
		if sendErr != nil && !sendErr.Fatal() && !sendErr.IsNonceTooLowError() {
			// Transient node or transport trouble gets one immediate
			// resend at the same fee, off the bump budget.
			lggr.Warnw("Resending after transient send failure", "tx", signed.Hash().Hex(), "err", sendErr)
			sendErr = ex.sendOnce(ctx, signer.Client, signed)
		}
		switch {
		case sendErr == nil:
			sub.noteSent(signed)
			lggr.Infow("Transaction sent",
				"tx", signed.Hash().Hex(),
				"nonce", sub.nonce,
				"gasLimit", sub.gasLimit,
				"capGwei", sub.quote.CapGwei(),
				"attempt", sub.attempt+1,
			)
		case sendErr.IsNonceTooLowError() && len(sub.hashes) > 0:
			// The nonce was consumed, so an earlier attempt was mined
			// between sends. The receipt poll below will find it.
			lggr.Debugw("Nonce consumed by an earlier attempt", "nonce", sub.nonce)
		case sendErr.IsNonceTooLowError() && !sub.nonceRefreshed:
			sub.nonceRefreshed = true
			nctx, cancel := eth.DefaultQueryCtx(ctx)
			nonce, err := signer.PendingNonceAt(nctx, signer.Address())
			cancel()
			if err != nil {
				return ex.fail(lggr, req, sub, errors.Wrapf(err, "network %s: refreshing nonce", req.Network))
			}
			lggr.Warnw("Nonce too low, refreshed from pending count", "stale", sub.nonce, "nonce", nonce)
			sub.nonce = nonce
			continue
		case len(sub.hashes) > 0:
			// A live attempt remains in the mempool; a failed
			// replacement does not invalidate it.
			lggr.Warnw("Replacement send failed, waiting on previous attempts", "err", sendErr)
		default:
			return ex.fail(lggr, req, sub, sendErr)
		}

		if receipt := ex.waitForReceipt(ctx, signer.Client, sub.hashes, window); receipt != nil {
			return ex.finish(lggr, req, sub, receipt)
		}
		if ctx.Err() != nil {
			return ex.fail(lggr, req, sub, errors.Wrap(ctx.Err(), "submission interrupted"))
		}

		if !bumpEnabled || sub.attempt >= maxRetries {
			monitoring.IncRetryExhausted(req.Name, req.Network)
			return ex.fail(lggr, req, sub, errors.Errorf("transaction not mined after %d attempts within %s each", sub.attempt+1, window))
		}

		sub.attempt++
		bumped, err := est.Bump(sub.initial, sub.attempt, req.GasOverride)
		if err != nil {
			// The bump hit the configured ceiling. The capped quote
			// still replaces cheaper attempts, so send it anyway.
			lggr.Warnw("Fee bump capped", "attempt", sub.attempt, "err", err)
		}
		sub.quote = bumped
		lggr.Infow("Bumping fee for stuck transaction", "attempt", sub.attempt, "capGwei", sub.quote.CapGwei())
	}
}

// sendOnce pushes a signed attempt, treating "already known" as success:
// the attempt is live in the mempool either way.
func (ex *Executor) sendOnce(ctx context.Context, client eth.Client, tx *types.Transaction) *eth.SendError {
	sctx, cancel := eth.DefaultQueryCtx(ctx)
	defer cancel()
	sendErr := eth.NewSendError(client.SendTransaction(sctx, tx))
	if sendErr == nil || sendErr.IsTransactionAlreadyInMempool() {
		return nil
	}
	return sendErr
}

// waitForReceipt polls every attempt sent under the submission's nonce until
// one is mined or the window closes. Replacements do not invalidate earlier
// attempts; any of them can land.
func (ex *Executor) waitForReceipt(ctx context.Context, client eth.Client, hashes []common.Hash, window time.Duration) *types.Receipt {
	deadline := time.Now().Add(window)
	sleeper := utils.NewBackoffSleeper()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(sleeper.After()):
		}
		for _, h := range hashes {
			rctx, cancel := eth.DefaultQueryCtx(ctx)
			receipt, err := client.TransactionReceipt(rctx, h)
			cancel()
			if err == nil && receipt != nil && receipt.BlockNumber != nil {
				return receipt
			}
		}
		if time.Now().After(deadline) {
			return nil
		}
	}
}

// finish resolves a mined submission: success or an on-chain revert.
func (ex *Executor) finish(lggr *logger.Logger, req Request, sub submission, receipt *types.Receipt) (Outcome, error) {
	status := StatusSuccess
	if receipt.Status != types.ReceiptStatusSuccessful {
		status = StatusFailed
	}

	effective := receipt.EffectiveGasPrice
	if effective == nil {
		// Pre-London nodes omit the field; the quoted price is what
		// the account was charged.
		effective = sub.quote.GasPrice
		if sub.quote.TxType == gas.TxTypeEIP1559 {
			effective = sub.quote.MaxFeePerGas
		}
	}
	totalCost := new(big.Int).Mul(new(big.Int).SetUint64(receipt.GasUsed), effective)
	efficiency := 100 * float64(receipt.GasUsed) / float64(sub.gasLimit)
	costWei, _ := new(big.Float).SetInt(totalCost).Float64()

	monitoring.IncTransactionCount(req.Name, req.Network, status, sub.quote.TxType)
	monitoring.AddGasUsed(req.Name, req.Network, float64(receipt.GasUsed))
	monitoring.ObserveTransactionCostWei(costWei)
	monitoring.ObserveGasEfficiency(efficiency)

	rec := ex.newRecord(req, sub, status, "")
	rec.TxHash = receipt.TxHash.Hex()
	rec.GasUsed = receipt.GasUsed
	rec.GasPriceGwei = gas.GweiFromWei(effective)
	rec.TotalCostWei = totalCost
	rec.EfficiencyPercent = efficiency
	rec.BlockNumber = receipt.BlockNumber.Uint64()

	outcome := Outcome{
		TxHash:      receipt.TxHash,
		Status:      status,
		GasUsed:     receipt.GasUsed,
		BlockNumber: receipt.BlockNumber.Uint64(),
		Attempts:    int(sub.attempt) + 1,
	}

	if status == StatusFailed {
		err := errors.Errorf("transaction %s reverted in block %d", receipt.TxHash.Hex(), rec.BlockNumber)
		rec.ErrorMessage = err.Error()
		ex.deliver(rec)
		lggr.Errorw("Transaction reverted on chain",
			"tx", rec.TxHash,
			"block", rec.BlockNumber,
			"gasUsed", receipt.GasUsed,
		)
		return outcome, err
	}

	ex.deliver(rec)
	lggr.Infow("Transaction confirmed",
		"tx", rec.TxHash,
		"block", rec.BlockNumber,
		"gasUsed", receipt.GasUsed,
		"costWei", totalCost.String(),
		"efficiencyPct", efficiency,
		"waited", time.Since(sub.sentAt),
		"attempts", outcome.Attempts,
	)
	return outcome, nil
}

// fail resolves a submission that will never confirm. If nothing reached the
// mempool the error simply surfaces; otherwise the last attempt is recorded
// so operators can find the abandoned hash.
func (ex *Executor) fail(lggr *logger.Logger, req Request, sub submission, cause error) (Outcome, error) {
	if len(sub.hashes) == 0 {
		return Outcome{}, cause
	}
	last := sub.hashes[len(sub.hashes)-1]

	monitoring.IncTransactionCount(req.Name, req.Network, StatusError, sub.quote.TxType)

	rec := ex.newRecord(req, sub, StatusError, cause.Error())
	rec.TxHash = last.Hex()
	rec.GasPriceGwei = sub.quote.CapGwei()
	ex.deliver(rec)

	lggr.Errorw("Submission abandoned",
		"tx", last.Hex(),
		"attempts", sub.attempt+1,
		"err", cause,
	)
	return Outcome{TxHash: last, Status: StatusError, Attempts: int(sub.attempt) + 1}, cause
}

func (ex *Executor) newRecord(req Request, sub submission, status, errMsg string) Record {
	rec := Record{
		FeedName:     req.Name,
		Network:      req.Network,
		GasLimit:     sub.gasLimit,
		TxType:       sub.quote.TxType,
		Status:       status,
		ErrorMessage: errMsg,
		CreatedAt:    time.Now(),
	}
	if sub.quote.TxType == gas.TxTypeEIP1559 {
		maxFee := gas.GweiFromWei(sub.quote.MaxFeePerGas)
		priority := gas.GweiFromWei(sub.quote.MaxPriorityFeePerGas)
		rec.MaxFeeGwei = &maxFee
		rec.PriorityFeeGwei = &priority
	}
	return rec
}

// deliver hands the record to the sink. Persistence is best effort and never
// blocks or fails a submission.
func (ex *Executor) deliver(rec Record) {
	if ex.sink == nil {
		return
	}
	ex.sink.SaveTransaction(rec)
}

func buildTx(chainID *big.Int, nonce uint64, req Request, gasLimit uint64, q gas.Quote) *types.Transaction {
	to := req.To
	if q.TxType == gas.TxTypeLegacy {
		return types.NewTx(&types.LegacyTx{
			Nonce:    nonce,
			To:       &to,
			Gas:      gasLimit,
			GasPrice: q.GasPrice,
			Data:     req.Calldata,
		})
	}
	return types.NewTx(&types.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     nonce,
		To:        &to,
		Gas:       gasLimit,
		GasFeeCap: q.MaxFeePerGas,
		GasTipCap: q.MaxPriorityFeePerGas,
		Data:      req.Calldata,
	})
}

func bumpPolicy(n config.Network) (enabled bool, maxRetries uint8, window time.Duration) {
	fb := n.GasConfig.FeeBumping
	enabled = fb.Enabled == nil || *fb.Enabled
	maxRetries = config.DefaultFeeBumpMaxRetries
	if fb.MaxRetries != nil {
		maxRetries = *fb.MaxRetries
	}
	secs := config.DefaultFeeBumpInitialWaitSecs
	if fb.InitialWaitSeconds != nil {
		secs = *fb.InitialWaitSeconds
	}
	return enabled, maxRetries, time.Duration(secs) * time.Second
}
