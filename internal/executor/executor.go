package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"

	"solana-brain/internal/blockchain"
	"solana-brain/internal/config"
)

// swapSource is the subset of jupiter.Client Executor depends on, so tests
// can substitute a fake instead of hitting Jupiter's API.
type swapSource interface {
	GetSwapTransaction(ctx context.Context, inputMint, outputMint, userPubkey string, amountLamports uint64) (string, error)
}

// bundleSender is the subset of BlockEngineClient Executor depends on.
type bundleSender interface {
	SendBundle(ctx context.Context, txsBase64 []string) (string, error)
}

// txChecker resolves a transaction signature's on-chain status. managerTxChecker
// is the production implementation, routed through the RPC Manager's pool.
type txChecker interface {
	CheckTransaction(ctx context.Context, signature string) (*blockchain.TxCheckResult, error)
}

// managerTxChecker adapts a blockchain.Manager to txChecker, the same
// small-interface-over-a-concrete-pool pattern blockhash.go uses for
// ManagerBlockhashSource.
type managerTxChecker struct {
	manager *blockchain.Manager
}

func (c managerTxChecker) CheckTransaction(ctx context.Context, signature string) (*blockchain.TxCheckResult, error) {
	var result *blockchain.TxCheckResult
	err := c.manager.WithRetry(ctx, func(ctx context.Context, ep *blockchain.Endpoint) error {
		r, err := ep.CheckTransaction(ctx, signature)
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	return result, err
}

// Result is the outcome of one executed swap.
type Result struct {
	BundleID      string
	SwapSignature string
	TipLamports   uint64
	Confirmed     bool
}

// Executor builds a swap + tip bundle for a position transition, submits it
// to the block engine, and polls for on-chain confirmation, resubmitting on
// transient failures up to the configured limit.
type Executor struct {
	jupiter     swapSource
	wallet      *blockchain.Wallet
	txBuilder   *blockchain.TransactionBuilder
	blockEngine bundleSender
	checker     txChecker
	tipAccount  string
	cfg         config.ExecutorConfig
}

// NewExecutor wires the production dependencies.
func NewExecutor(
	jupiterClient swapSource,
	wallet *blockchain.Wallet,
	txBuilder *blockchain.TransactionBuilder,
	manager *blockchain.Manager,
	blockEngine bundleSender,
	tipAccount string,
	cfg config.ExecutorConfig,
) *Executor {
	return &Executor{
		jupiter:     jupiterClient,
		wallet:      wallet,
		txBuilder:   txBuilder,
		blockEngine: blockEngine,
		checker:     managerTxChecker{manager: manager},
		tipAccount:  tipAccount,
		cfg:         cfg,
	}
}

// Execute swaps amountLamports of inputMint into outputMint via a tipped
// bundle. It resubmits on transient failures (expired blockhash, rate
// limiting, a bundle not confirmed within cfg.BundleTimeoutMs) up to
// cfg.MaxResubmissions times, and gives up immediately on
// non-transient errors (insufficient balance, program rejection).
func (e *Executor) Execute(ctx context.Context, inputMint, outputMint string, amountLamports uint64) (Result, error) {
	var result Result
	attempt := 0

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 200 * time.Millisecond
	bo.Multiplier = 2
	bo.MaxInterval = 3 * time.Second
	bo.MaxElapsedTime = 0

	op := func() error {
		attempt++
		res, err := e.submitOnce(ctx, inputMint, outputMint, amountLamports)
		result = res
		if err == nil {
			return nil
		}

		txErr := blockchain.ParseTxError(err)
		if attempt > e.cfg.MaxResubmissions || !txErr.Transient() {
			return backoff.Permanent(err)
		}
		log.Warn().Err(err).Int("attempt", attempt).Str("inputMint", inputMint).Msg("bundle submission failed, resubmitting")
		return err
	}

	if err := backoff.Retry(op, backoff.WithContext(bo, ctx)); err != nil {
		return result, err
	}
	return result, nil
}

func (e *Executor) submitOnce(ctx context.Context, inputMint, outputMint string, amountLamports uint64) (Result, error) {
	swapTxBase64, err := e.jupiter.GetSwapTransaction(ctx, inputMint, outputMint, e.wallet.Address(), amountLamports)
	if err != nil {
		return Result{}, fmt.Errorf("build swap transaction: %w", err)
	}

	signedSwapTx, err := e.txBuilder.SignSerializedTransaction(swapTxBase64)
	if err != nil {
		return Result{}, fmt.Errorf("sign swap transaction: %w", err)
	}

	tip := Tip(amountLamports, e.cfg)
	signedTipTx, err := buildTipTransaction(e.wallet, e.txBuilder, e.tipAccount, tip)
	if err != nil {
		return Result{}, fmt.Errorf("build tip transaction: %w", err)
	}

	bundleID, err := e.blockEngine.SendBundle(ctx, []string{signedSwapTx, signedTipTx})
	if err != nil {
		return Result{}, fmt.Errorf("submit bundle: %w", err)
	}

	sig, err := extractSignature(signedSwapTx)
	if err != nil {
		return Result{}, err
	}

	result := Result{BundleID: bundleID, SwapSignature: sig, TipLamports: tip}

	confirmed, err := e.confirm(ctx, sig)
	result.Confirmed = confirmed
	if err != nil {
		return result, err
	}
	if !confirmed {
		// "timeout" in the message makes ParseTxError classify it as transient.
		return result, fmt.Errorf("bundle %s confirmation timeout after %dms", bundleID, e.cfg.BundleTimeoutMs)
	}
	return result, nil
}

func (e *Executor) confirm(ctx context.Context, signature string) (bool, error) {
	timeout := time.Duration(e.cfg.BundleTimeoutMs) * time.Millisecond
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		check, err := e.checker.CheckTransaction(ctx, signature)
		if err == nil && check != nil {
			switch check.Status {
			case "SUCCESS":
				return true, nil
			case "FAILED":
				return false, fmt.Errorf("transaction failed on-chain: %s", check.Message)
			}
		}

		if time.Now().After(deadline) {
			return false, nil
		}

		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-ticker.C:
		}
	}
}
