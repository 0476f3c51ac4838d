// Package swap implements Swap of SPEC_FULL.md §4.9: quote → build →
// sign → broadcast → confirm, with escalating slippage on sell retries,
// key-pool rotation on rate limits, and on-chain reconciliation when
// confirmation times out. Generalized from the teacher's IDEXProvider/
// IDEXAggregator seam (pkg/dex/aggregator.go) into a single Jupiter-
// shaped Provider, the only aggregator spec.md §6 describes.
package swap

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"

	"github.com/algonius/hunter-copytrader/pkg/chain"
	coperrors "github.com/algonius/hunter-copytrader/pkg/errors"
	"github.com/algonius/hunter-copytrader/pkg/keypool"
)

// Provider is the pluggable swap-aggregator seam named in SPEC_FULL.md
// §4.9's design note: only a Jupiter-shaped HTTP implementation exists
// today, but the pipeline below depends only on this interface so the
// key pool and retry/escalation logic stay aggregator-agnostic.
type Provider interface {
	Quote(ctx context.Context, req QuoteRequest) (QuoteResponse, error)
	BuildSwap(ctx context.Context, req BuildRequest) (string, error) // returns base64 versioned tx
}

// QuoteRequest mirrors the Jupiter-style GET /quote query parameters.
type QuoteRequest struct {
	InputMint         string
	OutputMint        string
	AmountRaw         uint64
	SlippageBps       int
	OnlyDirectRoutes  bool
	AsLegacyTransaction bool
}

// QuoteResponse is the aggregator's quote payload, kept opaque except
// for the one field the pipeline needs to inspect.
type QuoteResponse struct {
	OutAmountRaw uint64
	Raw          json.RawMessage
}

// BuildRequest mirrors the Jupiter-style POST /swap body.
type BuildRequest struct {
	UserPublicKey               string
	Quote                       QuoteResponse
	WrapAndUnwrapSol             bool
	ComputeUnitPriceMicroLamports string
}

const (
	quoteBackoffBase = 5 * time.Second
	quoteBackoffStep = 3 * time.Second
)

// Executor runs the full swap pipeline over a Provider, a Chain and a
// Signer, with the key-pool rotation and reconciliation rules of
// spec.md §4.9.
type Executor struct {
	provider Provider
	chain    *chain.Chain
	signer   chain.Signer
	aggKeys  *keypool.KeyPool
	logger   *zap.Logger

	txVerifyMaxWait          time.Duration
	txVerifyRetryMaxWait      time.Duration
	txVerifyReconcileDelay    time.Duration
	txVerifyReconcileRetries  int
}

// Config configures an Executor.
type Config struct {
	Provider Provider
	Chain    *chain.Chain
	Signer   chain.Signer
	AggKeys  *keypool.KeyPool
	Logger   *zap.Logger

	TxVerifyMaxWait         time.Duration
	TxVerifyRetryMaxWait     time.Duration
	TxVerifyReconcileDelay   time.Duration
	TxVerifyReconcileRetries int
}

// New builds an Executor from Config, applying spec.md §4.9's default
// windows where the caller leaves a duration zero.
func New(cfg Config) *Executor {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Executor{
		provider:                 cfg.Provider,
		chain:                    cfg.Chain,
		signer:                   cfg.Signer,
		aggKeys:                  cfg.AggKeys,
		logger:                   logger,
		txVerifyMaxWait:          cfg.TxVerifyMaxWait,
		txVerifyRetryMaxWait:     cfg.TxVerifyRetryMaxWait,
		txVerifyReconcileDelay:   cfg.TxVerifyReconcileDelay,
		txVerifyReconcileRetries: cfg.TxVerifyReconcileRetries,
	}
	if e.txVerifyMaxWait == 0 {
		e.txVerifyMaxWait = 60 * time.Second
	}
	if e.txVerifyRetryMaxWait == 0 {
		e.txVerifyRetryMaxWait = 30 * time.Second
	}
	if e.txVerifyReconcileDelay == 0 {
		e.txVerifyReconcileDelay = 5 * time.Second
	}
	if e.txVerifyReconcileRetries == 0 {
		e.txVerifyReconcileRetries = 2
	}
	return e
}

// Result is the outcome of a successful swap.
type Result struct {
	Signature solana.Signature
	// OutAmount is the raw token amount for buys, or SOL (UI) for sells.
	OutAmount float64
}

// UIToRaw converts a UI amount to raw units per spec.md §4.9 step 1:
// floor for sells (never overspend), round for buys.
func UIToRaw(amountUI float64, decimals int, isSell bool) uint64 {
	scaled := amountUI * math.Pow10(decimals)
	if isSell {
		return uint64(math.Floor(scaled))
	}
	return uint64(math.Round(scaled))
}

// Swap executes one quote→build→sign→broadcast→confirm cycle at a
// single slippage setting. Callers needing the sell-retry escalation
// ladder should use SellWithRetry instead.
func (e *Executor) Swap(ctx context.Context, input, output string, amountUI float64, slippageBps int, isSell bool, decimals int) (Result, error) {
	amountRaw := UIToRaw(amountUI, decimals, isSell)
	if amountRaw == 0 {
		return Result{}, coperrors.ValidationError("amount_ui", "resolves to zero raw units")
	}

	quote, err := e.quoteWithRotation(ctx, QuoteRequest{
		InputMint:   input,
		OutputMint:  output,
		AmountRaw:   amountRaw,
		SlippageBps: slippageBps,
	})
	if err != nil {
		return Result{}, err
	}

	swapTxBase64, err := e.buildWithRotation(ctx, BuildRequest{
		UserPublicKey:                 e.signer.PublicKey().String(),
		Quote:                         quote,
		WrapAndUnwrapSol:              true,
		ComputeUnitPriceMicroLamports: "auto",
	})
	if err != nil {
		return Result{}, err
	}

	signedTx, err := chain.SignVersioned(swapTxBase64, e.signer)
	if err != nil {
		return Result{}, coperrors.InternalError("signing swap transaction", err)
	}

	sig, err := e.chain.Send(ctx, signedTx)
	if err != nil {
		return Result{}, coperrors.ChainExecutionError("", err)
	}

	confirmed, err := e.confirmWithReconciliation(ctx, sig, e.signer.PublicKey(), output, quote.OutAmountRaw, isSell)
	if err != nil {
		return Result{}, err
	}
	if !confirmed {
		return Result{}, coperrors.ConfirmationAmbiguityError(sig.String())
	}

	if isSell {
		return Result{Signature: sig, OutAmount: float64(quote.OutAmountRaw) / 1e9}, nil
	}
	return Result{Signature: sig, OutAmount: float64(quote.OutAmountRaw)}, nil
}

// SellWithRetry implements spec.md §4.9 step 6: iterate the slippage
// schedule; before each attempt re-query the on-chain token balance and
// clamp the sell amount; stop if the chain balance is zero.
func (e *Executor) SellWithRetry(ctx context.Context, mint, owner string, amountUI float64, decimals int, slippageSchedule []int) (Result, error) {
	ownerPK, err := solana.PublicKeyFromBase58(owner)
	if err != nil {
		return Result{}, coperrors.ValidationError("owner", err.Error())
	}
	mintPK, err := solana.PublicKeyFromBase58(mint)
	if err != nil {
		return Result{}, coperrors.ValidationError("mint", err.Error())
	}

	var lastErr error
	for _, bps := range slippageSchedule {
		rawBalance, balDecimals, err := e.chain.TokenBalance(ctx, ownerPK, mintPK)
		if err != nil {
			lastErr = err
			continue
		}
		chainBalance := float64(rawBalance) / math.Pow10(balDecimals)
		if chainBalance <= 0 {
			return Result{}, coperrors.ChainExecutionError(mint, fmt.Errorf("on-chain balance is zero, stopping retries"))
		}
		clamped := amountUI
		if clamped > chainBalance {
			clamped = chainBalance
		}

		result, err := e.Swap(ctx, mint, wsolMint, clamped, bps, true, decimals)
		if err == nil {
			return result, nil
		}
		lastErr = err
		e.logger.Warn("sell attempt failed, escalating slippage",
			zap.String("mint", mint), zap.Int("slippage_bps", bps), zap.Error(err))
	}
	return Result{}, lastErr
}

const wsolMint = "So11111111111111111111111111111111111111112"

// Quote runs a key-pool-rotated quote without executing the swap, used by
// Trader's PnL cross-validation (spec.md §4.8's "small Jupiter sell-quote
// in the opposite direction").
func (e *Executor) Quote(ctx context.Context, input, output string, amountUI float64, decimals int, isSell bool, slippageBps int) (QuoteResponse, error) {
	amountRaw := UIToRaw(amountUI, decimals, isSell)
	if amountRaw == 0 {
		return QuoteResponse{}, coperrors.ValidationError("amount_ui", "resolves to zero raw units")
	}
	return e.quoteWithRotation(ctx, QuoteRequest{
		InputMint:   input,
		OutputMint:  output,
		AmountRaw:   amountRaw,
		SlippageBps: slippageBps,
	})
}

func (e *Executor) quoteWithRotation(ctx context.Context, req QuoteRequest) (QuoteResponse, error) {
	attempts := e.aggKeys.Len()
	if attempts < 3 {
		attempts = 3
	}
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		quote, err := e.provider.Quote(ctx, req)
		if err == nil {
			return quote, nil
		}
		lastErr = err
		if !isRateLimited(err) {
			return QuoteResponse{}, err
		}
		e.aggKeys.MarkFailed()
		if attempt+1 >= attempts {
			break
		}
		delay := quoteBackoffBase + time.Duration(attempt)*quoteBackoffStep
		select {
		case <-ctx.Done():
			return QuoteResponse{}, ctx.Err()
		case <-time.After(delay):
		}
	}
	return QuoteResponse{}, coperrors.RateLimitError("swap quote", lastErr)
}

func (e *Executor) buildWithRotation(ctx context.Context, req BuildRequest) (string, error) {
	attempts := e.aggKeys.Len()
	if attempts < 3 {
		attempts = 3
	}
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		tx, err := e.provider.BuildSwap(ctx, req)
		if err == nil {
			return tx, nil
		}
		lastErr = err
		if !isRateLimited(err) {
			return "", err
		}
		e.aggKeys.MarkFailed()
		if attempt+1 >= attempts {
			break
		}
		delay := quoteBackoffBase + time.Duration(attempt)*quoteBackoffStep
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(delay):
		}
	}
	return "", coperrors.RateLimitError("swap build", lastErr)
}

// confirmWithReconciliation implements spec.md §4.9 step 5: confirm,
// then a second bounded window on the same RPC clients (no key is
// rotated between the two windows), then (for buys only) on-chain
// balance reconciliation.
func (e *Executor) confirmWithReconciliation(ctx context.Context, sig solana.Signature, owner solana.PublicKey, outputMint string, expectedOutRaw uint64, isSell bool) (bool, error) {
	ok, err := e.chain.Confirm(ctx, sig, e.txVerifyMaxWait)
	if err == nil && ok {
		return true, nil
	}

	e.logger.Warn("confirmation window elapsed, retrying", zap.String("signature", sig.String()))
	ok, err = e.chain.Confirm(ctx, sig, e.txVerifyRetryMaxWait)
	if err == nil && ok {
		return true, nil
	}

	if isSell {
		return false, nil
	}

	mintPK, parseErr := solana.PublicKeyFromBase58(outputMint)
	if parseErr != nil {
		return false, nil
	}

	for i := 0; i < e.txVerifyReconcileRetries; i++ {
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(e.txVerifyReconcileDelay):
		}

		rawBalance, _, err := e.chain.TokenBalance(ctx, owner, mintPK)
		if err != nil {
			continue
		}
		if float64(rawBalance) >= 0.99*float64(expectedOutRaw) {
			return true, nil
		}
	}
	return false, nil
}

func isRateLimited(err error) bool {
	e, ok := err.(*coperrors.Error)
	return ok && e.Kind == coperrors.KindRateLimit
}

// JupiterProvider is the concrete Provider implementation against
// Jupiter's public aggregator API, the only provider spec.md §6 names.
type JupiterProvider struct {
	quoteBaseURL string
	swapBaseURL  string
	client       *http.Client
}

// NewJupiterProvider builds a JupiterProvider over the given base URLs.
func NewJupiterProvider(quoteBaseURL, swapBaseURL string, client *http.Client) *JupiterProvider {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &JupiterProvider{quoteBaseURL: quoteBaseURL, swapBaseURL: swapBaseURL, client: client}
}

type jupiterQuoteResponse struct {
	OutAmount string          `json:"outAmount"`
	Raw       json.RawMessage `json:"-"`
}

// Quote performs GET /quote per spec.md §4.9 step 2.
func (j *JupiterProvider) Quote(ctx context.Context, req QuoteRequest) (QuoteResponse, error) {
	url := fmt.Sprintf("%s/quote?inputMint=%s&outputMint=%s&amount=%d&slippageBps=%d&onlyDirectRoutes=%t&asLegacyTransaction=%t",
		j.quoteBaseURL, req.InputMint, req.OutputMint, req.AmountRaw, req.SlippageBps, req.OnlyDirectRoutes, req.AsLegacyTransaction)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return QuoteResponse{}, coperrors.InternalError("building quote request", err)
	}

	resp, err := j.client.Do(httpReq)
	if err != nil {
		return QuoteResponse{}, coperrors.TransientError("swap quote", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode == http.StatusTooManyRequests {
		return QuoteResponse{}, coperrors.RateLimitError("swap quote", nil)
	}
	if resp.StatusCode != http.StatusOK {
		return QuoteResponse{}, coperrors.TransientError(fmt.Sprintf("swap quote returned status %d", resp.StatusCode), nil)
	}

	var parsed jupiterQuoteResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return QuoteResponse{}, coperrors.DataInconsistencyError(req.OutputMint, "unparseable", err.Error())
	}

	var outAmount uint64
	fmt.Sscanf(parsed.OutAmount, "%d", &outAmount)

	return QuoteResponse{OutAmountRaw: outAmount, Raw: body}, nil
}

type jupiterSwapRequest struct {
	UserPublicKey                 string          `json:"userPublicKey"`
	QuoteResponse                 json.RawMessage `json:"quoteResponse"`
	WrapAndUnwrapSol              bool            `json:"wrapAndUnwrapSol"`
	ComputeUnitPriceMicroLamports string          `json:"computeUnitPriceMicroLamports"`
}

type jupiterSwapResponse struct {
	SwapTransaction string `json:"swapTransaction"`
}

// BuildSwap performs POST /swap per spec.md §4.9 step 3.
func (j *JupiterProvider) BuildSwap(ctx context.Context, req BuildRequest) (string, error) {
	body, err := json.Marshal(jupiterSwapRequest{
		UserPublicKey:                 req.UserPublicKey,
		QuoteResponse:                 req.Quote.Raw,
		WrapAndUnwrapSol:              req.WrapAndUnwrapSol,
		ComputeUnitPriceMicroLamports: req.ComputeUnitPriceMicroLamports,
	})
	if err != nil {
		return "", coperrors.InternalError("marshaling swap request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, j.swapBaseURL+"/swap", bytes.NewReader(body))
	if err != nil {
		return "", coperrors.InternalError("building swap request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := j.client.Do(httpReq)
	if err != nil {
		return "", coperrors.TransientError("swap build", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode == http.StatusTooManyRequests {
		return "", coperrors.RateLimitError("swap build", nil)
	}
	if resp.StatusCode != http.StatusOK {
		return "", coperrors.TransientError(fmt.Sprintf("swap build returned status %d", resp.StatusCode), nil)
	}

	var parsed jupiterSwapResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", coperrors.DataInconsistencyError(req.UserPublicKey, "unparseable", err.Error())
	}
	return parsed.SwapTransaction, nil
}
