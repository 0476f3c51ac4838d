// Package chain abstracts the Solana provider set into a single
// capability: signature/transaction reads, parsed-transaction bulk
// fetch, and the build/sign/send/confirm path, with primary/fallback
// provider selection and key-pool-rotated exponential backoff.
package chain

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	coperrors "github.com/algonius/hunter-copytrader/pkg/errors"
	"github.com/algonius/hunter-copytrader/pkg/keypool"
	"github.com/algonius/hunter-copytrader/pkg/utils/limiter"
)

func decodeBase64(s string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(s)
}

// Provider selection modes.
const (
	ProviderAuto     = "auto"
	ProviderPrimary  = "primary"
	ProviderFallback = "fallback"
)

const (
	defaultRPCTimeout     = 30 * time.Second
	defaultReadTimeout    = 10 * time.Second
	backoffBase           = 1 * time.Second
	maxRPCAttempts        = 3
)

// Chain is the capability surface every component depends on.
type Chain struct {
	primary    *rpc.Client
	fallback   *rpc.Client
	selection  string
	rpcKeys    *keypool.KeyPool
	parseKeys  *keypool.KeyPool
	parseURL   string
	httpClient *http.Client
	logger     *zap.Logger
}

// Config configures a new Chain.
type Config struct {
	RPCEndpoints    []string
	FallbackEndpoints []string
	PrimaryProvider string // auto|primary|fallback
	ParseKeys       *keypool.KeyPool
	ParseBaseURL    string // bulk parsed-transaction endpoint base
	Logger          *zap.Logger
}

// New builds a Chain from Config.
func New(cfg Config) (*Chain, error) {
	if len(cfg.RPCEndpoints) == 0 {
		return nil, fmt.Errorf("at least one RPC endpoint is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	rpcKeys, err := keypool.New(cfg.RPCEndpoints)
	if err != nil {
		return nil, err
	}

	primary := rpc.New(cfg.RPCEndpoints[0])
	var fallback *rpc.Client
	if len(cfg.FallbackEndpoints) > 0 {
		fallback = rpc.New(cfg.FallbackEndpoints[0])
	}

	selection := cfg.PrimaryProvider
	if selection == "" {
		selection = ProviderAuto
	}

	return &Chain{
		primary:    primary,
		fallback:   fallback,
		selection:  selection,
		rpcKeys:    rpcKeys,
		parseKeys:  cfg.ParseKeys,
		parseURL:   cfg.ParseBaseURL,
		httpClient: &http.Client{Timeout: defaultRPCTimeout, Transport: limiter.NewRateLimiter(rate.Limit(20), 40)},
		logger:     logger,
	}, nil
}

// clients returns the ordered list of clients to try: primary then
// fallback (if configured and selection allows it).
func (c *Chain) clients() []*rpc.Client {
	switch c.selection {
	case ProviderFallback:
		if c.fallback != nil {
			return []*rpc.Client{c.fallback}
		}
		return []*rpc.Client{c.primary}
	default: // auto, primary
		if c.fallback != nil {
			return []*rpc.Client{c.primary, c.fallback}
		}
		return []*rpc.Client{c.primary}
	}
}

// withBackoff retries fn up to maxRPCAttempts times with exponential
// backoff (base 1s, 2^attempt), trying each client in clients() order
// per spec.md §4.2.
func withBackoff[T any](ctx context.Context, c *Chain, fn func(ctx context.Context, client *rpc.Client) (T, error)) (T, error) {
	var zero T
	var lastErr error

	for _, client := range c.clients() {
		for attempt := 0; attempt < maxRPCAttempts; attempt++ {
			result, err := fn(ctx, client)
			if err == nil {
				return result, nil
			}
			lastErr = err
			if isRateLimited(err) {
				c.rpcKeys.MarkFailed()
			}

			select {
			case <-ctx.Done():
				return zero, ctx.Err()
			case <-time.After(backoffBase * time.Duration(1<<attempt)):
			}
		}
	}
	return zero, coperrors.TransientError("rpc call", lastErr)
}

func isRateLimited(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return contains(msg, "429") || contains(msg, "rate limit")
}

func contains(s, substr string) bool {
	return len(s) >= len(substr) && (func() bool {
		for i := 0; i+len(substr) <= len(s); i++ {
			if s[i:i+len(substr)] == substr {
				return true
			}
		}
		return false
	})()
}

// SignaturesForAddress pages transaction signatures for an address,
// newest first.
func (c *Chain) SignaturesForAddress(ctx context.Context, address solana.PublicKey, limit int, before *solana.Signature) ([]*rpc.TransactionSignature, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultReadTimeout)
	defer cancel()

	opts := &rpc.GetSignaturesForAddressOpts{Limit: &limit}
	if before != nil {
		opts.Before = *before
	}

	return withBackoff(ctx, c, func(ctx context.Context, client *rpc.Client) ([]*rpc.TransactionSignature, error) {
		return client.GetSignaturesForAddressWithOpts(ctx, address, opts)
	})
}

// GetTransaction fetches a single transaction by signature.
func (c *Chain) GetTransaction(ctx context.Context, sig solana.Signature) (*rpc.GetTransactionResult, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultReadTimeout)
	defer cancel()

	maxVersion := uint64(0)
	opts := &rpc.GetTransactionOpts{
		Encoding:                       solana.EncodingBase64,
		MaxSupportedTransactionVersion: &maxVersion,
	}

	return withBackoff(ctx, c, func(ctx context.Context, client *rpc.Client) (*rpc.GetTransactionResult, error) {
		return client.GetTransaction(ctx, sig, opts)
	})
}

// TokenSupply returns decimals and current supply for mint.
func (c *Chain) TokenSupply(ctx context.Context, mint solana.PublicKey) (*rpc.GetTokenSupplyResult, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultReadTimeout)
	defer cancel()

	return withBackoff(ctx, c, func(ctx context.Context, client *rpc.Client) (*rpc.GetTokenSupplyResult, error) {
		return client.GetTokenSupply(ctx, mint, rpc.CommitmentConfirmed)
	})
}

// TokenBalance returns the raw on-chain balance of owner's token
// account for mint (0 if the ATA does not exist).
func (c *Chain) TokenBalance(ctx context.Context, owner, mint solana.PublicKey) (uint64, int, error) {
	ata, _, err := solana.FindAssociatedTokenAddress(owner, mint)
	if err != nil {
		return 0, 0, err
	}

	ctx, cancel := context.WithTimeout(ctx, defaultReadTimeout)
	defer cancel()

	result, err := withBackoff(ctx, c, func(ctx context.Context, client *rpc.Client) (*rpc.GetTokenAccountBalanceResult, error) {
		return client.GetTokenAccountBalance(ctx, ata, rpc.CommitmentConfirmed)
	})
	if err != nil {
		return 0, 0, nil // missing ATA: balance zero, not an error
	}
	amount, parseErr := parseUint(result.Value.Amount)
	if parseErr != nil {
		return 0, result.Value.Decimals, parseErr
	}
	return amount, result.Value.Decimals, nil
}

// token2022ProgramID is the Token-2022 program, probed as a fallback to
// the classic Token program per spec.md §4.5's "ATA-first probe (Token
// and Token-2022 program variants)".
var token2022ProgramID = solana.MustPublicKeyFromBase58("TokenzQdBNbLqP5VEhdkAS6EPFLC1PHnBqCXEpPxuEb")

var associatedTokenProgramID = solana.MustPublicKeyFromBase58("ATokenGPvbdGVxr1b2hvZbsiqW5xWH25efTNsLJA8knL")

func findATAForProgram(owner, mint, tokenProgramID solana.PublicKey) (solana.PublicKey, error) {
	ata, _, err := solana.FindProgramAddress(
		[][]byte{owner[:], tokenProgramID[:], mint[:]},
		associatedTokenProgramID,
	)
	return ata, err
}

// TokenBalanceAnyProgram probes owner's ATA for mint under the classic
// Token program first, then Token-2022, returning the first balance
// found. Both return zero (not an error) when neither ATA exists.
func (c *Chain) TokenBalanceAnyProgram(ctx context.Context, owner, mint solana.PublicKey) (uint64, int, error) {
	amount, decimals, err := c.TokenBalance(ctx, owner, mint)
	if err != nil {
		return 0, 0, err
	}
	if amount > 0 {
		return amount, decimals, nil
	}

	ata, err := findATAForProgram(owner, mint, token2022ProgramID)
	if err != nil {
		return amount, decimals, nil
	}
	ctx2, cancel := context.WithTimeout(ctx, defaultReadTimeout)
	defer cancel()
	result, err := withBackoff(ctx2, c, func(ctx context.Context, client *rpc.Client) (*rpc.GetTokenAccountBalanceResult, error) {
		return client.GetTokenAccountBalance(ctx, ata, rpc.CommitmentConfirmed)
	})
	if err != nil {
		return amount, decimals, nil
	}
	amt2022, parseErr := parseUint(result.Value.Amount)
	if parseErr != nil {
		return amount, decimals, nil
	}
	return amt2022, result.Value.Decimals, nil
}

// TokenAccountsByOwner lists every token account owned by owner.
func (c *Chain) TokenAccountsByOwner(ctx context.Context, owner solana.PublicKey, programID solana.PublicKey) (*rpc.GetTokenAccountsResult, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultReadTimeout)
	defer cancel()

	return withBackoff(ctx, c, func(ctx context.Context, client *rpc.Client) (*rpc.GetTokenAccountsResult, error) {
		return client.GetTokenAccountsByOwner(ctx, owner,
			&rpc.GetTokenAccountsConfig{ProgramId: &programID},
			&rpc.GetTokenAccountsOpts{Commitment: rpc.CommitmentConfirmed})
	})
}

// Signer is the minimal capability Chain needs to sign a transaction
// message; implemented by pkg/signer.
type Signer interface {
	PublicKey() solana.PublicKey
	Sign(message []byte) (solana.Signature, error)
}

// SignVersioned decodes a base64-encoded versioned transaction (as
// returned by the swap aggregator's POST /swap), signs its message with
// signer, and repopulates the signature slot, per spec.md §4.9 step 4.
func SignVersioned(base64Tx string, signer Signer) (*solana.Transaction, error) {
	raw, err := decodeBase64(base64Tx)
	if err != nil {
		return nil, fmt.Errorf("failed to decode swap transaction: %w", err)
	}

	tx, err := solana.TransactionFromBytes(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to deserialize swap transaction: %w", err)
	}

	messageBytes, err := tx.Message.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("failed to marshal transaction message: %w", err)
	}

	sig, err := signer.Sign(messageBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to sign transaction message: %w", err)
	}

	for i, key := range tx.Message.AccountKeys {
		if key.Equals(signer.PublicKey()) {
			if i >= len(tx.Signatures) {
				return nil, fmt.Errorf("signer index %d out of range for %d signature slots", i, len(tx.Signatures))
			}
			tx.Signatures[i] = sig
			return tx, nil
		}
	}
	return nil, fmt.Errorf("signer public key not found among transaction account keys")
}

// Send broadcasts a fully-signed transaction, skipping preflight per
// spec.md §4.9 step 4.
func (c *Chain) Send(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultRPCTimeout)
	defer cancel()

	maxRetries := uint(3)
	return withBackoff(ctx, c, func(ctx context.Context, client *rpc.Client) (solana.Signature, error) {
		return client.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
			SkipPreflight: true,
			MaxRetries:    &maxRetries,
		})
	})
}

// Confirm polls signature_statuses until the transaction is
// confirmed/finalized with no error, or maxWait elapses.
func (c *Chain) Confirm(ctx context.Context, sig solana.Signature, maxWait time.Duration) (bool, error) {
	deadline := time.Now().Add(maxWait)
	for time.Now().Before(deadline) {
		statuses, err := withBackoff(ctx, c, func(ctx context.Context, client *rpc.Client) (*rpc.GetSignatureStatusesResult, error) {
			return client.GetSignatureStatuses(ctx, true, sig)
		})
		if err == nil && len(statuses.Value) > 0 && statuses.Value[0] != nil {
			st := statuses.Value[0]
			if st.Err != nil {
				return false, coperrors.ChainExecutionError(sig.String(), fmt.Errorf("%v", st.Err))
			}
			if st.ConfirmationStatus == rpc.ConfirmationStatusConfirmed || st.ConfirmationStatus == rpc.ConfirmationStatusFinalized {
				return true, nil
			}
		}

		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}
	return false, coperrors.ConfirmationAmbiguityError(sig.String())
}

// parsedTxRequest/Response model the bulk parsed-transactions endpoint
// of spec.md §6: POST {transactions: [sig, ...]} -> []EnhancedParsed.
type parsedTxRequest struct {
	Transactions []string `json:"transactions"`
}

// ParsedTransactionsBulk fetches enhanced-parsed transactions for a
// batch of signatures in one HTTP round trip, rotating parse keys on
// rate limiting per spec.md §4.2/§7.
func (c *Chain) ParsedTransactionsBulk(ctx context.Context, signatures []string) ([]EnhancedParsed, error) {
	if c.parseKeys == nil || c.parseURL == "" {
		return nil, fmt.Errorf("no parse-provider configured")
	}

	body, err := json.Marshal(parsedTxRequest{Transactions: signatures})
	if err != nil {
		return nil, err
	}

	attempts := c.parseKeys.Len()
	if attempts < 3 {
		attempts = 3
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		key := c.parseKeys.Current()
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.parseURL, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+key)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			c.parseKeys.MarkFailed()
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			resp.Body.Close()
			lastErr = fmt.Errorf("parse provider rate limited (429)")
			wrapped := c.parseKeys.MarkFailed()
			if wrapped {
				time.Sleep(backoffDelayForAttempt(i))
			}
			continue
		}

		data, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = err
			continue
		}
		if resp.StatusCode != http.StatusOK {
			lastErr = fmt.Errorf("parse provider returned status %d", resp.StatusCode)
			continue
		}

		var out []EnhancedParsed
		if err := json.Unmarshal(data, &out); err != nil {
			return nil, err
		}
		return out, nil
	}

	return nil, coperrors.CreditExhaustedError("bulk parsed-transaction fetch")
}

// backoffDelayForAttempt implements the 5-11s window named in spec.md §7
// for the all-keys-exhausted-within-window case.
func backoffDelayForAttempt(attempt int) time.Duration {
	delays := []time.Duration{5 * time.Second, 7 * time.Second, 9 * time.Second, 11 * time.Second}
	if attempt >= len(delays) {
		return delays[len(delays)-1]
	}
	return delays[attempt]
}

func parseUint(s string) (uint64, error) {
	var v uint64
	_, err := fmt.Sscanf(s, "%d", &v)
	return v, err
}
