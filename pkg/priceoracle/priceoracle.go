// Package priceoracle implements PriceOracle of SPEC_FULL.md §4.12:
// multi-source token price in SOL and USD, with key-pool rotation on
// rate limiting, following the request/response shape of the teacher's
// pkg/clients/okex client.
package priceoracle

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	coperrors "github.com/algonius/hunter-copytrader/pkg/errors"
	"github.com/algonius/hunter-copytrader/pkg/keypool"
	"github.com/algonius/hunter-copytrader/pkg/utils/limiter"
)

const defaultTimeout = 10 * time.Second

// Quote is a single source's price snapshot for a mint.
type Quote struct {
	PriceSOL     float64
	PriceUSD     float64
	LiquidityUSD float64
}

// Source is one priced data provider, queried via the GET /price and
// GET /market-data contracts of spec.md §6.
type Source struct {
	Name    string
	BaseURL string
	Keys    *keypool.KeyPool
}

// Oracle holds an ordered list of Sources: index 0 is primary, the rest
// are cross-check sources used by Trader's stop-loss insurance check.
type Oracle struct {
	sources []Source
	client  *http.Client
	logger  *zap.Logger
}

// New builds an Oracle over sources, ordered primary-first. Every source
// shares one rate-limited http.Client, following the teacher's
// pkg/utils/limiter.RoundTripper wrapping pattern.
func New(sources []Source, logger *zap.Logger) *Oracle {
	rl := limiter.NewRateLimiter(rate.Limit(10), 20)
	return &Oracle{
		sources: sources,
		client:  &http.Client{Timeout: defaultTimeout, Transport: rl},
		logger:  logger,
	}
}

type priceResponse struct {
	Data []struct {
		Value        string `json:"value"`
		UpdateUnixTime int64 `json:"updateUnixTime"`
		Liquidity    float64 `json:"liquidity"`
	} `json:"data"`
}

// Price queries the primary source for mint's price in SOL and USD. On a
// 429 it rotates the source's key pool and retries, mirroring Chain's
// rate-limit handling (spec.md §4.2, applied uniformly per spec.md §7).
func (o *Oracle) Price(ctx context.Context, mint string, solUSD float64) (Quote, error) {
	return o.priceFrom(ctx, 0, mint, solUSD)
}

// SecondOpinion queries the first configured cross-check source (index
// 1), used by Trader's stop-loss insurance check in spec.md §4.8.
func (o *Oracle) SecondOpinion(ctx context.Context, mint string, solUSD float64) (Quote, error) {
	if len(o.sources) < 2 {
		return Quote{}, coperrors.InternalError("resolving cross-check price source", nil)
	}
	return o.priceFrom(ctx, 1, mint, solUSD)
}

func (o *Oracle) priceFrom(ctx context.Context, idx int, mint string, solUSD float64) (Quote, error) {
	if idx >= len(o.sources) {
		return Quote{}, coperrors.InternalError("resolving price source index", nil)
	}
	src := o.sources[idx]

	attempts := src.Keys.Len()
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		quote, err := fetchPrice(ctx, o.client, src, mint, solUSD)
		if err == nil {
			return quote, nil
		}
		lastErr = err
		if !isRateLimited(err) {
			return Quote{}, err
		}
		src.Keys.MarkFailed()
		if o.logger != nil {
			o.logger.Warn("price source rate limited, rotating key",
				zap.String("source", src.Name), zap.Int("attempt", attempt))
		}
	}
	return Quote{}, coperrors.RateLimitError(fmt.Sprintf("price source %s exhausted key pool", src.Name), lastErr)
}

func fetchPrice(ctx context.Context, client *http.Client, src Source, mint string, solUSD float64) (Quote, error) {
	url := fmt.Sprintf("%s/price?address=%s&include_liquidity=true", src.BaseURL, mint)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Quote{}, coperrors.InternalError("building price request", err)
	}
	if key := src.Keys.Current(); key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}

	resp, err := client.Do(req)
	if err != nil {
		return Quote{}, coperrors.TransientError("price request failed", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode == http.StatusTooManyRequests {
		return Quote{}, coperrors.RateLimitError(fmt.Sprintf("price source %s returned 429", src.Name), nil)
	}
	if resp.StatusCode != http.StatusOK {
		return Quote{}, coperrors.TransientError(fmt.Sprintf("price source %s returned status %d", src.Name, resp.StatusCode), nil)
	}

	var parsed priceResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return Quote{}, coperrors.DataInconsistencyError(mint, "unparseable", fmt.Sprintf("%s response: %v", src.Name, err))
	}
	if len(parsed.Data) == 0 {
		return Quote{}, coperrors.DataInconsistencyError(mint, "unknown", fmt.Sprintf("empty response from %s", src.Name))
	}

	priceUSD, err := strconv.ParseFloat(parsed.Data[0].Value, 64)
	if err != nil {
		return Quote{}, coperrors.DataInconsistencyError(mint, "unparseable", fmt.Sprintf("%s value %q: %v", src.Name, parsed.Data[0].Value, err))
	}

	quote := Quote{PriceUSD: priceUSD, LiquidityUSD: parsed.Data[0].Liquidity}
	if solUSD > 0 {
		quote.PriceSOL = priceUSD / solUSD
	}
	return quote, nil
}

func isRateLimited(err error) bool {
	var coerr *coperrors.Error
	if e, ok := err.(*coperrors.Error); ok {
		coerr = e
	}
	return coerr != nil && coerr.Kind == coperrors.KindRateLimit
}
