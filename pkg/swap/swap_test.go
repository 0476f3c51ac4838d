package swap

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	coperrors "github.com/algonius/hunter-copytrader/pkg/errors"
	"github.com/algonius/hunter-copytrader/pkg/keypool"
)

func TestUIToRawFloorsForSells(t *testing.T) {
	raw := UIToRaw(1.23456789, 6, true)
	if raw != 1_234_567 {
		t.Fatalf("expected floor to 1234567, got %d", raw)
	}
}

func TestUIToRawRoundsForBuys(t *testing.T) {
	raw := UIToRaw(0.1, 9, false)
	if raw != 100_000_000 {
		t.Fatalf("expected 100000000, got %d", raw)
	}
}

type fakeProvider struct {
	quoteCalls int
	failTimes  int
}

func (f *fakeProvider) Quote(ctx context.Context, req QuoteRequest) (QuoteResponse, error) {
	f.quoteCalls++
	if f.quoteCalls <= f.failTimes {
		return QuoteResponse{}, coperrors.RateLimitError("quote", nil)
	}
	return QuoteResponse{OutAmountRaw: 1000}, nil
}

func (f *fakeProvider) BuildSwap(ctx context.Context, req BuildRequest) (string, error) {
	return "base64tx", nil
}

func TestQuoteWithRotationRetriesOnRateLimit(t *testing.T) {
	pool, err := keypool.New([]string{"k1", "k2", "k3"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	provider := &fakeProvider{failTimes: 1}
	e := New(Config{Provider: provider, AggKeys: pool})

	quote, err := e.quoteWithRotation(context.Background(), QuoteRequest{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if quote.OutAmountRaw != 1000 {
		t.Fatalf("expected out amount 1000, got %d", quote.OutAmountRaw)
	}
	if provider.quoteCalls != 2 {
		t.Fatalf("expected 2 calls (1 failure + 1 success), got %d", provider.quoteCalls)
	}
}

func TestQuoteWithRotationExhaustsAfterPersistentRateLimit(t *testing.T) {
	pool, err := keypool.New([]string{"k1", "k2"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	provider := &fakeProvider{failTimes: 100}
	e := New(Config{Provider: provider, AggKeys: pool})

	_, err = e.quoteWithRotation(context.Background(), QuoteRequest{})
	if err == nil {
		t.Fatal("expected error after exhausting rotation attempts")
	}
}

func TestJupiterProviderQuoteParsesOutAmount(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"outAmount": "42000"})
	}))
	defer srv.Close()

	p := NewJupiterProvider(srv.URL, srv.URL, nil)
	quote, err := p.Quote(context.Background(), QuoteRequest{InputMint: "A", OutputMint: "B", AmountRaw: 1000, SlippageBps: 100})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if quote.OutAmountRaw != 42000 {
		t.Fatalf("expected outAmount 42000, got %d", quote.OutAmountRaw)
	}
}

func TestJupiterProviderQuoteRateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	p := NewJupiterProvider(srv.URL, srv.URL, nil)
	_, err := p.Quote(context.Background(), QuoteRequest{})
	if err == nil {
		t.Fatal("expected rate-limit error")
	}
	coerr, ok := err.(*coperrors.Error)
	if !ok || coerr.Kind != coperrors.KindRateLimit {
		t.Fatalf("expected KindRateLimit, got %v", err)
	}
}

func TestJupiterProviderBuildSwapReturnsTransaction(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"swapTransaction": "deadbeef=="})
	}))
	defer srv.Close()

	p := NewJupiterProvider(srv.URL, srv.URL, nil)
	tx, err := p.BuildSwap(context.Background(), BuildRequest{UserPublicKey: "pk", Quote: QuoteResponse{Raw: json.RawMessage(`{}`)}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tx != "deadbeef==" {
		t.Fatalf("expected swap transaction echoed back, got %q", tx)
	}
}
