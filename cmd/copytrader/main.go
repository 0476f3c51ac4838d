// Command copytrader runs the hunter-copytrader core: Discovery feeds
// HunterStore, Monitor watches the pool's wallets over one WS
// subscription and raises resonance signals and hunter-tx deltas, and
// Trader drives the position FSM off both. See SPEC_FULL.md §5 for the
// seven concurrent tasks wired below.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/algonius/hunter-copytrader/pkg/agent"
	"github.com/algonius/hunter-copytrader/pkg/chain"
	"github.com/algonius/hunter-copytrader/pkg/config"
	"github.com/algonius/hunter-copytrader/pkg/discovery"
	"github.com/algonius/hunter-copytrader/pkg/event"
	"github.com/algonius/hunter-copytrader/pkg/hunter"
	"github.com/algonius/hunter-copytrader/pkg/keypool"
	applogger "github.com/algonius/hunter-copytrader/pkg/logger"
	"github.com/algonius/hunter-copytrader/pkg/monitor"
	"github.com/algonius/hunter-copytrader/pkg/priceoracle"
	"github.com/algonius/hunter-copytrader/pkg/process"
	"github.com/algonius/hunter-copytrader/pkg/riskgate"
	"github.com/algonius/hunter-copytrader/pkg/signer"
	"github.com/algonius/hunter-copytrader/pkg/swap"
	"github.com/algonius/hunter-copytrader/pkg/trader"
)

func main() {
	killFlag := flag.Bool("kill", false, "kill any existing instance of the copytrader")
	flag.Parse()

	if *killFlag {
		if err := process.KillExistingProcess(); err != nil {
			os.Stderr.WriteString("failed to kill existing process: " + err.Error() + "\n")
			os.Exit(1)
		}
		os.Exit(0)
	}

	isolated := os.Getenv("RUN_MODE") == "test"
	if !isolated {
		locked, err := process.LockPIDFile()
		if err != nil {
			os.Stderr.WriteString("failed to acquire PID file lock: " + err.Error() + "\n")
			os.Exit(1)
		}
		if !locked {
			os.Stderr.WriteString("another instance of the copytrader is already running\n")
			os.Exit(1)
		}
		defer process.UnlockPIDFile()
	}

	cfg, err := config.LoadConfigWithFallback(zap.NewNop())
	if err != nil {
		os.Stderr.WriteString("failed to load configuration: " + err.Error() + "\n")
		os.Exit(1)
	}

	log, err := applogger.NewLogger(applogger.Options{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		OutputPath: cfg.Logging.OutputFile,
	})
	if err != nil {
		os.Stderr.WriteString("failed to initialize logger: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer log.Sync()
	zlog := log.Zap()

	if err := os.MkdirAll(cfg.State.DataDir, 0o755); err != nil {
		zlog.Fatal("failed to create data directory", zap.Error(err))
	}

	sign, err := signer.FromEnv(cfg.Credentials.SignerKeyEnv, cfg.Credentials.SignerPassEnv)
	if err != nil {
		zlog.Fatal("failed to load trading signer", zap.Error(err))
	}
	ownerAddr := sign.PublicKey().String()

	chainClient, err := chain.New(chain.Config{
		RPCEndpoints:      cfg.Chain.RPCEndpoints,
		FallbackEndpoints: cfg.Chain.FallbackEndpoints,
		PrimaryProvider:   cfg.Chain.PrimaryProvider,
		ParseBaseURL:      cfg.Chain.ParseBaseURL,
		Logger:            zlog.Named("chain"),
	})
	if err != nil {
		zlog.Fatal("failed to initialize chain client", zap.Error(err))
	}

	events := event.NewPositionEvents(zlog.Named("events"))

	hunterPool := hunter.NewPool(cfg.Discovery.PoolSizeLimit)
	hunterStore := hunter.NewStore(hunterPool,
		filepath.Join(cfg.State.DataDir, cfg.State.HunterStoreFile),
		filepath.Join(cfg.State.DataDir, cfg.State.TrashLog),
		zlog.Named("hunter_store"))
	if err := hunterStore.Load(); err != nil {
		zlog.Fatal("failed to load hunter store", zap.Error(err))
	}

	// RiskGate and HotTokenSource are spec-level external collaborators
	// (spec.md §1's Non-goals: RugCheck/risk rules and raw DEX pair
	// scanning are pluggable). No concrete TokenSafetyOracle/HotTokenSource
	// integration ships here; an operator wires a real one in by
	// implementing riskgate.TokenSafetyOracle / discovery.HotTokenSource
	// and passing it below. The stand-ins deny nothing and discover
	// nothing, so the system runs in curated-list (Mode B) mode until a
	// real oracle/source is plugged in.
	riskOracle := noopSafetyOracle{}
	gate := riskgate.New(riskOracle, riskgate.DefaultLimits())

	oracleSources := []priceoracle.Source{
		{Name: "primary", BaseURL: os.Getenv("PRICE_ORACLE_PRIMARY_URL")},
	}
	priceOracle := priceoracle.New(oracleSources, zlog.Named("priceoracle"))

	swapKeys, err := newKeyPoolOrNil(cfg.Credentials.SwapKeys)
	if err != nil {
		zlog.Fatal("failed to build swap key pool", zap.Error(err))
	}
	swapExec := swap.New(swap.Config{
		Provider: swap.NewJupiterProvider(
			envOr("JUPITER_QUOTE_BASE_URL", "https://quote-api.jup.ag/v6"),
			envOr("JUPITER_SWAP_BASE_URL", "https://quote-api.jup.ag/v6"),
			nil,
		),
		Chain:   chainClient,
		Signer:  sign,
		AggKeys: swapKeys,
		Logger:  zlog.Named("swap"),
	})

	traderStore := trader.NewStore(filepath.Join(cfg.State.DataDir, cfg.State.TraderStateFile), zlog.Named("trader_store"))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var tr *trader.Trader
	agentKnobs := agent.Knobs{
		SyncInterval:      cfg.Intervals.AgentSync,
		SyncProtection:    cfg.Policy.SyncProtection,
		SyncMinDeltaRatio: cfg.Policy.SyncMinDeltaRatio,
	}
	// agentCtl.OnHunterEvent dispatches into tr, so Tracker needs a sink
	// that's only valid once tr itself exists; traderSinkProxy closes
	// that cycle without a nil pointer at construction time.
	sinkProxy := &traderSinkProxy{}
	agentCtl := agent.New(chainClient, sinkProxy, agentKnobs, zlog.Named("agent"))

	tr = trader.New(chainClient, swapExec, gate, priceOracle, events, agentCtl, traderStore, cfg, ownerAddr, zlog.Named("trader"))
	sinkProxy.trader = tr

	if err := tr.LoadState(); err != nil {
		zlog.Fatal("failed to load trader state", zap.Error(err))
	}

	monitorKnobs := monitor.Knobs{
		WSURL:                  firstOrEmpty(cfg.Chain.WSEndpoints),
		BatchSize:              cfg.Policy.MonitorBatchSize,
		DrainTimeout:           cfg.Policy.MonitorDrainTimeout,
		DedupTTL:               cfg.Intervals.SignatureTTL,
		HoldingsPruneInterval:  cfg.Intervals.HoldingsPrune,
		HoldingsTTL:            cfg.Intervals.HoldingsTTL,
		MaxEntryPumpMultiplier: cfg.Policy.MaxEntryPumpMultiplier,
		ResubscribeInterval:    cfg.Intervals.WSResubscribe,
		USDCPerSOL:             cfg.Policy.USDCPerSOLDefault,
	}
	mon := monitor.New(chainClient, hunterPool, tr, agentCtl, monitorKnobs, zlog.Named("monitor"), func() {
		tr.EmergencyCloseAll(ctx)
	})

	discoveryKnobs := discovery.DefaultKnobs()
	discoveryKnobs.MinAge = cfg.Discovery.MinAge
	discoveryKnobs.MaxAge = cfg.Discovery.MaxAge
	discoveryKnobs.MaxDelay = cfg.Discovery.MaxDelay
	discoveryKnobs.Gain24hThreshold = cfg.Discovery.Gain24hThreshold
	discoveryKnobs.MinTokenProfitPct = cfg.Discovery.MinTokenProfitPct
	discoveryKnobs.MinWinRate = cfg.Discovery.MinWinRate
	discoveryKnobs.MinPnLRatio = cfg.Discovery.MinPnLRatio
	discoveryKnobs.MinTradeCount = cfg.Discovery.MinTradeCount
	discoveryKnobs.MinHunterScore = cfg.Discovery.MinHunterScore
	discoveryKnobs.USDCPerSOL = cfg.Policy.USDCPerSOLDefault
	discoverer := discovery.New(chainClient, hunterPool, hunterStore, discoveryKnobs, zlog.Named("discovery"))

	var wg sync.WaitGroup
	runTask := func(name string, fn func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					zlog.Error("task panicked", zap.String("task", name), zap.Any("panic", r))
				}
			}()
			fn()
		}()
	}

	// 1. WebSocket subscription + signature consumer loop.
	runTask("monitor", func() {
		if err := mon.Run(ctx); err != nil && ctx.Err() == nil {
			zlog.Error("monitor loop exited", zap.Error(err))
		}
	})

	// 2. Holdings-prune loop.
	runTask("holdings_prune", func() {
		mon.RunHoldingsPruneLoop(ctx)
	})

	// 3. Agent reconciliation loop.
	runTask("agent_sync", func() {
		agentCtl.RunSyncLoop(ctx)
	})

	// 4. Per-position PnL loop.
	runTask("pnl_loop", func() {
		tr.RunPnLLoop(ctx)
	})

	// 5. Discovery Mode A (blocks on the HotTokenSource until exhausted
	// or cancelled; the stand-in source below yields nothing).
	runTask("discovery_mode_a", func() {
		if err := discoverer.RunModeA(ctx, noopHotTokenSource{}); err != nil && ctx.Err() == nil {
			zlog.Warn("discovery mode A exited", zap.Error(err))
		}
	})

	// 6. Discovery Mode B (curated wallet list from env, re-scanned on
	// the discovery interval).
	runTask("discovery_mode_b", func() {
		runTicked(ctx, cfg.Intervals.Discovery, func() {
			wallets := splitNonEmpty(os.Getenv("CURATED_WALLETS"))
			if len(wallets) > 0 {
				discoverer.RunModeB(ctx, wallets)
			}
		})
	})

	// 7. Maintenance re-audit loop, wired to Trader's eviction force-close.
	runTask("maintenance", func() {
		runTicked(ctx, cfg.Intervals.Maintenance, func() {
			discoverer.Maintenance(ctx, cfg.Intervals.Maintenance, func(walletAddr string) {
				tr.EvictHunter(ctx, walletAddr)
			})
		})
	})

	zlog.Info("copytrader started", zap.String("owner", ownerAddr))
	wg.Wait()
	zlog.Info("copytrader shutdown complete")
}

// traderSinkProxy breaks the agent.New/trader.New construction cycle:
// Tracker needs a TradeSink at construction, Trader needs the already-
// built Tracker. The proxy is filled in with the real Trader immediately
// after both are constructed, before either is run.
type traderSinkProxy struct {
	trader *trader.Trader
}

func (p *traderSinkProxy) OnHunterEvent(ctx context.Context, evt agent.Event) {
	if p.trader != nil {
		p.trader.OnHunterEvent(ctx, evt)
	}
}

// noopSafetyOracle is the stand-in for spec.md §1's external
// TokenSafetyOracle collaborator: until a real integration is wired in,
// every mint reports a clean bill of health (riskgate.Check still runs,
// it simply never denies).
type noopSafetyOracle struct{}

func (noopSafetyOracle) Assess(ctx context.Context, mint string) (riskgate.Report, error) {
	return riskgate.Report{
		MintAuthority:   "",
		FreezeAuthority: "",
		HasTwitter:      true,
		HasTelegram:     true,
		LPLockedPct:     100,
		LiquidityUSD:    riskgate.DefaultLimits().MinLiquidityUSD,
	}, nil
}

// noopHotTokenSource is the stand-in for spec.md §1's external
// HotTokenSource collaborator: Mode A idles until a real feed is wired
// in, leaving Mode B's curated list as the live discovery path.
type noopHotTokenSource struct{}

func (noopHotTokenSource) Next(ctx context.Context) (discovery.HotToken, bool, error) {
	<-ctx.Done()
	return discovery.HotToken{}, false, ctx.Err()
}

func newKeyPoolOrNil(keys []string) (*keypool.KeyPool, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	return keypool.New(keys)
}

func firstOrEmpty(vals []string) string {
	if len(vals) == 0 {
		return ""
	}
	return vals[0]
}

func envOr(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}

func splitNonEmpty(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// runTicked fires fn once immediately, then again every interval, until
// ctx is cancelled.
func runTicked(ctx context.Context, interval time.Duration, fn func()) {
	fn()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn()
		}
	}
}
