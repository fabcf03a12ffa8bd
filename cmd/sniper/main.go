package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"solana-sniper/internal/dedupe"
	"solana-sniper/internal/domain"
	"solana-sniper/internal/executor"
	"solana-sniper/internal/feed"
	"solana-sniper/internal/monitor"
	"solana-sniper/internal/notify"
	"solana-sniper/internal/observability"
	"solana-sniper/internal/oracle"
	"solana-sniper/internal/settings"
	"solana-sniper/internal/solana"
	"solana-sniper/internal/storage"
	chstore "solana-sniper/internal/storage/clickhouse"
	"solana-sniper/internal/storage/memory"
	"solana-sniper/internal/storage/migrations"
	pgstore "solana-sniper/internal/storage/postgres"
	"solana-sniper/internal/wallet"
	"solana-sniper/internal/watch"
)

func main() {
	// Parse flags
	envFile := flag.String("env-file", ".env", "Path to .env file with secrets (optional)")
	settingsPath := flag.String("settings", "settings.json", "Path to trading settings file")
	gatewayURL := flag.String("gateway-url", "", "Chat gateway WebSocket endpoint")
	channels := flag.String("channels", "", "Comma-separated channel IDs to monitor")
	rpcEndpoint := flag.String("rpc-endpoint", "https://api.mainnet-beta.solana.com", "Solana RPC HTTP endpoint")
	jupiterURL := flag.String("jupiter-url", "", "Jupiter aggregator base URL (default: public v6)")
	postgresDSN := flag.String("postgres-dsn", "", "PostgreSQL connection string for positions")
	clickhouseDSN := flag.String("clickhouse-dsn", "", "ClickHouse connection string for trade events")
	useMemory := flag.Bool("use-memory", false, "Use in-memory storage instead of PostgreSQL/ClickHouse")
	candidateBuffer := flag.Int("candidate-buffer", watch.DefaultBuffer, "Admitted candidate queue capacity")
	metricsAddr := flag.String("metrics-addr", ":9090", "Prometheus metrics HTTP address (empty to disable)")
	logLevel := flag.String("log-level", "info", "Log level: debug, info, warn, error")
	flag.Parse()

	// Setup logger
	level, err := zerolog.ParseLevel(*logLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	logger := zerolog.New(os.Stdout).Level(level).With().Timestamp().Logger()

	// Secrets come from the environment; the .env file is a convenience.
	if err := godotenv.Load(*envFile); err != nil && !os.IsNotExist(err) {
		logger.Fatal().Err(err).Str("path", *envFile).Msg("failed to load env file")
	}

	// Start metrics server if enabled
	if *metricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", observability.Handler())
			mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
				w.Write([]byte("ok"))
			})
			logger.Info().Str("addr", *metricsAddr).Msg("starting metrics server")
			if err := http.ListenAndServe(*metricsAddr, mux); err != nil && err != http.ErrServerClosed {
				logger.Error().Err(err).Msg("metrics server error")
			}
		}()
	}

	channelList := splitChannels(*channels)
	if *gatewayURL == "" || len(channelList) == 0 {
		logger.Fatal().Msg("--gateway-url and --channels are required")
	}

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())

	// Handle shutdown signals with graceful timeout
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	done := make(chan error, 1)

	go func() {
		sig := <-sigCh
		logger.Info().Str("signal", sig.String()).Msg("initiating graceful shutdown")
		cancel()

		// Wait for second signal for immediate shutdown
		select {
		case sig := <-sigCh:
			logger.Warn().Str("signal", sig.String()).Msg("forcing immediate shutdown")
			os.Exit(1)
		case <-time.After(30 * time.Second):
			logger.Warn().Msg("graceful shutdown timed out after 30s, forcing exit")
			os.Exit(1)
		case <-done:
			// Normal shutdown completed
		}
	}()

	err = run(ctx, logger, runConfig{
		settingsPath:    *settingsPath,
		gatewayURL:      *gatewayURL,
		channels:        channelList,
		rpcEndpoint:     *rpcEndpoint,
		jupiterURL:      *jupiterURL,
		postgresDSN:     *postgresDSN,
		clickhouseDSN:   *clickhouseDSN,
		useMemory:       *useMemory,
		candidateBuffer: *candidateBuffer,
	})

	done <- err
	cancel()

	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal().Err(err).Msg("sniper exited with error")
	}

	logger.Info().Msg("shutdown complete")
}

type runConfig struct {
	settingsPath    string
	gatewayURL      string
	channels        []string
	rpcEndpoint     string
	jupiterURL      string
	postgresDSN     string
	clickhouseDSN   string
	useMemory       bool
	candidateBuffer int
}

func run(ctx context.Context, logger zerolog.Logger, cfg runConfig) error {
	// Trading settings
	settingsStore, err := settings.NewStore(cfg.settingsPath, logger)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}
	snap := settingsStore.Snapshot()

	// Stores
	var positionStore storage.PositionStore = memory.NewPositionStore()
	var eventStore storage.TradeEventStore = memory.NewTradeEventStore()

	if !cfg.useMemory {
		if cfg.postgresDSN == "" {
			return fmt.Errorf("--postgres-dsn is required (use --use-memory for in-memory storage)")
		}

		pool, err := pgstore.NewPool(ctx, cfg.postgresDSN)
		if err != nil {
			return fmt.Errorf("connect to postgres: %w", err)
		}
		defer pool.Close()
		if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
			return fmt.Errorf("run postgres migrations: %w", err)
		}
		positionStore = pgstore.NewPositionStore(pool)

		if cfg.clickhouseDSN != "" {
			conn, err := migrations.RunClickhouseMigrations(ctx, cfg.clickhouseDSN)
			if err != nil {
				return fmt.Errorf("run clickhouse migrations: %w", err)
			}
			defer conn.Close()
			eventStore = chstore.NewTradeEventStore(conn)
		} else {
			logger.Warn().Msg("no clickhouse DSN, trade events stay in memory")
		}
	}

	// Wallet and swap oracle
	secret := os.Getenv("WALLET_SECRET_KEY")
	if secret == "" {
		return fmt.Errorf("WALLET_SECRET_KEY is not set")
	}
	rpc := solana.NewHTTPClient(cfg.rpcEndpoint)
	w, err := wallet.NewFromBase58(secret, rpc)
	if err != nil {
		return fmt.Errorf("import wallet: %w", err)
	}
	logger.Info().Str("pubkey", w.PublicKey()).Msg("wallet loaded")

	balance, err := w.BalanceSOL(ctx)
	if err != nil {
		logger.Warn().Err(err).Msg("failed to fetch wallet balance")
	} else {
		logger.Info().Float64("sol", balance).Msg("wallet balance")
	}

	var oracleOpts []oracle.JupiterOption
	if cfg.jupiterURL != "" {
		oracleOpts = append(oracleOpts, oracle.WithBaseURL(cfg.jupiterURL))
	}
	swap := oracle.NewJupiter(w, rpc.GetTokenDecimals, oracleOpts...)

	// Notifications
	notifier := buildNotifier(logger)

	// Dedup gate, seeded with every address ever traded
	gate := dedupe.NewGate(time.Duration(snap.DedupWindowMs) * time.Millisecond)
	seen, err := positionStore.ListAddresses(ctx)
	if err != nil {
		return fmt.Errorf("seed dedup gate: %w", err)
	}
	gate.Seed(seen, time.Now())
	logger.Info().Int("addresses", len(seen)).Msg("dedup gate seeded")

	exec := executor.New(swap, positionStore, eventStore, logger, executor.WithNotifier(notifier))
	mon := monitor.New(positionStore, swap, exec, settingsStore, logger)

	// One feed connection and watcher per channel, so a disconnect on one
	// channel never stalls the others. All watchers share the dedup gate.
	var wg sync.WaitGroup
	for _, channel := range cfg.channels {
		source, err := feed.NewWSSource(ctx, cfg.gatewayURL, []string{channel}, logger, nil)
		if err != nil {
			return fmt.Errorf("connect chat gateway for %s: %w", channel, err)
		}
		defer source.Close()

		watcher := watch.New(source, gate, logger, cfg.candidateBuffer)
		go func() {
			if err := watcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error().Err(err).Str("channel", channel).Msg("watcher stopped")
			}
		}()

		wg.Add(1)
		go func() {
			defer wg.Done()
			buyLoop(ctx, logger, exec, settingsStore, watcher.Candidates())
		}()
	}

	monErr := make(chan error, 1)
	go func() { monErr <- mon.Run(ctx) }()

	logger.Info().
		Strs("channels", cfg.channels).
		Float64("investment_sol", snap.InvestmentSOL).
		Int("max_slippage_bps", snap.MaxSlippageBps).
		Msg("sniper running")

	wg.Wait()
	err = <-monErr
	mon.Wait()

	return err
}

// buyLoop drains one watcher's admitted candidates, buying each with the
// settings current at admission time.
func buyLoop(ctx context.Context, logger zerolog.Logger, exec *executor.Executor, settingsStore *settings.Store, candidates <-chan domain.TokenCandidate) {
	for candidate := range candidates {
		snap := settingsStore.Snapshot()
		if _, err := exec.Buy(ctx, candidate, snap); err != nil {
			switch {
			case errors.Is(err, executor.ErrPositionExists):
				logger.Debug().Str("address", candidate.Address).Msg("already holding, skipped")
			case errors.Is(err, oracle.ErrNoRoute):
				logger.Info().Str("address", candidate.Address).Msg("no route, skipped")
			default:
				logger.Error().Err(err).Str("address", candidate.Address).Msg("buy failed")
			}
		}
	}
}

// buildNotifier returns the log notifier, plus Telegram when credentials are
// present in the environment.
func buildNotifier(logger zerolog.Logger) notify.Notifier {
	sinks := notify.Multi{notify.NewLogNotifier(logger)}

	token := os.Getenv("TELEGRAM_BOT_TOKEN")
	chatIDStr := os.Getenv("TELEGRAM_CHAT_ID")
	if token == "" || chatIDStr == "" {
		return sinks
	}

	chatID, err := strconv.ParseInt(chatIDStr, 10, 64)
	if err != nil {
		logger.Warn().Str("chat_id", chatIDStr).Msg("invalid TELEGRAM_CHAT_ID, telegram alerts disabled")
		return sinks
	}

	tg, err := notify.NewTelegramNotifier(token, chatID)
	if err != nil {
		logger.Warn().Err(err).Msg("telegram notifier unavailable")
		return sinks
	}

	logger.Info().Int64("chat_id", chatID).Msg("telegram alerts enabled")
	return append(sinks, tg)
}

func splitChannels(s string) []string {
	var list []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			list = append(list, part)
		}
	}
	return list
}
