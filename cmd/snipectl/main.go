// snipectl is the operator CLI: inspect positions and history, run manual
// sells, force-close stuck positions, withdraw funds, and edit settings.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"solana-sniper/internal/domain"
	"solana-sniper/internal/executor"
	"solana-sniper/internal/oracle"
	"solana-sniper/internal/settings"
	"solana-sniper/internal/solana"
	"solana-sniper/internal/storage"
	chstore "solana-sniper/internal/storage/clickhouse"
	"solana-sniper/internal/storage/migrations"
	pgstore "solana-sniper/internal/storage/postgres"
	"solana-sniper/internal/wallet"
)

func main() {
	action := flag.String("action", "", "Action: balance, positions, history, sell, close, withdraw, set-settings")
	envFile := flag.String("env-file", ".env", "Path to .env file with secrets (optional)")
	settingsPath := flag.String("settings", "settings.json", "Path to trading settings file")
	rpcEndpoint := flag.String("rpc-endpoint", "https://api.mainnet-beta.solana.com", "Solana RPC HTTP endpoint")
	jupiterURL := flag.String("jupiter-url", "", "Jupiter aggregator base URL (default: public v6)")
	postgresDSN := flag.String("postgres-dsn", "", "PostgreSQL connection string")
	clickhouseDSN := flag.String("clickhouse-dsn", "", "ClickHouse connection string")
	address := flag.String("address", "", "Token mint address")
	fraction := flag.Float64("fraction", 1.0, "Fraction of remaining quantity to sell")
	to := flag.String("to", "", "Withdrawal destination address")
	amount := flag.Float64("amount", 0, "Withdrawal amount in SOL")
	investment := flag.Float64("investment", 0, "New investment per buy in SOL (set-settings)")
	slippageBps := flag.Int("slippage-bps", 0, "New slippage bound in bps (set-settings)")
	rules := flag.String("rules", "", "New take-profit rules as threshold:fraction pairs, e.g. 30:0.5,100:1 (set-settings)")
	flag.Parse()

	logger := zerolog.New(os.Stdout).Level(zerolog.WarnLevel).With().Timestamp().Logger()

	if err := godotenv.Load(*envFile); err != nil && !os.IsNotExist(err) {
		fatal("load env file: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	cli := &cli{
		ctx:           ctx,
		logger:        logger,
		settingsPath:  *settingsPath,
		rpcEndpoint:   *rpcEndpoint,
		jupiterURL:    *jupiterURL,
		postgresDSN:   *postgresDSN,
		clickhouseDSN: *clickhouseDSN,
	}

	var err error
	switch *action {
	case "balance":
		err = cli.balance(*address)
	case "positions":
		err = cli.positions()
	case "history":
		err = cli.history(*address)
	case "sell":
		err = cli.sell(*address, *fraction)
	case "close":
		err = cli.forceClose(*address)
	case "withdraw":
		err = cli.withdraw(*to, *amount)
	case "set-settings":
		err = cli.setSettings(*investment, *slippageBps, *rules)
	default:
		fatal("unknown or missing --action %q", *action)
	}

	if err != nil {
		fatal("%v", err)
	}
}

func fatal(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "snipectl: "+format+"\n", args...)
	os.Exit(1)
}

type cli struct {
	ctx           context.Context
	logger        zerolog.Logger
	settingsPath  string
	rpcEndpoint   string
	jupiterURL    string
	postgresDSN   string
	clickhouseDSN string
}

func (c *cli) openWallet() (*wallet.Wallet, *solana.HTTPClient, error) {
	secret := os.Getenv("WALLET_SECRET_KEY")
	if secret == "" {
		return nil, nil, fmt.Errorf("WALLET_SECRET_KEY is not set")
	}
	rpc := solana.NewHTTPClient(c.rpcEndpoint)
	w, err := wallet.NewFromBase58(secret, rpc)
	if err != nil {
		return nil, nil, fmt.Errorf("import wallet: %w", err)
	}
	return w, rpc, nil
}

func (c *cli) openPositions() (storage.PositionStore, func(), error) {
	if c.postgresDSN == "" {
		return nil, nil, fmt.Errorf("--postgres-dsn is required")
	}
	pool, err := pgstore.NewPool(c.ctx, c.postgresDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := migrations.RunPostgresMigrations(c.ctx, pool); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("run postgres migrations: %w", err)
	}
	return pgstore.NewPositionStore(pool), pool.Close, nil
}

func (c *cli) openEvents() (storage.TradeEventStore, func(), error) {
	if c.clickhouseDSN == "" {
		return nil, nil, fmt.Errorf("--clickhouse-dsn is required")
	}
	conn, err := migrations.RunClickhouseMigrations(c.ctx, c.clickhouseDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to clickhouse: %w", err)
	}
	return chstore.NewTradeEventStore(conn), func() { conn.Close() }, nil
}

func (c *cli) balance(address string) error {
	w, _, err := c.openWallet()
	if err != nil {
		return err
	}

	sol, err := w.BalanceSOL(c.ctx)
	if err != nil {
		return fmt.Errorf("fetch balance: %w", err)
	}
	fmt.Printf("wallet   %s\nbalance  %.6f SOL\n", w.PublicKey(), sol)

	if address != "" {
		tokens, err := w.TokenBalance(c.ctx, address)
		if err != nil {
			return fmt.Errorf("fetch token balance: %w", err)
		}
		fmt.Printf("%-8s %.6f\n", address[:8], tokens)
	}
	return nil
}

func (c *cli) positions() error {
	store, closeFn, err := c.openPositions()
	if err != nil {
		return err
	}
	defer closeFn()

	open, err := store.ListOpen(c.ctx)
	if err != nil {
		return fmt.Errorf("list positions: %w", err)
	}
	if len(open) == 0 {
		fmt.Println("no open positions")
		return nil
	}

	for _, p := range open {
		fmt.Printf("%s  opened=%s  remaining=%.4f/%.4f  cost=%.4f SOL  realized=%.4f SOL  rules=%d/%d\n",
			p.Address,
			time.UnixMilli(p.OpenedAt).UTC().Format(time.RFC3339),
			p.RemainingQuantity, p.InitialQuantity,
			p.TotalCost, p.RealizedProceeds,
			len(p.TriggeredRules), len(p.TakeProfitRules))
	}
	return nil
}

func (c *cli) history(address string) error {
	if address == "" {
		return fmt.Errorf("--address is required")
	}
	store, closeFn, err := c.openEvents()
	if err != nil {
		return err
	}
	defer closeFn()

	events, err := store.GetByAddress(c.ctx, address)
	if err != nil {
		return fmt.Errorf("fetch history: %w", err)
	}
	if len(events) == 0 {
		fmt.Println("no events")
		return nil
	}

	for _, e := range events {
		line := fmt.Sprintf("%s  %-15s %-4s qty=%.4f sol=%.4f",
			time.UnixMilli(e.OccurredAt).UTC().Format(time.RFC3339),
			e.EventType, e.Side, e.Quantity, e.AmountSOL)
		if e.RuleIndex != nil {
			line += fmt.Sprintf(" rule=%d", *e.RuleIndex)
		}
		if e.TxSignature != "" {
			line += " tx=" + e.TxSignature
		}
		if e.Reason != "" {
			line += " reason=" + e.Reason
		}
		fmt.Println(line)
	}
	return nil
}

func (c *cli) sell(address string, fraction float64) error {
	if address == "" {
		return fmt.Errorf("--address is required")
	}

	w, rpc, err := c.openWallet()
	if err != nil {
		return err
	}
	positions, closeFn, err := c.openPositions()
	if err != nil {
		return err
	}
	defer closeFn()

	var events storage.TradeEventStore
	if c.clickhouseDSN != "" {
		store, closeEvents, err := c.openEvents()
		if err != nil {
			return err
		}
		defer closeEvents()
		events = store
	}

	var oracleOpts []oracle.JupiterOption
	if c.jupiterURL != "" {
		oracleOpts = append(oracleOpts, oracle.WithBaseURL(c.jupiterURL))
	}
	swap := oracle.NewJupiter(w, rpc.GetTokenDecimals, oracleOpts...)

	settingsStore, err := settings.NewStore(c.settingsPath, c.logger)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}

	exec := executor.New(swap, positions, events, c.logger)
	pos, err := exec.Sell(c.ctx, address, fraction, -1, settingsStore.Snapshot().MaxSlippageBps)
	if err != nil {
		return fmt.Errorf("sell: %w", err)
	}

	fmt.Printf("sold %.0f%% of %s, position now %s (remaining %.4f, realized %.4f SOL)\n",
		fraction*100, address, pos.Status, pos.RemainingQuantity, pos.RealizedProceeds)
	return nil
}

// forceClose marks a position CLOSED without swapping. For tokens whose
// liquidity is gone and will never route again.
func (c *cli) forceClose(address string) error {
	if address == "" {
		return fmt.Errorf("--address is required")
	}
	store, closeFn, err := c.openPositions()
	if err != nil {
		return err
	}
	defer closeFn()

	pos, err := store.ForceClose(c.ctx, address, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("force close: %w", err)
	}

	fmt.Printf("closed %s: abandoned %.4f tokens, realized %.4f of %.4f SOL spent\n",
		address, pos.RemainingQuantity, pos.RealizedProceeds, pos.TotalCost)
	return nil
}

func (c *cli) withdraw(to string, amount float64) error {
	if to == "" || amount <= 0 {
		return fmt.Errorf("--to and a positive --amount are required")
	}
	w, _, err := c.openWallet()
	if err != nil {
		return err
	}

	sig, err := w.Withdraw(c.ctx, to, amount)
	if err != nil {
		return fmt.Errorf("withdraw: %w", err)
	}
	fmt.Printf("sent %.6f SOL to %s (tx %s)\n", amount, to, sig)
	return nil
}

func (c *cli) setSettings(investment float64, slippageBps int, rules string) error {
	store, err := settings.NewStore(c.settingsPath, c.logger)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}

	err = store.Update(func(s *domain.Settings) error {
		if investment > 0 {
			s.InvestmentSOL = investment
		}
		if slippageBps > 0 {
			s.MaxSlippageBps = slippageBps
		}
		if rules != "" {
			parsed, err := parseRules(rules)
			if err != nil {
				return err
			}
			s.TakeProfitRules = parsed
		}
		return nil
	})
	if err != nil {
		return err
	}

	snap := store.Snapshot()
	fmt.Printf("investment=%.4f SOL  slippage=%d bps  rules=%v\n",
		snap.InvestmentSOL, snap.MaxSlippageBps, snap.TakeProfitRules)
	return nil
}

// parseRules parses "30:0.5,100:1" into take-profit rules.
func parseRules(s string) ([]domain.TakeProfitRule, error) {
	var rules []domain.TakeProfitRule
	for _, pair := range strings.Split(s, ",") {
		parts := strings.SplitN(strings.TrimSpace(pair), ":", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("malformed rule %q, want threshold:fraction", pair)
		}
		threshold, err := strconv.ParseFloat(parts[0], 64)
		if err != nil {
			return nil, fmt.Errorf("parse threshold %q: %w", parts[0], err)
		}
		fraction, err := strconv.ParseFloat(parts[1], 64)
		if err != nil {
			return nil, fmt.Errorf("parse fraction %q: %w", parts[1], err)
		}
		rules = append(rules, domain.TakeProfitRule{ProfitThresholdPct: threshold, SellFraction: fraction})
	}
	return rules, nil
}
