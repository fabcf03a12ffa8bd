package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"

	"solana-sniper/internal/domain"
)

// WSOLMint is the wrapped SOL mint used as the quote currency on every swap.
const WSOLMint = "So11111111111111111111111111111111111111112"

const (
	defaultBaseURL   = "https://quote-api.jup.ag/v6"
	defaultTimeout   = 15 * time.Second
	lamportsPerSOL   = 1_000_000_000
	priceProbeTokens = 1.0 // token quantity quoted by PriceOf
)

// TransactionSigner signs and submits serialized transactions. Satisfied by
// wallet.Wallet.
type TransactionSigner interface {
	PublicKey() string
	SignAndSend(ctx context.Context, txBase64 string) (string, error)
}

// DecimalsLookup resolves the decimal precision of a token mint. Satisfied
// by solana.HTTPClient.GetTokenDecimals.
type DecimalsLookup func(ctx context.Context, mint string) (int, error)

// Jupiter implements SwapOracle against the Jupiter v6 aggregator API.
type Jupiter struct {
	http     *resty.Client
	signer   TransactionSigner
	decimals DecimalsLookup

	mu       sync.Mutex
	decCache map[string]int
}

// JupiterOption configures the Jupiter client.
type JupiterOption func(*Jupiter)

// WithBaseURL overrides the aggregator endpoint.
func WithBaseURL(url string) JupiterOption {
	return func(j *Jupiter) {
		j.http.SetBaseURL(url)
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) JupiterOption {
	return func(j *Jupiter) {
		j.http.SetTimeout(d)
	}
}

// NewJupiter creates a Jupiter v6 client. The signer submits swap
// transactions; decimals resolves token precision for unit conversion.
func NewJupiter(signer TransactionSigner, decimals DecimalsLookup, opts ...JupiterOption) *Jupiter {
	j := &Jupiter{
		http: resty.New().
			SetBaseURL(defaultBaseURL).
			SetTimeout(defaultTimeout).
			SetHeader("Content-Type", "application/json"),
		signer:   signer,
		decimals: decimals,
		decCache: make(map[string]int),
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// quoteResponse is the subset of the Jupiter quote payload the client reads.
// The full body is carried opaquely to the swap endpoint.
type quoteResponse struct {
	InAmount  string `json:"inAmount"`
	OutAmount string `json:"outAmount"`
	ErrorCode string `json:"errorCode"`
	ErrorMsg  string `json:"error"`
}

// Quote requests a route for the swap. For BUY, amount is SOL to spend; for
// SELL, amount is the token quantity to liquidate.
func (j *Jupiter) Quote(ctx context.Context, address string, amount float64, side domain.Side, slippageBps int) (*Route, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("quote amount must be positive, got %f", amount)
	}

	dec, err := j.tokenDecimals(ctx, address)
	if err != nil {
		return nil, fmt.Errorf("resolve decimals for %s: %w", address, err)
	}
	tokenUnit := math.Pow10(dec)

	var inputMint, outputMint string
	var amountBase uint64
	switch side {
	case domain.SideBuy:
		inputMint, outputMint = WSOLMint, address
		amountBase = uint64(amount * lamportsPerSOL)
	case domain.SideSell:
		inputMint, outputMint = address, WSOLMint
		amountBase = uint64(amount * tokenUnit)
	default:
		return nil, fmt.Errorf("unknown side %q", side)
	}
	if amountBase == 0 {
		return nil, fmt.Errorf("amount %f rounds to zero base units", amount)
	}

	resp, err := j.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"inputMint":   inputMint,
			"outputMint":  outputMint,
			"amount":      strconv.FormatUint(amountBase, 10),
			"slippageBps": strconv.Itoa(slippageBps),
		}).
		Get("/quote")
	if err != nil {
		return nil, fmt.Errorf("quote request: %w", err)
	}

	var quote quoteResponse
	if err := json.Unmarshal(resp.Body(), &quote); err != nil {
		return nil, fmt.Errorf("decode quote: %w", err)
	}
	if quote.ErrorCode != "" || resp.IsError() {
		if isNoRouteCode(quote.ErrorCode) {
			return nil, fmt.Errorf("%w: %s %s", ErrNoRoute, address, quote.ErrorCode)
		}
		return nil, fmt.Errorf("quote failed (%d): %s %s", resp.StatusCode(), quote.ErrorCode, quote.ErrorMsg)
	}

	outBase, err := strconv.ParseUint(quote.OutAmount, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse outAmount %q: %w", quote.OutAmount, err)
	}

	route := &Route{
		Address:     address,
		Side:        side,
		InAmount:    amount,
		SlippageBps: slippageBps,
		Payload:     resp.Body(),
	}
	switch side {
	case domain.SideBuy:
		route.OutAmount = float64(outBase) / tokenUnit
		if route.OutAmount > 0 {
			route.Price = amount / route.OutAmount
		}
	case domain.SideSell:
		route.OutAmount = float64(outBase) / lamportsPerSOL
		route.Price = route.OutAmount / amount
	}
	if route.OutAmount <= 0 {
		return nil, fmt.Errorf("%w: zero output for %s", ErrNoRoute, address)
	}

	return route, nil
}

// swapRequest is the Jupiter swap-build payload.
type swapRequest struct {
	QuoteResponse    json.RawMessage `json:"quoteResponse"`
	UserPublicKey    string          `json:"userPublicKey"`
	WrapAndUnwrapSol bool            `json:"wrapAndUnwrapSol"`
}

type swapResponse struct {
	SwapTransaction string `json:"swapTransaction"`
	ErrorMsg        string `json:"error"`
}

// Submit builds the swap transaction for the route, signs and sends it.
// Route expectations become the fill values; slippage beyond the route bound
// is rejected on-chain and surfaces as ErrSlippageExceeded.
func (j *Jupiter) Submit(ctx context.Context, route *Route) (*Fill, error) {
	if route == nil || len(route.Payload) == 0 {
		return nil, fmt.Errorf("route has no quote payload")
	}

	var swap swapResponse
	resp, err := j.http.R().
		SetContext(ctx).
		SetBody(swapRequest{
			QuoteResponse:    route.Payload,
			UserPublicKey:    j.signer.PublicKey(),
			WrapAndUnwrapSol: true,
		}).
		SetResult(&swap).
		Post("/swap")
	if err != nil {
		return nil, fmt.Errorf("swap request: %w", err)
	}
	if resp.IsError() {
		return nil, classifySubmitError(fmt.Errorf("swap build failed (%d): %s", resp.StatusCode(), resp.String()))
	}
	if swap.SwapTransaction == "" {
		return nil, fmt.Errorf("swap build returned no transaction: %s", swap.ErrorMsg)
	}

	sig, err := j.signer.SignAndSend(ctx, swap.SwapTransaction)
	if err != nil {
		return nil, classifySubmitError(fmt.Errorf("submit swap: %w", err))
	}

	fill := &Fill{TxSignature: sig, Price: route.Price}
	switch route.Side {
	case domain.SideBuy:
		fill.Quantity = route.OutAmount
		fill.AmountSOL = route.InAmount
	case domain.SideSell:
		fill.Quantity = route.InAmount
		fill.AmountSOL = route.OutAmount
	}
	return fill, nil
}

// PriceOf returns the current SOL price of one token, derived from a sell
// quote so it reflects realizable value rather than mid price.
func (j *Jupiter) PriceOf(ctx context.Context, address string) (float64, error) {
	route, err := j.Quote(ctx, address, priceProbeTokens, domain.SideSell, 50)
	if err != nil {
		return 0, err
	}
	return route.Price, nil
}

func (j *Jupiter) tokenDecimals(ctx context.Context, mint string) (int, error) {
	if mint == WSOLMint {
		return 9, nil
	}

	j.mu.Lock()
	dec, ok := j.decCache[mint]
	j.mu.Unlock()
	if ok {
		return dec, nil
	}

	dec, err := j.decimals(ctx, mint)
	if err != nil {
		return 0, err
	}

	j.mu.Lock()
	j.decCache[mint] = dec
	j.mu.Unlock()
	return dec, nil
}

func isNoRouteCode(code string) bool {
	switch code {
	case "COULD_NOT_FIND_ANY_ROUTE", "TOKEN_NOT_TRADABLE", "ROUTE_PLAN_DOES_NOT_CONSUME_ALL_THE_AMOUNT":
		return true
	}
	return false
}

// classifySubmitError maps on-chain and aggregator failures onto the oracle
// error taxonomy by message inspection, since errors cross an HTTP boundary
// and arrive untyped.
func classifySubmitError(err error) error {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "slippage") || strings.Contains(msg, "custom program error: 0x1771"):
		return fmt.Errorf("%w: %v", ErrSlippageExceeded, err)
	case strings.Contains(msg, "insufficient"):
		return fmt.Errorf("%w: %v", ErrInsufficientBalance, err)
	case strings.Contains(msg, "blockhash not found") || strings.Contains(msg, "block height exceeded"):
		return fmt.Errorf("%w: %v", ErrStaleQuote, err)
	}
	return err
}
