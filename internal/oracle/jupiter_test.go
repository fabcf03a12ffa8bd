package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"solana-sniper/internal/domain"
)

const testMint = "DezXAZ8z7PnrnRJjz3wXBoRgixCa6xjnB7YaB1pPB263"

func sixDecimals(ctx context.Context, mint string) (int, error) {
	return 6, nil
}

type fakeSigner struct {
	pubkey  string
	lastTx  string
	sig     string
	sendErr error
}

func (s *fakeSigner) PublicKey() string { return s.pubkey }

func (s *fakeSigner) SignAndSend(ctx context.Context, txBase64 string) (string, error) {
	s.lastTx = txBase64
	if s.sendErr != nil {
		return "", s.sendErr
	}
	return s.sig, nil
}

func TestJupiter_QuoteBuy(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/quote" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("inputMint") != WSOLMint {
			t.Errorf("inputMint = %s, want WSOL", q.Get("inputMint"))
		}
		if q.Get("outputMint") != testMint {
			t.Errorf("outputMint = %s", q.Get("outputMint"))
		}
		if q.Get("amount") != "100000000" { // 0.1 SOL in lamports
			t.Errorf("amount = %s, want 100000000", q.Get("amount"))
		}
		if q.Get("slippageBps") != "100" {
			t.Errorf("slippageBps = %s, want 100", q.Get("slippageBps"))
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"inAmount":  "100000000",
			"outAmount": "5000000000", // 5000 tokens at 6 decimals
		})
	}))
	defer server.Close()

	j := NewJupiter(&fakeSigner{}, sixDecimals, WithBaseURL(server.URL))
	route, err := j.Quote(context.Background(), testMint, 0.1, domain.SideBuy, 100)
	if err != nil {
		t.Fatalf("Quote: %v", err)
	}

	if route.OutAmount != 5000 {
		t.Errorf("OutAmount = %f, want 5000", route.OutAmount)
	}
	wantPrice := 0.1 / 5000
	if route.Price != wantPrice {
		t.Errorf("Price = %g, want %g", route.Price, wantPrice)
	}
	if len(route.Payload) == 0 {
		t.Error("route payload must carry the raw quote")
	}
}

func TestJupiter_QuoteSell(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("inputMint") != testMint || q.Get("outputMint") != WSOLMint {
			t.Errorf("sell must swap token to WSOL, got %s -> %s", q.Get("inputMint"), q.Get("outputMint"))
		}
		if q.Get("amount") != "2500000000" { // 2500 tokens at 6 decimals
			t.Errorf("amount = %s, want 2500000000", q.Get("amount"))
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"inAmount":  "2500000000",
			"outAmount": "65000000", // 0.065 SOL
		})
	}))
	defer server.Close()

	j := NewJupiter(&fakeSigner{}, sixDecimals, WithBaseURL(server.URL))
	route, err := j.Quote(context.Background(), testMint, 2500, domain.SideSell, 100)
	if err != nil {
		t.Fatalf("Quote: %v", err)
	}

	if route.OutAmount != 0.065 {
		t.Errorf("OutAmount = %f, want 0.065", route.OutAmount)
	}
	wantPrice := 0.065 / 2500
	if route.Price != wantPrice {
		t.Errorf("Price = %g, want %g", route.Price, wantPrice)
	}
}

func TestJupiter_QuoteNoRoute(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"errorCode": "COULD_NOT_FIND_ANY_ROUTE",
			"error":     "no routes found",
		})
	}))
	defer server.Close()

	j := NewJupiter(&fakeSigner{}, sixDecimals, WithBaseURL(server.URL))
	_, err := j.Quote(context.Background(), testMint, 0.1, domain.SideBuy, 100)
	if !errors.Is(err, ErrNoRoute) {
		t.Errorf("err = %v, want ErrNoRoute", err)
	}
}

func TestJupiter_Submit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/swap" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req swapRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode swap request: %v", err)
		}
		if req.UserPublicKey != "TestPubkey" {
			t.Errorf("userPublicKey = %s", req.UserPublicKey)
		}
		if !req.WrapAndUnwrapSol {
			t.Error("wrapAndUnwrapSol must be set")
		}
		json.NewEncoder(w).Encode(map[string]string{"swapTransaction": "dHg="})
	}))
	defer server.Close()

	signer := &fakeSigner{pubkey: "TestPubkey", sig: "5Confirmed"}
	j := NewJupiter(signer, sixDecimals, WithBaseURL(server.URL))

	route := &Route{
		Address:   testMint,
		Side:      domain.SideBuy,
		InAmount:  0.1,
		OutAmount: 5000,
		Price:     0.1 / 5000,
		Payload:   []byte(`{"outAmount":"5000000000"}`),
	}
	fill, err := j.Submit(context.Background(), route)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	if fill.TxSignature != "5Confirmed" {
		t.Errorf("signature = %s", fill.TxSignature)
	}
	if fill.Quantity != 5000 || fill.AmountSOL != 0.1 {
		t.Errorf("fill = %+v", fill)
	}
	if signer.lastTx != "dHg=" {
		t.Errorf("signer got tx %q", signer.lastTx)
	}
}

func TestJupiter_SubmitClassifiesOnChainErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"swapTransaction": "dHg="})
	}))
	defer server.Close()

	cases := []struct {
		name    string
		sendErr error
		want    error
	}{
		{"slippage", errors.New("RPC error -32002: custom program error: 0x1771"), ErrSlippageExceeded},
		{"insufficient", errors.New("Transfer: insufficient lamports"), ErrInsufficientBalance},
		{"stale", errors.New("RPC error -32002: Blockhash not found"), ErrStaleQuote},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			signer := &fakeSigner{pubkey: "pk", sendErr: tc.sendErr}
			j := NewJupiter(signer, sixDecimals, WithBaseURL(server.URL))
			_, err := j.Submit(context.Background(), &Route{Side: domain.SideBuy, Payload: []byte(`{}`)})
			if !errors.Is(err, tc.want) {
				t.Errorf("err = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestJupiter_PriceOf(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"inAmount":  "1000000",
			"outAmount": "13000", // 0.000013 SOL per token
		})
	}))
	defer server.Close()

	j := NewJupiter(&fakeSigner{}, sixDecimals, WithBaseURL(server.URL))
	price, err := j.PriceOf(context.Background(), testMint)
	if err != nil {
		t.Fatalf("PriceOf: %v", err)
	}
	if price != 0.000013 {
		t.Errorf("price = %g, want 0.000013", price)
	}
}

func TestIsRetryable(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"no route", ErrNoRoute, false},
		{"slippage wrapped", errors.Join(errors.New("ctx"), ErrSlippageExceeded), false},
		{"insufficient balance", ErrInsufficientBalance, false},
		{"stale quote", ErrStaleQuote, true},
		{"network", errors.New("connection refused"), true},
		{"deadline", context.DeadlineExceeded, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsRetryable(tc.err); got != tc.want {
				t.Errorf("IsRetryable(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}
