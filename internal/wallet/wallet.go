// Package wallet manages the trading keypair: import/export in base58,
// transaction signing, balance checks and SOL withdrawal.
package wallet

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/mr-tron/base58"

	"solana-sniper/internal/solana"
)

// ErrInvalidKey means the provided secret key is malformed.
var ErrInvalidKey = errors.New("invalid secret key")

// Wallet holds an ed25519 keypair and a Solana RPC client for submitting
// signed transactions.
type Wallet struct {
	priv ed25519.PrivateKey
	pub  ed25519.PublicKey
	rpc  *solana.HTTPClient
}

// Generate creates a wallet with a fresh random keypair.
func Generate(rpc *solana.HTTPClient) (*Wallet, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate keypair: %w", err)
	}
	return &Wallet{priv: priv, pub: pub, rpc: rpc}, nil
}

// NewFromBase58 imports a wallet from a base58-encoded secret key. Accepts
// both the 64-byte seed+pubkey form and a bare 32-byte seed.
func NewFromBase58(secret string, rpc *solana.HTTPClient) (*Wallet, error) {
	raw, err := base58.Decode(secret)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}

	var priv ed25519.PrivateKey
	switch len(raw) {
	case ed25519.PrivateKeySize:
		priv = ed25519.PrivateKey(raw)
	case ed25519.SeedSize:
		priv = ed25519.NewKeyFromSeed(raw)
	default:
		return nil, fmt.Errorf("%w: %d bytes, want %d or %d", ErrInvalidKey, len(raw), ed25519.SeedSize, ed25519.PrivateKeySize)
	}

	return &Wallet{
		priv: priv,
		pub:  priv.Public().(ed25519.PublicKey),
		rpc:  rpc,
	}, nil
}

// PublicKey returns the base58-encoded public key.
func (w *Wallet) PublicKey() string {
	return base58.Encode(w.pub)
}

// ExportBase58 returns the base58-encoded 64-byte secret key.
func (w *Wallet) ExportBase58() string {
	return base58.Encode(w.priv)
}

// BalanceSOL returns the wallet's SOL balance.
func (w *Wallet) BalanceSOL(ctx context.Context) (float64, error) {
	lamports, err := w.rpc.GetBalance(ctx, w.PublicKey())
	if err != nil {
		return 0, fmt.Errorf("get balance: %w", err)
	}
	return float64(lamports) / solana.LamportsPerSOL, nil
}

// TokenBalance returns the wallet's balance of the given mint.
func (w *Wallet) TokenBalance(ctx context.Context, mint string) (float64, error) {
	return w.rpc.GetTokenBalance(ctx, w.PublicKey(), mint)
}

// SignTransaction signs a serialized, base64-encoded transaction as the fee
// payer and returns the signed transaction in base64. The transaction must
// require exactly one signature.
func (w *Wallet) SignTransaction(txBase64 string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(txBase64)
	if err != nil {
		return "", fmt.Errorf("decode transaction: %w", err)
	}

	numSigs, offset, err := decodeCompactU16(raw)
	if err != nil {
		return "", fmt.Errorf("parse signature count: %w", err)
	}
	if numSigs != 1 {
		return "", fmt.Errorf("transaction requires %d signatures, can only provide 1", numSigs)
	}

	msgStart := offset + numSigs*ed25519.SignatureSize
	if len(raw) <= msgStart {
		return "", errors.New("truncated transaction")
	}

	sig := ed25519.Sign(w.priv, raw[msgStart:])
	copy(raw[offset:msgStart], sig)

	return base64.StdEncoding.EncodeToString(raw), nil
}

// SignAndSend signs the transaction, submits it and waits for confirmation.
// Returns the transaction signature.
func (w *Wallet) SignAndSend(ctx context.Context, txBase64 string) (string, error) {
	signed, err := w.SignTransaction(txBase64)
	if err != nil {
		return "", err
	}

	sig, err := w.rpc.SendTransaction(ctx, signed)
	if err != nil {
		return "", fmt.Errorf("send transaction: %w", err)
	}

	if err := w.rpc.WaitForConfirmation(ctx, sig, 2*time.Second); err != nil {
		return sig, fmt.Errorf("confirm transaction: %w", err)
	}
	return sig, nil
}

// Withdraw transfers SOL to the destination address and returns the
// transaction signature.
func (w *Wallet) Withdraw(ctx context.Context, destination string, amountSOL float64) (string, error) {
	if amountSOL <= 0 {
		return "", fmt.Errorf("withdraw amount must be positive, got %f", amountSOL)
	}

	blockhash, err := w.rpc.GetLatestBlockhash(ctx)
	if err != nil {
		return "", fmt.Errorf("get blockhash: %w", err)
	}

	lamports := uint64(amountSOL * solana.LamportsPerSOL)
	tx, err := buildTransferTransaction(w.PublicKey(), destination, lamports, blockhash)
	if err != nil {
		return "", fmt.Errorf("build transfer: %w", err)
	}

	return w.SignAndSend(ctx, tx)
}

// decodeCompactU16 reads a compact-u16 length prefix as used by the Solana
// transaction wire format. Returns the value and the number of bytes read.
func decodeCompactU16(data []byte) (int, int, error) {
	var value, shift int
	for i := 0; i < 3; i++ {
		if i >= len(data) {
			return 0, 0, errors.New("short compact-u16")
		}
		b := data[i]
		value |= int(b&0x7f) << shift
		if b&0x80 == 0 {
			return value, i + 1, nil
		}
		shift += 7
	}
	return 0, 0, errors.New("compact-u16 too long")
}

// encodeCompactU16 writes a compact-u16 length prefix.
func encodeCompactU16(value int) []byte {
	var out []byte
	for {
		b := byte(value & 0x7f)
		value >>= 7
		if value == 0 {
			out = append(out, b)
			return out
		}
		out = append(out, b|0x80)
	}
}
