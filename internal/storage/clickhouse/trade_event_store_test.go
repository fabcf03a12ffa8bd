package clickhouse

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solana-sniper/internal/domain"
	"solana-sniper/internal/storage"
)

func TestTradeEventStore_InsertAndGet(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	store := NewTradeEventStore(conn)

	ruleIdx := 0
	events := []*domain.TradeEvent{
		{
			EventID:     "ev-1",
			Address:     "Mint1",
			EventType:   domain.TradeEventPositionOpened,
			Side:        domain.SideBuy,
			Quantity:    10000,
			Price:       0.0001,
			AmountSOL:   1.0,
			TxSignature: "TxBuy",
			OccurredAt:  1000,
		},
		{
			EventID:     "ev-2",
			Address:     "Mint1",
			EventType:   domain.TradeEventPartialSell,
			Side:        domain.SideSell,
			Quantity:    5000,
			Price:       0.00013,
			AmountSOL:   0.65,
			RuleIndex:   &ruleIdx,
			TxSignature: "TxSell",
			OccurredAt:  2000,
		},
		{
			EventID:    "ev-3",
			Address:    "Mint2",
			EventType:  domain.TradeEventTradeFailed,
			Side:       domain.SideBuy,
			Reason:     "no route",
			OccurredAt: 1500,
		},
	}

	for _, e := range events {
		require.NoError(t, store.Insert(ctx, e))
	}

	got, err := store.GetByAddress(ctx, "Mint1")
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, "ev-1", got[0].EventID)
	assert.Equal(t, domain.SideBuy, got[0].Side)
	assert.Nil(t, got[0].RuleIndex)

	assert.Equal(t, "ev-2", got[1].EventID)
	require.NotNil(t, got[1].RuleIndex)
	assert.Equal(t, 0, *got[1].RuleIndex)
	assert.Equal(t, 0.65, got[1].AmountSOL)

	failed, err := store.GetByAddress(ctx, "Mint2")
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "no route", failed[0].Reason)
}

func TestTradeEventStore_InvalidInput(t *testing.T) {
	store := NewTradeEventStore(nil)

	err := store.Insert(context.Background(), nil)
	assert.ErrorIs(t, err, storage.ErrInvalidInput)

	err = store.Insert(context.Background(), &domain.TradeEvent{Address: "Mint1"})
	assert.ErrorIs(t, err, storage.ErrInvalidInput)
}

func TestTradeEventStore_EmptyResult(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewTradeEventStore(conn)
	got, err := store.GetByAddress(context.Background(), "NeverSeen")
	require.NoError(t, err)
	assert.Empty(t, got)
}
