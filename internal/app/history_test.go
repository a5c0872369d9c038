package app

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/transfa/wallet-service/internal/domain"
)

func TestCursorRoundTrip(t *testing.T) {
	cursor := domain.TransferCursor{
		CreatedAt: time.Date(2026, 3, 1, 10, 30, 0, 123456789, time.UTC),
		ID:        uuid.New(),
	}
	decoded, err := DecodeCursor(EncodeCursor(cursor))
	require.NoError(t, err)
	assert.True(t, cursor.CreatedAt.Equal(decoded.CreatedAt))
	assert.Equal(t, cursor.ID, decoded.ID)

	empty, err := DecodeCursor("  ")
	require.NoError(t, err)
	assert.Nil(t, empty)

	for _, bad := range []string{"%%%", "bm90LWEtY3Vyc29y", EncodeCursor(domain.TransferCursor{})[:4]} {
		_, err := DecodeCursor(bad)
		assert.True(t, domain.IsValidation(err), "cursor %q", bad)
	}
}

func TestListTransfersPagesNewestFirst(t *testing.T) {
	h := newHarness(t, FlatFee{Fee: 10}, 1)
	h.openAccount(t, "seller-a", 10000)
	recipientNumber := h.openAccount(t, "seller-b", 0)

	base := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	tick := 0
	h.engine.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Minute)
	}

	var ids []uuid.UUID
	for i := 1; i <= 5; i++ {
		result, err := h.engine.Execute(context.Background(), domain.TransferRequest{
			SenderAccountID:        "seller-a",
			RecipientAccountNumber: recipientNumber,
			Amount:                 int64(100 * i),
		})
		require.NoError(t, err)
		ids = append(ids, result.Transfer.ID)
	}

	var (
		seen   []uuid.UUID
		cursor string
		pages  int
	)
	for {
		page, err := h.history.ListTransfers(context.Background(), "seller-a", 2, cursor)
		require.NoError(t, err)
		pages++
		for _, item := range page.Items {
			seen = append(seen, item.ID)
		}
		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}

	assert.Equal(t, 3, pages)
	assert.Equal(t, []uuid.UUID{ids[4], ids[3], ids[2], ids[1], ids[0]}, seen)
}

func TestListTransfersSameTimestampIsStable(t *testing.T) {
	h := newHarness(t, FlatFee{Fee: 0}, 1)
	h.openAccount(t, "seller-a", 10000)
	recipientNumber := h.openAccount(t, "seller-b", 0)

	frozen := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	h.engine.now = func() time.Time { return frozen }
	for i := 0; i < 4; i++ {
		_, err := h.engine.Execute(context.Background(), domain.TransferRequest{
			SenderAccountID:        "seller-a",
			RecipientAccountNumber: recipientNumber,
			Amount:                 100,
		})
		require.NoError(t, err)
	}

	all, err := h.history.ListTransfers(context.Background(), "seller-a", 10, "")
	require.NoError(t, err)
	require.Len(t, all.Items, 4)

	first, err := h.history.ListTransfers(context.Background(), "seller-a", 3, "")
	require.NoError(t, err)
	second, err := h.history.ListTransfers(context.Background(), "seller-a", 3, first.NextCursor)
	require.NoError(t, err)
	require.Len(t, first.Items, 3)
	require.Len(t, second.Items, 1)
	assert.Equal(t, all.Items[3].ID, second.Items[0].ID)
	assert.Empty(t, second.NextCursor)
}

func TestHistoryViewsHideFeeFromRecipient(t *testing.T) {
	h := newHarness(t, FlatFee{Fee: 50}, 100)
	senderNumber := h.openAccount(t, "seller-a", 10000)
	recipientNumber := h.openAccount(t, "seller-b", 0)

	_, err := h.engine.Execute(context.Background(), domain.TransferRequest{
		SenderAccountID:        "seller-a",
		RecipientAccountNumber: recipientNumber,
		Amount:                 3000,
		Note:                   "royalty split",
	})
	require.NoError(t, err)

	sent, err := h.history.ListTransfers(context.Background(), "seller-a", 0, "")
	require.NoError(t, err)
	require.Len(t, sent.Items, 1)
	view := sent.Items[0]
	assert.Equal(t, domain.TransferDirectionSent, view.Direction)
	assert.Equal(t, h.numbers.Format(recipientNumber), view.CounterpartyAccountNumber)
	assert.Equal(t, int64(50), view.Fee)
	assert.Equal(t, int64(3050), view.TotalDebited)
	assert.Equal(t, "₦30.50", view.TotalDebitedFormatted)
	assert.Equal(t, "royalty split", view.Note)

	received, err := h.history.ListTransfers(context.Background(), "seller-b", 0, "")
	require.NoError(t, err)
	require.Len(t, received.Items, 1)
	view = received.Items[0]
	assert.Equal(t, domain.TransferDirectionReceived, view.Direction)
	assert.Equal(t, h.numbers.Format(senderNumber), view.CounterpartyAccountNumber)
	assert.Equal(t, "₦30.00", view.AmountFormatted)
	assert.Zero(t, view.Fee)
	assert.Zero(t, view.TotalDebited)
	assert.Empty(t, view.FeeFormatted)
}

func TestGetReceipt(t *testing.T) {
	h := newHarness(t, FlatFee{Fee: 50}, 100)
	h.openAccount(t, "seller-a", 10000)
	recipientNumber := h.openAccount(t, "seller-b", 0)
	h.openAccount(t, "seller-c", 0)

	result, err := h.engine.Execute(context.Background(), domain.TransferRequest{
		SenderAccountID:        "seller-a",
		RecipientAccountNumber: recipientNumber,
		Amount:                 3000,
	})
	require.NoError(t, err)

	receipt, err := h.history.GetReceipt(context.Background(), "seller-a", result.Transfer.ID)
	require.NoError(t, err)
	assert.Equal(t, result.Transfer.ID, receipt.ID)
	assert.Equal(t, domain.TransferStatusCompleted, receipt.Status)

	_, err = h.history.GetReceipt(context.Background(), "seller-b", result.Transfer.ID)
	require.NoError(t, err)

	_, err = h.history.GetReceipt(context.Background(), "seller-c", result.Transfer.ID)
	assert.ErrorIs(t, err, domain.ErrTransferNotFound)

	_, err = h.history.GetReceipt(context.Background(), "seller-a", uuid.New())
	assert.ErrorIs(t, err, domain.ErrTransferNotFound)
}

func TestListTransfersEmpty(t *testing.T) {
	h := newHarness(t, FlatFee{Fee: 50}, 100)

	page, err := h.history.ListTransfers(context.Background(), "nobody", 500, "")
	require.NoError(t, err)
	assert.Empty(t, page.Items)
	assert.NotNil(t, page.Items)
	assert.Empty(t, page.NextCursor)
}
