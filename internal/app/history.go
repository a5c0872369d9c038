package app

import (
	"context"
	"encoding/base64"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/transfa/wallet-service/internal/domain"
	"github.com/transfa/wallet-service/internal/store"
	"github.com/transfa/wallet-service/pkg/money"
)

const (
	DefaultHistoryLimit = 20
	MaxHistoryLimit     = 100
)

// History is the read-only projection of committed transfers.
type History struct {
	repo    store.Repository
	numbers *AccountNumbers
}

func NewHistory(repo store.Repository, numbers *AccountNumbers) *History {
	return &History{repo: repo, numbers: numbers}
}

// EncodeCursor packs a keyset position into an opaque token.
func EncodeCursor(cursor domain.TransferCursor) string {
	raw := cursor.CreatedAt.UTC().Format(time.RFC3339Nano) + "|" + cursor.ID.String()
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// DecodeCursor reverses EncodeCursor. An empty token means "from the newest".
func DecodeCursor(token string) (*domain.TransferCursor, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, domain.NewValidationError("cursor", "is malformed")
	}
	createdPart, idPart, ok := strings.Cut(string(raw), "|")
	if !ok {
		return nil, domain.NewValidationError("cursor", "is malformed")
	}
	createdAt, err := time.Parse(time.RFC3339Nano, createdPart)
	if err != nil {
		return nil, domain.NewValidationError("cursor", "is malformed")
	}
	id, err := uuid.Parse(idPart)
	if err != nil {
		return nil, domain.NewValidationError("cursor", "is malformed")
	}
	return &domain.TransferCursor{CreatedAt: createdAt, ID: id}, nil
}

// ListTransfers returns up to limit transfers the account sent or received, newest
// first, continuing after cursor.
func (h *History) ListTransfers(ctx context.Context, accountID string, limit int, cursor string) (*domain.TransferPage, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}
	after, err := DecodeCursor(cursor)
	if err != nil {
		return nil, err
	}

	transfers, err := h.repo.ListTransfersByAccount(ctx, accountID, domain.TransferListOptions{Limit: limit + 1, After: after})
	if err != nil {
		return nil, storeError("list transfers", err)
	}

	page := &domain.TransferPage{Items: make([]domain.TransferView, 0, limit)}
	if len(transfers) > limit {
		transfers = transfers[:limit]
		last := transfers[limit-1]
		page.NextCursor = EncodeCursor(domain.TransferCursor{CreatedAt: last.CreatedAt, ID: last.ID})
	}
	for _, t := range transfers {
		page.Items = append(page.Items, h.view(t, accountID))
	}
	return page, nil
}

// GetReceipt returns one transfer. Non-participants get ErrTransferNotFound.
func (h *History) GetReceipt(ctx context.Context, accountID string, transferID uuid.UUID) (*domain.TransferView, error) {
	transfer, err := h.repo.FindTransferByID(ctx, transferID)
	if err != nil {
		return nil, storeError("find transfer", err)
	}
	if transfer.SenderAccountID != accountID && transfer.RecipientAccountID != accountID {
		return nil, domain.ErrTransferNotFound
	}
	view := h.view(*transfer, accountID)
	return &view, nil
}

func (h *History) view(t domain.Transfer, accountID string) domain.TransferView {
	direction := domain.TransferDirectionReceived
	counterparty := t.SenderAccountNumber
	if t.SenderAccountID == accountID {
		direction = domain.TransferDirectionSent
		counterparty = t.RecipientAccountNumber
	}
	view := domain.TransferView{
		ID:                        t.ID,
		Direction:                 direction,
		CounterpartyAccountNumber: h.numbers.Format(counterparty),
		SenderAccountNumber:       h.numbers.Format(t.SenderAccountNumber),
		RecipientAccountNumber:    h.numbers.Format(t.RecipientAccountNumber),
		Amount:                    t.Amount,
		AmountFormatted:           money.Format(t.Amount),
		Note:                      t.Note,
		Status:                    t.Status,
		CreatedAt:                 t.CreatedAt,
	}
	// Recipients never see the sender's fee.
	if direction == domain.TransferDirectionSent {
		view.Fee = t.Fee
		view.TotalDebited = t.TotalDebited
		view.FeeFormatted = money.Format(t.Fee)
		view.TotalDebitedFormatted = money.Format(t.TotalDebited)
	}
	return view
}
