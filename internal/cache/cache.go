package cache

import (
	"context"
	"time"

	"posengine/backend/internal/domain"
)

// ReceiptCache holds receipt projections by sale. A receipt never changes
// after commit, so entries only expire.
type ReceiptCache interface {
	Get(ctx context.Context, companyID string, saleID string) (*domain.ReceiptView, bool, error)
	Set(ctx context.Context, companyID string, saleID string, value *domain.ReceiptView, ttl time.Duration) error
}

type NoopReceiptCache struct{}

func (NoopReceiptCache) Get(_ context.Context, _ string, _ string) (*domain.ReceiptView, bool, error) {
	return nil, false, nil
}

func (NoopReceiptCache) Set(_ context.Context, _ string, _ string, _ *domain.ReceiptView, _ time.Duration) error {
	return nil
}

func receiptKey(companyID string, saleID string) string {
	return "receipt:" + companyID + ":" + saleID
}
