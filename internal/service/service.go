package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"posengine/backend/internal/cache"
	"posengine/backend/internal/domain"
	"posengine/backend/internal/logger"
	"posengine/backend/internal/metrics"
	"posengine/backend/internal/store"
)

const (
	defaultListLimit = 100
	maxListLimit     = 500
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Options struct {
	CommitTimeout time.Duration
	MaxAttempts   int
	Receipts      cache.ReceiptCache
	ReceiptTTL    time.Duration
	Metrics       *metrics.Recorder
	Logger        *logger.Logger
}

// Service wires the builder, coordinator and refund processor over one
// repository and is what the transport layer talks to.
type Service struct {
	repo        store.Repository
	builder     *Builder
	coordinator *Coordinator
	refunds     *RefundProcessor
	receipts    cache.ReceiptCache
	receiptTTL  time.Duration
	maxAttempts int
	metrics     *metrics.Recorder
	log         *logger.Logger
	now         func() time.Time
}

func New(repo store.Repository, opts Options) *Service {
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 3
	}
	if opts.Receipts == nil {
		opts.Receipts = cache.NoopReceiptCache{}
	}
	if opts.ReceiptTTL <= 0 {
		opts.ReceiptTTL = 10 * time.Minute
	}
	if opts.Logger == nil {
		opts.Logger = logger.Nop()
	}

	return &Service{
		repo:        repo,
		builder:     NewBuilder(),
		coordinator: NewCoordinator(repo, opts.CommitTimeout),
		refunds:     NewRefundProcessor(repo, opts.CommitTimeout),
		receipts:    opts.Receipts,
		receiptTTL:  opts.ReceiptTTL,
		maxAttempts: opts.MaxAttempts,
		metrics:     opts.Metrics,
		log:         opts.Logger.With("service"),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Quote prices a cart without persisting anything.
func (s *Service) Quote(ctx context.Context, req domain.CartRequest) (*domain.BuiltSale, error) {
	return s.builder.Build(ctx, s.repo, req)
}

// Checkout builds and commits a sale. Retryable failures rebuild from
// fresh catalog data, so a lost stock race on the last attempt surfaces
// as the builder's InsufficientStock rather than a conflict.
func (s *Service) Checkout(ctx context.Context, req domain.CartRequest) (*domain.CommitResult, error) {
	req.IdempotencyKey = strings.TrimSpace(req.IdempotencyKey)

	for attempt := 1; ; attempt++ {
		built, err := s.builder.Build(ctx, s.repo, req)
		if err != nil {
			return nil, err
		}

		started := time.Now()
		result, err := s.coordinator.Commit(ctx, built)
		s.metrics.CommitAttempt(commitOutcome(result, err), time.Since(started))
		if err == nil {
			if result.Duplicate {
				s.log.Info().
					Str("company_id", req.CompanyID).
					Str("sale_id", result.Sale.ID).
					Str("idempotency_key", req.IdempotencyKey).
					Msg("checkout replayed")
				return result, nil
			}
			s.metrics.SaleCommitted(string(result.Sale.PaymentMethod))
			s.audit(ctx, "checkout", result.Sale).
				Int64("sale_number", result.Sale.SaleNumber).
				Str("total", result.Sale.Total.StringFixed(domain.MoneyPlaces)).
				Str("payment_method", string(result.Sale.PaymentMethod)).
				Int("lines", len(result.Sale.Lines)).
				Int("attempt", attempt).
				Msg("sale committed")
			for _, level := range result.Stock {
				if level.LowStock {
					s.log.Warn().
						Str("company_id", req.CompanyID).
						Str("product_id", level.ProductID).
						Int("quantity", level.Quantity).
						Msg("stock at or below threshold")
				}
			}
			return result, nil
		}

		if !store.IsRetryable(err) || attempt >= s.maxAttempts || ctx.Err() != nil {
			return nil, err
		}
		s.log.Warn().
			Err(err).
			Str("company_id", req.CompanyID).
			Int("attempt", attempt).
			Msg("commit failed, rebuilding")
	}
}

func (s *Service) Refund(ctx context.Context, req domain.RefundRequest) (*domain.RefundResult, error) {
	result, err := s.refunds.Apply(ctx, req)
	if err != nil {
		return nil, err
	}
	if result.Refund == nil {
		return result, nil
	}

	amount, _ := result.Amount.Float64()
	s.metrics.RefundApplied(amount)
	s.audit(ctx, "refund", result.Sale).
		Str("refund_id", result.Refund.ID).
		Str("amount", result.Amount.StringFixed(domain.MoneyPlaces)).
		Str("status", string(result.Sale.Status)).
		Str("reason", result.Refund.Reason).
		Msg("refund applied")
	return result, nil
}

func (s *Service) Void(ctx context.Context, req domain.VoidRequest) (*domain.Sale, error) {
	sale, err := s.coordinator.Void(ctx, req)
	if err != nil {
		return nil, err
	}
	s.metrics.SaleVoided()
	s.audit(ctx, "void", sale).
		Str("reason", sale.VoidReason).
		Msg("sale voided")
	return sale, nil
}

func (s *Service) GetSale(ctx context.Context, companyID string, saleID string) (*domain.Sale, error) {
	if strings.TrimSpace(saleID) == "" {
		return nil, store.Invalid("sale_id", "is required")
	}
	return s.repo.FindSale(ctx, companyID, saleID)
}

// ListSales returns a company's sales created in [From, To). A missing
// bound defaults to the last DefaultListWindow.
func (s *Service) ListSales(ctx context.Context, query domain.SaleListQuery) ([]domain.Sale, error) {
	if strings.TrimSpace(query.CompanyID) == "" {
		return nil, store.Invalid("company_id", "is required")
	}
	if query.To.IsZero() {
		query.To = s.now()
	}
	if query.From.IsZero() {
		query.From = query.To.Add(-store.DefaultListWindow)
	}
	if !query.From.Before(query.To) {
		return nil, store.Invalid("from", "must be before to")
	}
	switch {
	case query.Limit <= 0:
		query.Limit = defaultListLimit
	case query.Limit > maxListLimit:
		query.Limit = maxListLimit
	}
	return s.repo.ListSales(ctx, query)
}

func (s *Service) ListRefunds(ctx context.Context, companyID string, saleID string) ([]domain.Refund, error) {
	if strings.TrimSpace(saleID) == "" {
		return nil, store.Invalid("sale_id", "is required")
	}
	return s.repo.ListRefunds(ctx, companyID, saleID)
}

// Receipt returns the receipt projection of a sale. Cache faults are
// logged and fall through to the store.
func (s *Service) Receipt(ctx context.Context, companyID string, saleID string) (*domain.ReceiptView, error) {
	if strings.TrimSpace(saleID) == "" {
		return nil, store.Invalid("sale_id", "is required")
	}

	view, ok, err := s.receipts.Get(ctx, companyID, saleID)
	if err != nil {
		s.log.Warn().Err(err).Str("sale_id", saleID).Msg("receipt cache read failed")
	} else if ok {
		return view, nil
	}

	sale, err := s.repo.FindSale(ctx, companyID, saleID)
	if err != nil {
		return nil, err
	}
	view = ReceiptFor(sale)
	if err := s.receipts.Set(ctx, companyID, saleID, view, s.receiptTTL); err != nil {
		s.log.Warn().Err(err).Str("sale_id", saleID).Msg("receipt cache write failed")
	}
	return view, nil
}

func (s *Service) audit(ctx context.Context, action string, sale *domain.Sale) *zerolog.Event {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{UserID: "system", Role: "system"}
	}
	return s.log.Info().
		Str("audit", action).
		Str("actor", actor.UserID).
		Str("role", actor.Role).
		Str("company_id", sale.CompanyID).
		Str("sale_id", sale.ID)
}

func commitOutcome(result *domain.CommitResult, err error) string {
	switch {
	case err == nil && result.Duplicate:
		return "duplicate"
	case err == nil:
		return "committed"
	case errors.Is(err, store.ErrCommitTimeout):
		return "timeout"
	case errors.Is(err, store.ErrStockConflict):
		return "conflict"
	case errors.Is(err, store.ErrPersistence):
		return "failed"
	default:
		return "rejected"
	}
}
