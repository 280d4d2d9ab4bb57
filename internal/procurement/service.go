package procurement

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/sitepro/sitepro-erp/internal/catalog"
	"github.com/sitepro/sitepro-erp/internal/inventory"
	"github.com/sitepro/sitepro-erp/internal/shared"
)

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetMRR(ctx context.Context, id int64) (MRR, error)
	ListMRRs(ctx context.Context, filter MRRFilter) ([]MRR, int, error)
	GetPO(ctx context.Context, id int64) (PurchaseOrder, error)
	ListPOs(ctx context.Context, filter POFilter) ([]PurchaseOrder, int, error)
	GetReceipt(ctx context.Context, id int64) (Receipt, error)
	ListReceipts(ctx context.Context, filter ReceiptFilter) ([]Receipt, int, error)
}

// TxRepository exposes transactional operations. It embeds the inventory
// stock surface so receipts post stock in the same transaction.
type TxRepository interface {
	inventory.StockTx
	InsertMRR(ctx context.Context, mrr MRR) (int64, error)
	LockMRR(ctx context.Context, id int64) (MRR, error)
	UpdateMRRDecision(ctx context.Context, mrr MRR) error
	InsertPO(ctx context.Context, po PurchaseOrder) (int64, error)
	// LockPO loads and locks a purchase order with its items.
	LockPO(ctx context.Context, id int64) (PurchaseOrder, error)
	UpdatePOStatus(ctx context.Context, id int64, status POStatus) error
	SetPOApproval(ctx context.Context, id, approvedBy int64, approvedAt time.Time) error
	AddPOItemReceived(ctx context.Context, poItemID int64, qty decimal.Decimal) error
	InsertReceipt(ctx context.Context, receipt Receipt) (int64, error)
	InsertReceiptItem(ctx context.Context, item ReceiptItem) (int64, error)
}

// ReferenceChecker verifies catalog references.
type ReferenceChecker interface {
	Require(ctx context.Context, refs ...catalog.Ref) error
}

// ApprovalPort records approval history.
type ApprovalPort interface {
	Record(ctx context.Context, log shared.ApprovalLog) error
	EnsureSubmit(ctx context.Context, module string, ref uuid.UUID, actorID int64, note string) error
}

// AuditPort reused from shared.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// ServiceConfig groups optional settings.
type ServiceConfig struct {
	// DefaultTaxRate is a percentage applied when an order omits tax.
	DefaultTaxRate decimal.Decimal
	// NotifyTimeout bounds the best-effort notification after placing.
	NotifyTimeout time.Duration
}

// Dependencies wires Service collaborators. Only Repo is mandatory.
type Dependencies struct {
	Repo        RepositoryPort
	Refs        ReferenceChecker
	Approvals   ApprovalPort
	Audit       AuditPort
	Idempotency shared.IdempotencyChecker
	Notifier    Notifier
	Logger      *slog.Logger
	Config      ServiceConfig
}

// Service orchestrates procurement flows.
type Service struct {
	repo        RepositoryPort
	refs        ReferenceChecker
	approvals   ApprovalPort
	audit       AuditPort
	idempotency shared.IdempotencyChecker
	notifier    Notifier
	logger      *slog.Logger
	cfg         ServiceConfig
	now         func() time.Time
}

// NewService constructs procurement service.
func NewService(deps Dependencies) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cfg := deps.Config
	if cfg.NotifyTimeout <= 0 {
		cfg.NotifyTimeout = 5 * time.Second
	}
	return &Service{
		repo:        deps.Repo,
		refs:        deps.Refs,
		approvals:   deps.Approvals,
		audit:       deps.Audit,
		idempotency: deps.Idempotency,
		notifier:    deps.Notifier,
		logger:      logger,
		cfg:         cfg,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) require(ctx context.Context, refs ...catalog.Ref) error {
	if s.refs == nil || len(refs) == 0 {
		return nil
	}
	return s.refs.Require(ctx, refs...)
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action, entity string, id int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   entity,
		EntityID: strconv.FormatInt(id, 10),
		Meta:     meta,
		At:       s.now(),
	}); err != nil {
		s.logger.Warn("procurement audit", slog.String("action", action), slog.Any("error", err))
	}
}

func (s *Service) recordApproval(ctx context.Context, module string, id, actorID int64, action shared.ApprovalAction, note string) {
	if s.approvals == nil {
		return
	}
	if err := s.approvals.Record(ctx, shared.ApprovalLog{
		Module:  module,
		RefID:   shared.ApprovalRef(module, id),
		ActorID: actorID,
		Action:  action,
		Note:    note,
		At:      s.now(),
	}); err != nil {
		s.logger.Warn("procurement approval history", slog.String("module", module), slog.Int64("id", id), slog.Any("error", err))
	}
}

func (s *Service) ensureSubmit(ctx context.Context, module string, id, actorID int64, note string) {
	if s.approvals == nil {
		return
	}
	if err := s.approvals.EnsureSubmit(ctx, module, shared.ApprovalRef(module, id), actorID, note); err != nil {
		s.logger.Warn("procurement approval submit", slog.String("module", module), slog.Int64("id", id), slog.Any("error", err))
	}
}

func dateOr(t, fallback time.Time) time.Time {
	if t.IsZero() {
		t = fallback
	}
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
