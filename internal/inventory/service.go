package inventory

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sitepro/sitepro-erp/internal/catalog"
	"github.com/sitepro/sitepro-erp/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetMaterial(ctx context.Context, id int64) (Material, error)
	ListMaterials(ctx context.Context, filter MaterialFilter) ([]Material, int, error)
	ListMovements(ctx context.Context, materialID int64, limit int) ([]Movement, error)
	GetIssue(ctx context.Context, id int64) (Issue, error)
	ListIssues(ctx context.Context, filter IssueFilter) ([]Issue, int, error)
	ListReturns(ctx context.Context, filter LedgerFilter) ([]Return, error)
	ListConsumptions(ctx context.Context, filter LedgerFilter) ([]Consumption, error)
}

// TxRepository exposes transactional operations used by service.
type TxRepository interface {
	StockTx
	InsertIssue(ctx context.Context, issue Issue) (int64, error)
	// LockIssue loads and locks an issue header. Returned and Consumed are
	// not reliable on the result; read them with SettledTotals after the lock.
	LockIssue(ctx context.Context, id int64) (Issue, error)
	SettledTotals(ctx context.Context, issueID int64) (returned, consumed decimal.Decimal, err error)
	UpdateIssueStatus(ctx context.Context, issue Issue) error
	InsertReturn(ctx context.Context, ret Return) (int64, error)
	InsertConsumption(ctx context.Context, c Consumption) (int64, error)
	InsertTransfer(ctx context.Context, t Transfer) (int64, error)
}

// ReferenceChecker verifies catalog references.
type ReferenceChecker interface {
	Require(ctx context.Context, refs ...catalog.Ref) error
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service coordinates site stock, issues, returns and consumption.
type Service struct {
	repo        RepositoryPort
	refs        ReferenceChecker
	audit       AuditPort
	idempotency shared.IdempotencyChecker
	logger      *slog.Logger
	now         func() time.Time
}

// NewService builds Service. refs, audit and idem may be nil.
func NewService(repo RepositoryPort, refs ReferenceChecker, audit AuditPort, idem shared.IdempotencyChecker, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:        repo,
		refs:        refs,
		audit:       audit,
		idempotency: idem,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// RegisterMaterialInput describes a site stock row to open.
type RegisterMaterialInput struct {
	ProjectID   int64
	ItemID      int64
	WarehouseID int64
	ActorID     int64
}

// RegisterMaterial opens a zero-stock row. Registering an existing key
// returns the existing row.
func (s *Service) RegisterMaterial(ctx context.Context, input RegisterMaterialInput) (Material, error) {
	verr := &shared.ValidationError{}
	if input.ProjectID <= 0 {
		verr.Add("project_id", "is required")
	}
	if input.ItemID <= 0 {
		verr.Add("item_id", "is required")
	}
	if input.WarehouseID <= 0 {
		verr.Add("warehouse_id", "is required")
	}
	if err := verr.OrNil(); err != nil {
		return Material{}, err
	}
	if s.refs != nil {
		if err := s.refs.Require(ctx,
			catalog.Ref{Kind: catalog.KindProject, ID: input.ProjectID},
			catalog.Ref{Kind: catalog.KindItem, ID: input.ItemID},
			catalog.Ref{Kind: catalog.KindWarehouse, ID: input.WarehouseID},
		); err != nil {
			return Material{}, err
		}
	}
	var material Material
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		material, err = tx.EnsureMaterial(ctx, MaterialKey{ProjectID: input.ProjectID, ItemID: input.ItemID, WarehouseID: input.WarehouseID})
		return err
	})
	if err != nil {
		return Material{}, err
	}
	s.recordAudit(ctx, input.ActorID, "MATERIAL_REGISTER", "material", material.ID, nil)
	return material, nil
}

// GetMaterial returns a material row.
func (s *Service) GetMaterial(ctx context.Context, id int64) (Material, error) {
	return s.repo.GetMaterial(ctx, id)
}

// ListMaterials lists material rows.
func (s *Service) ListMaterials(ctx context.Context, filter MaterialFilter) ([]Material, int, error) {
	return s.repo.ListMaterials(ctx, filter)
}

// StockCard returns the movements of a material, oldest first.
func (s *Service) StockCard(ctx context.Context, materialID int64, limit int) ([]Movement, error) {
	if _, err := s.repo.GetMaterial(ctx, materialID); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 1000 {
		limit = 200
	}
	return s.repo.ListMovements(ctx, materialID, limit)
}

// TransferInput describes a site-to-site stock move.
type TransferInput struct {
	FromMaterialID int64
	ToProjectID    int64
	ToWarehouseID  int64
	Quantity       decimal.Decimal
	Note           string
	ActorID        int64
	IdempotencyKey string
}

// Transfer moves stock from one material row to the row for the same item at
// the destination project and warehouse.
func (s *Service) Transfer(ctx context.Context, input TransferInput) (Transfer, error) {
	verr := &shared.ValidationError{}
	if input.FromMaterialID <= 0 {
		verr.Add("from_material_id", "is required")
	}
	if input.ToProjectID <= 0 {
		verr.Add("to_project_id", "is required")
	}
	if input.ToWarehouseID <= 0 {
		verr.Add("to_warehouse_id", "is required")
	}
	if !input.Quantity.IsPositive() {
		verr.Add("quantity", "must be greater than 0")
	}
	if err := verr.OrNil(); err != nil {
		return Transfer{}, err
	}
	if s.refs != nil {
		if err := s.refs.Require(ctx,
			catalog.Ref{Kind: catalog.KindProject, ID: input.ToProjectID},
			catalog.Ref{Kind: catalog.KindWarehouse, ID: input.ToWarehouseID},
		); err != nil {
			return Transfer{}, err
		}
	}
	origin, err := s.repo.GetMaterial(ctx, input.FromMaterialID)
	if err != nil {
		return Transfer{}, err
	}
	destKey := MaterialKey{ProjectID: input.ToProjectID, ItemID: origin.ItemID, WarehouseID: input.ToWarehouseID}
	if destKey == origin.Key() {
		return Transfer{}, shared.NewValidationError("to_warehouse_id", "destination equals source")
	}
	now := s.now()
	transfer := Transfer{
		FromMaterialID: input.FromMaterialID,
		Quantity:       input.Quantity,
		TransferredBy:  input.ActorID,
		TransferredAt:  now,
		Note:           input.Note,
	}
	err = shared.Idempotent(ctx, s.idempotency, input.IdempotencyKey, "inventory.transfer", func() error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			source, dest, err := lockTransferPair(ctx, tx, origin, destKey)
			if err != nil {
				return err
			}
			transfer.ToMaterialID = dest.ID
			id, err := tx.InsertTransfer(ctx, transfer)
			if err != nil {
				return err
			}
			transfer.ID = id
			if _, err := ApplyStockChange(ctx, tx, StockChange{
				MaterialID: source.ID,
				Delta:      input.Quantity.Neg(),
				Kind:       MovementTransferOut,
				RefType:    "TRANSFER",
				RefID:      id,
				ActorID:    input.ActorID,
				At:         now,
			}); err != nil {
				return err
			}
			_, err = ApplyStockChange(ctx, tx, StockChange{
				MaterialID:  dest.ID,
				Delta:       input.Quantity,
				Kind:        MovementTransferIn,
				RefType:     "TRANSFER",
				RefID:       id,
				ActorID:     input.ActorID,
				CostPerUnit: source.CostPerUnit,
				At:          now,
			})
			return err
		})
	})
	if err != nil {
		return Transfer{}, err
	}
	s.recordAudit(ctx, input.ActorID, "MATERIAL_TRANSFER", "site_transfer", transfer.ID, map[string]any{
		"from":     transfer.FromMaterialID,
		"to":       transfer.ToMaterialID,
		"quantity": transfer.Quantity.String(),
	})
	return transfer, nil
}

// lockTransferPair locks the source and destination rows in MaterialKey
// order, creating the destination when missing.
func lockTransferPair(ctx context.Context, tx StockTx, origin Material, destKey MaterialKey) (Material, Material, error) {
	var source, dest Material
	lockSource := func() (err error) {
		source, err = tx.LockMaterial(ctx, origin.ID)
		return err
	}
	lockDest := func() (err error) {
		dest, err = tx.EnsureMaterial(ctx, destKey)
		return err
	}
	steps := []func() error{lockSource, lockDest}
	if destKey.Less(origin.Key()) {
		steps = []func() error{lockDest, lockSource}
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return Material{}, Material{}, err
		}
	}
	return source, dest, nil
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
		s.logger.Warn("inventory audit", slog.String("action", action), slog.Any("error", err))
	}
}

func positive(verr *shared.ValidationError, field string, q decimal.Decimal) {
	if !q.IsPositive() {
		verr.Add(field, fmt.Sprintf("must be greater than 0, got %s", q.String()))
	}
}
