package inventory

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sitepro/sitepro-erp/internal/shared"
)

// settle enforces returned + consumed <= issued for one issue. It is the only
// place the rule is checked.
func settle(issue Issue, quantity decimal.Decimal) error {
	if !issue.Status.AcceptsSettlement() {
		return shared.Conflictf("issue %s is %s; returns and consumptions need ISSUED or RECEIVED", issue.Number, issue.Status)
	}
	if outstanding := issue.Outstanding(); quantity.GreaterThan(outstanding) {
		return shared.NewValidationError("quantity", fmt.Sprintf("exceeds outstanding %s on issue %s", outstanding.String(), issue.Number))
	}
	return nil
}

// lockIssue locks the issue and then loads its settlement totals, so they
// include settlements committed before the lock was granted.
func lockIssue(ctx context.Context, tx TxRepository, id int64) (Issue, error) {
	issue, err := tx.LockIssue(ctx, id)
	if err != nil {
		return Issue{}, err
	}
	issue.Returned, issue.Consumed, err = tx.SettledTotals(ctx, id)
	if err != nil {
		return Issue{}, err
	}
	return issue, nil
}

// ReturnInput describes material sent back from site.
type ReturnInput struct {
	IssueID        int64
	ProjectID      int64
	MaterialID     int64
	Quantity       decimal.Decimal
	QualityStatus  QualityStatus
	ReturnedBy     int64
	ApprovedBy     int64
	Remarks        string
	IdempotencyKey string
}

// ReturnMaterial books a return against an issue. GOOD returns go back on
// hand; DAMAGED and DEFECTIVE returns only reduce the outstanding balance.
func (s *Service) ReturnMaterial(ctx context.Context, input ReturnInput) (Return, error) {
	if input.QualityStatus == "" {
		input.QualityStatus = QualityGood
	}
	verr := &shared.ValidationError{}
	if input.IssueID <= 0 {
		verr.Add("issue_id", "is required")
	}
	positive(verr, "quantity", input.Quantity)
	if !input.QualityStatus.Valid() {
		verr.Add("quality_status", "must be one of GOOD, DAMAGED, DEFECTIVE")
	}
	if err := verr.OrNil(); err != nil {
		return Return{}, err
	}
	now := s.now()
	ret := Return{
		IssueID:       input.IssueID,
		Quantity:      input.Quantity,
		QualityStatus: input.QualityStatus,
		ReturnedBy:    input.ReturnedBy,
		ApprovedBy:    input.ApprovedBy,
		ReturnedAt:    now,
		Remarks:       input.Remarks,
	}
	err := shared.Idempotent(ctx, s.idempotency, input.IdempotencyKey, "inventory.return", func() error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			issue, err := lockIssue(ctx, tx, input.IssueID)
			if err != nil {
				return err
			}
			if err := matchIssue(issue, input.ProjectID, input.MaterialID); err != nil {
				return err
			}
			if err := settle(issue, input.Quantity); err != nil {
				return err
			}
			ret.ProjectID = issue.ProjectID
			ret.MaterialID = issue.MaterialID
			id, err := tx.InsertReturn(ctx, ret)
			if err != nil {
				return err
			}
			ret.ID = id
			if !ret.QualityStatus.Restocks() {
				return nil
			}
			_, err = ApplyStockChange(ctx, tx, StockChange{
				MaterialID: issue.MaterialID,
				Delta:      input.Quantity,
				Kind:       MovementReturn,
				RefType:    "RETURN",
				RefID:      id,
				ActorID:    input.ReturnedBy,
				At:         now,
			})
			return err
		})
	})
	if err != nil {
		return Return{}, err
	}
	s.recordAudit(ctx, input.ReturnedBy, "MATERIAL_RETURN", "material_return", ret.ID, map[string]any{
		"issue_id": ret.IssueID,
		"quantity": ret.Quantity.String(),
		"quality":  string(ret.QualityStatus),
	})
	return ret, nil
}

// ConsumeInput describes material used up on site.
type ConsumeInput struct {
	IssueID         int64
	ProjectID       int64
	MaterialID      int64
	Quantity        decimal.Decimal
	Type            ConsumptionType
	RecordedBy      int64
	ConsumptionDate time.Time
	Remarks         string
	IdempotencyKey  string
}

// Consume books consumption. With an issue it is checked against the issue's
// outstanding balance; without one project and material are required. Stock
// is not touched since it already left inventory at issue time.
func (s *Service) Consume(ctx context.Context, input ConsumeInput) (Consumption, error) {
	if input.Type == "" {
		input.Type = ConsumptionActual
	}
	verr := &shared.ValidationError{}
	if input.IssueID <= 0 {
		if input.ProjectID <= 0 {
			verr.Add("project_id", "is required without issue_id")
		}
		if input.MaterialID <= 0 {
			verr.Add("material_id", "is required without issue_id")
		}
	}
	positive(verr, "quantity", input.Quantity)
	if !input.Type.Valid() {
		verr.Add("consumption_type", "must be one of ACTUAL, WASTAGE, THEFT, DAMAGE")
	}
	if err := verr.OrNil(); err != nil {
		return Consumption{}, err
	}
	now := s.now()
	c := Consumption{
		ProjectID:       input.ProjectID,
		MaterialID:      input.MaterialID,
		IssueID:         input.IssueID,
		Quantity:        input.Quantity,
		Type:            input.Type,
		RecordedBy:      input.RecordedBy,
		ConsumptionDate: dateOr(input.ConsumptionDate, now),
		Remarks:         input.Remarks,
	}
	err := shared.Idempotent(ctx, s.idempotency, input.IdempotencyKey, "inventory.consume", func() error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			if input.IssueID > 0 {
				issue, err := lockIssue(ctx, tx, input.IssueID)
				if err != nil {
					return err
				}
				if err := matchIssue(issue, input.ProjectID, input.MaterialID); err != nil {
					return err
				}
				if err := settle(issue, input.Quantity); err != nil {
					return err
				}
				c.ProjectID = issue.ProjectID
				c.MaterialID = issue.MaterialID
			} else {
				material, err := tx.LockMaterial(ctx, input.MaterialID)
				if err != nil {
					return err
				}
				if material.ProjectID != input.ProjectID {
					return shared.NewValidationError("material_id", "material belongs to a different project")
				}
			}
			id, err := tx.InsertConsumption(ctx, c)
			if err != nil {
				return err
			}
			c.ID = id
			return nil
		})
	})
	if err != nil {
		return Consumption{}, err
	}
	s.recordAudit(ctx, input.RecordedBy, "MATERIAL_CONSUME", "material_consumption", c.ID, map[string]any{
		"issue_id": c.IssueID,
		"quantity": c.Quantity.String(),
		"type":     string(c.Type),
	})
	return c, nil
}

// ListReturns lists returns.
func (s *Service) ListReturns(ctx context.Context, filter LedgerFilter) ([]Return, error) {
	return s.repo.ListReturns(ctx, filter)
}

// ListConsumptions lists consumptions.
func (s *Service) ListConsumptions(ctx context.Context, filter LedgerFilter) ([]Consumption, error) {
	return s.repo.ListConsumptions(ctx, filter)
}

func matchIssue(issue Issue, projectID, materialID int64) error {
	if projectID != 0 && projectID != issue.ProjectID {
		return shared.NewValidationError("project_id", "does not match the issue")
	}
	if materialID != 0 && materialID != issue.MaterialID {
		return shared.NewValidationError("material_id", "does not match the issue")
	}
	return nil
}
