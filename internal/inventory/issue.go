package inventory

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sitepro/sitepro-erp/internal/shared"
)

// IssueInput describes material handed out to a project.
type IssueInput struct {
	ProjectID      int64
	MaterialID     int64
	Quantity       decimal.Decimal
	IssuedBy       int64
	ReceivedBy     int64
	MRRID          int64
	POID           int64
	ReceiptID      int64
	IssueDate      time.Time
	Note           string
	Pending        bool
	IdempotencyKey string
}

// Issue creates a material issue and decrements stock in the same
// transaction. The issue starts ISSUED unless Pending is set.
func (s *Service) Issue(ctx context.Context, input IssueInput) (Issue, error) {
	verr := &shared.ValidationError{}
	if input.ProjectID <= 0 {
		verr.Add("project_id", "is required")
	}
	if input.MaterialID <= 0 {
		verr.Add("material_id", "is required")
	}
	positive(verr, "quantity", input.Quantity)
	if err := verr.OrNil(); err != nil {
		return Issue{}, err
	}
	now := s.now()
	issue := Issue{
		Number:     shared.DocumentNumber("ISS", now),
		ProjectID:  input.ProjectID,
		MaterialID: input.MaterialID,
		Quantity:   input.Quantity,
		Status:     IssueStatusIssued,
		IssuedBy:   input.IssuedBy,
		ReceivedBy: input.ReceivedBy,
		MRRID:      input.MRRID,
		POID:       input.POID,
		ReceiptID:  input.ReceiptID,
		IssueDate:  dateOr(input.IssueDate, now),
		Note:       input.Note,
		CreatedAt:  now,
	}
	if input.Pending {
		issue.Status = IssueStatusPending
	}
	err := shared.Idempotent(ctx, s.idempotency, input.IdempotencyKey, "inventory.issue", func() error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			material, err := tx.LockMaterial(ctx, input.MaterialID)
			if err != nil {
				return err
			}
			if material.ProjectID != input.ProjectID {
				return shared.NewValidationError("material_id", "material belongs to a different project")
			}
			id, err := tx.InsertIssue(ctx, issue)
			if err != nil {
				return err
			}
			issue.ID = id
			_, err = ApplyStockChange(ctx, tx, StockChange{
				MaterialID: material.ID,
				Delta:      input.Quantity.Neg(),
				Kind:       MovementIssue,
				RefType:    "ISSUE",
				RefID:      id,
				ActorID:    input.IssuedBy,
				At:         now,
			})
			return err
		})
	})
	if err != nil {
		return Issue{}, err
	}
	s.recordAudit(ctx, input.IssuedBy, "ISSUE_CREATE", "material_issue", issue.ID, map[string]any{
		"number":   issue.Number,
		"quantity": issue.Quantity.String(),
		"status":   string(issue.Status),
	})
	return issue, nil
}

// ConfirmIssue moves a PENDING issue to ISSUED.
func (s *Service) ConfirmIssue(ctx context.Context, id, actorID int64) (Issue, error) {
	return s.transitionIssue(ctx, id, actorID, IssueStatusIssued, "ISSUE_CONFIRM", nil)
}

// MarkReceived records site handover of an ISSUED issue.
func (s *Service) MarkReceived(ctx context.Context, id, receivedBy int64) (Issue, error) {
	return s.transitionIssue(ctx, id, receivedBy, IssueStatusReceived, "ISSUE_RECEIVE", func(issue *Issue, now time.Time) {
		issue.ReceivedBy = receivedBy
		issue.ReceivedAt = &now
	})
}

// CancelIssue cancels a PENDING or ISSUED issue and puts its quantity back on
// hand. Issues that already carry returns or consumptions cannot be cancelled.
func (s *Service) CancelIssue(ctx context.Context, id, actorID int64) (Issue, error) {
	var issue Issue
	now := s.now()
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		issue, err = lockIssue(ctx, tx, id)
		if err != nil {
			return err
		}
		if !issue.Status.CanTransitionTo(IssueStatusCancelled) {
			return shared.Conflictf("issue %s is %s and cannot be cancelled", issue.Number, issue.Status)
		}
		if !issue.Returned.IsZero() || !issue.Consumed.IsZero() {
			return shared.Conflictf("issue %s already has returns or consumptions", issue.Number)
		}
		issue.Status = IssueStatusCancelled
		if err := tx.UpdateIssueStatus(ctx, issue); err != nil {
			return err
		}
		_, err = ApplyStockChange(ctx, tx, StockChange{
			MaterialID: issue.MaterialID,
			Delta:      issue.Quantity,
			Kind:       MovementIssueCancel,
			RefType:    "ISSUE",
			RefID:      issue.ID,
			ActorID:    actorID,
			At:         now,
		})
		return err
	})
	if err != nil {
		return Issue{}, err
	}
	s.recordAudit(ctx, actorID, "ISSUE_CANCEL", "material_issue", issue.ID, map[string]any{"number": issue.Number})
	return issue, nil
}

func (s *Service) transitionIssue(ctx context.Context, id, actorID int64, next IssueStatus, action string, mutate func(*Issue, time.Time)) (Issue, error) {
	var issue Issue
	now := s.now()
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		issue, err = lockIssue(ctx, tx, id)
		if err != nil {
			return err
		}
		if !issue.Status.CanTransitionTo(next) {
			return shared.Conflictf("issue %s is %s, cannot move to %s", issue.Number, issue.Status, next)
		}
		issue.Status = next
		if mutate != nil {
			mutate(&issue, now)
		}
		return tx.UpdateIssueStatus(ctx, issue)
	})
	if err != nil {
		return Issue{}, err
	}
	s.recordAudit(ctx, actorID, action, "material_issue", issue.ID, map[string]any{"number": issue.Number})
	return issue, nil
}

// GetIssue returns an issue with its settlement totals.
func (s *Service) GetIssue(ctx context.Context, id int64) (Issue, error) {
	return s.repo.GetIssue(ctx, id)
}

// ListIssues lists issues.
func (s *Service) ListIssues(ctx context.Context, filter IssueFilter) ([]Issue, int, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, 0, shared.NewValidationError("status", "unknown issue status")
	}
	return s.repo.ListIssues(ctx, filter)
}

func dateOr(t, fallback time.Time) time.Time {
	if t.IsZero() {
		t = fallback
	}
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
