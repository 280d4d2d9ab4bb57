package procurement

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/sitepro/sitepro-erp/internal/catalog"
	"github.com/sitepro/sitepro-erp/internal/shared"
)

// CreateMRRInput describes a new requirement request.
type CreateMRRInput struct {
	ProjectID   int64
	RequestedBy int64
	Note        string
	Items       []MRRItemInput
}

// MRRItemInput describes one requested line.
type MRRItemInput struct {
	ItemID   int64
	UnitID   int64
	Quantity decimal.Decimal
	Note     string
}

// CreateMRR persists a PENDING MRR with its lines.
func (s *Service) CreateMRR(ctx context.Context, input CreateMRRInput) (MRR, error) {
	verr := &shared.ValidationError{}
	if input.ProjectID <= 0 {
		verr.Add("project_id", "is required")
	}
	if len(input.Items) == 0 {
		verr.Add("items", "at least one line is required")
	}
	refs := []catalog.Ref{{Kind: catalog.KindProject, ID: input.ProjectID}}
	for i, line := range input.Items {
		if line.ItemID <= 0 {
			verr.Add(fmt.Sprintf("items[%d].item_id", i), "is required")
		}
		if line.UnitID <= 0 {
			verr.Add(fmt.Sprintf("items[%d].unit_id", i), "is required")
		}
		if !line.Quantity.IsPositive() {
			verr.Add(fmt.Sprintf("items[%d].quantity", i), "must be greater than 0")
		}
		refs = append(refs, catalog.Ref{Kind: catalog.KindItem, ID: line.ItemID}, catalog.Ref{Kind: catalog.KindUnit, ID: line.UnitID})
	}
	if err := verr.OrNil(); err != nil {
		return MRR{}, err
	}
	if err := s.require(ctx, refs...); err != nil {
		return MRR{}, err
	}

	now := s.now()
	mrr := MRR{
		Number:      shared.DocumentNumber("MRR", now),
		ProjectID:   input.ProjectID,
		RequestedBy: input.RequestedBy,
		Status:      MRRStatusPending,
		Note:        input.Note,
		CreatedAt:   now,
	}
	for i, line := range input.Items {
		mrr.Items = append(mrr.Items, MRRItem{
			LineNo:   i + 1,
			ItemID:   line.ItemID,
			UnitID:   line.UnitID,
			Quantity: line.Quantity,
			Note:     line.Note,
		})
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		id, err := tx.InsertMRR(ctx, mrr)
		if err != nil {
			return err
		}
		mrr.ID = id
		return nil
	})
	if err != nil {
		return MRR{}, err
	}
	for i := range mrr.Items {
		mrr.Items[i].MRRID = mrr.ID
	}
	s.ensureSubmit(ctx, "MRR", mrr.ID, input.RequestedBy, fmt.Sprintf("MRR %s submitted", mrr.Number))
	s.recordAudit(ctx, input.RequestedBy, "MRR_CREATE", "mrr", mrr.ID, map[string]any{"number": mrr.Number, "lines": len(mrr.Items)})
	return mrr, nil
}

// DecideMRRInput carries an approval decision.
type DecideMRRInput struct {
	MRRID      int64
	ApproverID int64
	Decision   MRRStatus
	Note       string
}

// DecideMRR approves or rejects a PENDING MRR. A second decision fails with a
// conflict and leaves the MRR untouched.
func (s *Service) DecideMRR(ctx context.Context, input DecideMRRInput) (MRR, error) {
	if input.Decision != MRRStatusApproved && input.Decision != MRRStatusRejected {
		return MRR{}, shared.NewValidationError("decision", "must be APPROVED or REJECTED")
	}
	var mrr MRR
	now := s.now()
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		mrr, err = tx.LockMRR(ctx, input.MRRID)
		if err != nil {
			return err
		}
		if !mrr.Status.CanTransitionTo(input.Decision) {
			return shared.Conflictf("mrr %s already %s", mrr.Number, mrr.Status)
		}
		mrr.Status = input.Decision
		mrr.DecidedBy = input.ApproverID
		mrr.DecidedAt = &now
		return tx.UpdateMRRDecision(ctx, mrr)
	})
	if err != nil {
		return MRR{}, err
	}
	action := shared.ApprovalApprove
	if input.Decision == MRRStatusRejected {
		action = shared.ApprovalReject
	}
	s.recordApproval(ctx, "MRR", mrr.ID, input.ApproverID, action, input.Note)
	s.recordAudit(ctx, input.ApproverID, "MRR_DECIDE", "mrr", mrr.ID, map[string]any{"decision": string(input.Decision)})
	return mrr, nil
}

// GetMRR returns an MRR with its lines.
func (s *Service) GetMRR(ctx context.Context, id int64) (MRR, error) {
	return s.repo.GetMRR(ctx, id)
}

// ListMRRs lists MRR headers.
func (s *Service) ListMRRs(ctx context.Context, filter MRRFilter) ([]MRR, int, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, 0, shared.NewValidationError("status", "unknown mrr status")
	}
	return s.repo.ListMRRs(ctx, filter)
}
