package consumption

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// Repository loads the per-material ledger aggregates.
type Repository interface {
	// IssuedTotals sums issue quantities per material, ignoring cancelled issues.
	IssuedTotals(ctx context.Context, f Filter) (map[int64]decimal.Decimal, error)
	ReturnedTotals(ctx context.Context, f Filter) (map[int64]decimal.Decimal, error)
	// TransferredTotals sums quantities transferred out of each material.
	TransferredTotals(ctx context.Context, f Filter) (map[int64]decimal.Decimal, error)
	Materials(ctx context.Context, f Filter) (map[int64]MaterialInfo, error)
	SaveSnapshots(ctx context.Context, rows []Row, takenAt time.Time) error
}

// Service derives material consumption from the issue, return and transfer
// ledgers.
type Service struct {
	repo   Repository
	logger *slog.Logger
	group  singleflight.Group
	now    func() time.Time
}

// NewService constructs Service.
func NewService(repo Repository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

// Calculate returns one row per material with activity:
// consumed = issued - returned - transferred out, priced at the material cost.
// Identical concurrent calls share one computation; it is detached from the
// first caller's cancellation and each caller stops waiting on its own ctx.
func (s *Service) Calculate(ctx context.Context, f Filter) (Report, error) {
	key := fmt.Sprintf("%d:%d", f.ProjectID, f.MaterialID)
	detached := context.WithoutCancel(ctx)
	ch := s.group.DoChan(key, func() (any, error) {
		return s.calculate(detached, f)
	})
	var res singleflight.Result
	select {
	case <-ctx.Done():
		return Report{}, ctx.Err()
	case res = <-ch:
	}
	if res.Err != nil {
		return Report{}, res.Err
	}
	report := res.Val.(Report)
	rows := make([]Row, len(report.Rows))
	copy(rows, report.Rows)
	report.Rows = rows
	return report, nil
}

func (s *Service) calculate(ctx context.Context, f Filter) (Report, error) {
	var (
		issued, returned, transferred map[int64]decimal.Decimal
		materials                     map[int64]MaterialInfo
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		issued, err = s.repo.IssuedTotals(gctx, f)
		return err
	})
	g.Go(func() (err error) {
		returned, err = s.repo.ReturnedTotals(gctx, f)
		return err
	})
	g.Go(func() (err error) {
		transferred, err = s.repo.TransferredTotals(gctx, f)
		return err
	})
	g.Go(func() (err error) {
		materials, err = s.repo.Materials(gctx, f)
		return err
	})
	if err := g.Wait(); err != nil {
		return Report{}, fmt.Errorf("consumption: load ledgers: %w", err)
	}

	active := make(map[int64]struct{}, len(issued))
	for _, totals := range []map[int64]decimal.Decimal{issued, returned, transferred} {
		for id := range totals {
			active[id] = struct{}{}
		}
	}

	report := Report{Rows: make([]Row, 0, len(active)), TotalCost: decimal.Zero, GeneratedAt: s.now()}
	var missing []int64
	for id := range active {
		info, ok := materials[id]
		if !ok {
			continue
		}
		row := Row{
			ProjectID:        info.ProjectID,
			MaterialID:       id,
			ItemID:           info.ItemID,
			WarehouseID:      info.WarehouseID,
			TotalIssued:      issued[id],
			TotalReturned:    returned[id],
			TotalTransferred: transferred[id],
		}
		row.Consumed = row.TotalIssued.Sub(row.TotalReturned).Sub(row.TotalTransferred)
		if info.CostPerUnit != nil {
			cost := *info.CostPerUnit
			row.CostPerUnit = &cost
			row.TotalCost = row.Consumed.Mul(cost)
		} else {
			row.TotalCost = decimal.Zero
			row.CostMissing = true
			missing = append(missing, id)
		}
		report.TotalCost = report.TotalCost.Add(row.TotalCost)
		report.Rows = append(report.Rows, row)
	}
	sort.Slice(report.Rows, func(i, j int) bool {
		if report.Rows[i].ProjectID != report.Rows[j].ProjectID {
			return report.Rows[i].ProjectID < report.Rows[j].ProjectID
		}
		return report.Rows[i].MaterialID < report.Rows[j].MaterialID
	})
	if len(missing) > 0 {
		sort.Slice(missing, func(i, j int) bool { return missing[i] < missing[j] })
		s.logger.Warn("consumption cost missing, valued at zero", slog.Any("material_ids", missing))
	}
	return report, nil
}

// Snapshot recomputes every material and upserts the snapshot table. It
// returns the number of rows written.
func (s *Service) Snapshot(ctx context.Context) (int, error) {
	report, err := s.Calculate(ctx, Filter{})
	if err != nil {
		return 0, err
	}
	if err := s.repo.SaveSnapshots(ctx, report.Rows, report.GeneratedAt); err != nil {
		return 0, fmt.Errorf("consumption: save snapshots: %w", err)
	}
	return len(report.Rows), nil
}
