package cashbox

import (
	"context"

	"github.com/delivery/backend/internal/domain/cashbox"
	"github.com/delivery/backend/internal/domain/shared"
	"github.com/delivery/backend/internal/infrastructure/telemetry"
	"github.com/google/uuid"
)

// LedgerPage is one page of ledger entries grouped for display
type LedgerPage struct {
	Page   shared.Paginated[cashbox.LedgerEntry] `json:"page"`
	Mode   cashbox.GroupMode                     `json:"mode"`
	Groups []cashbox.EntryGroup                  `json:"groups"`
}

// LedgerQueryService reads the ledger
type LedgerQueryService struct {
	*core
}

// NewLedgerQueryService creates the service
func NewLedgerQueryService(uow cashbox.UnitOfWork, opts ...Option) *LedgerQueryService {
	return &LedgerQueryService{core: newCore(uow, opts...)}
}

// List returns a page of entries matching the filter, grouped by mode.
// Running sums restart at the top of the page.
func (s *LedgerQueryService) List(ctx context.Context, filter cashbox.LedgerFilter, mode cashbox.GroupMode) (*LedgerPage, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "ledger", "list")
	defer span.End()

	if mode == "" {
		mode = cashbox.GroupFlat
	}
	if filter.From != nil && filter.To != nil && filter.From.After(*filter.To) {
		err := shared.NewDomainError(shared.CodeValidation, "range start must not be after its end")
		telemetry.RecordError(span, err)
		return nil, err
	}
	filter.Page = filter.Page.Normalize()

	entries, total, err := s.uow.Repositories().Ledger.List(ctx, filter)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	groups, err := cashbox.GroupEntries(entries, mode)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	telemetry.SetAttributes(span, "ledger.entries", len(entries), "ledger.total", total)
	telemetry.SetOK(span)
	return &LedgerPage{
		Page:   shared.NewPaginated(entries, total, filter.Page.Number, filter.Page.Size),
		Mode:   mode,
		Groups: groups,
	}, nil
}

// Get returns a single entry
func (s *LedgerQueryService) Get(ctx context.Context, id uuid.UUID) (*cashbox.LedgerEntry, error) {
	return s.uow.Repositories().Ledger.FindByID(ctx, id)
}

// Totals returns the credit and debit sums of cash-affecting entries matching the filter
func (s *LedgerQueryService) Totals(ctx context.Context, filter cashbox.LedgerFilter) (cashbox.LedgerTotals, error) {
	return s.uow.Repositories().Ledger.Totals(ctx, filter)
}
