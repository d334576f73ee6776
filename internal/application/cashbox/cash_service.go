package cashbox

import (
	"context"
	"errors"
	"time"

	"github.com/delivery/backend/internal/domain/cashbox"
	"github.com/delivery/backend/internal/domain/shared"
	"github.com/delivery/backend/internal/domain/shared/valueobject"
	"github.com/delivery/backend/internal/infrastructure/telemetry"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Operation names used for spans, profiling labels and metrics
const (
	OpIncome            = "income"
	OpExpense           = "expense"
	OpAllocate          = "allocate"
	OpReturn            = "return"
	OpDriverAdvance     = "driver_advance"
	OpDriverReturn      = "driver_return"
	OpDriverExpense     = "driver_expense"
	OpClientCashout     = "client_cashout"
	OpThirdPartyCashout = "third_party_cashout"
	OpReverseEntry      = "reverse_entry"
	OpAdminDeleteEntry  = "admin_delete_entry"
	OpSetInitialBalance = "set_initial_balance"
)

// CashService is the façade for manual cash operations. Every call is one atomic unit.
type CashService struct {
	*core
}

// NewCashService creates the service
func NewCashService(uow cashbox.UnitOfWork, opts ...Option) *CashService {
	return &CashService{core: newCore(uow, opts...)}
}

// operation describes one simple cash movement
type operation struct {
	name      string
	kind      cashbox.EntryKind
	direction cashbox.Direction
	category  cashbox.Category
	actor     cashbox.ActorRef
	memo      bool
}

// Income records cash received by the business
func (s *CashService) Income(ctx context.Context, req CashRequest) (*OperationResult, error) {
	return s.run(ctx, operation{
		name: OpIncome, kind: cashbox.KindIncome, direction: cashbox.Credit, category: cashbox.CategoryIncome,
		actor: cashbox.NoActor,
	}, req)
}

// Expense records cash paid out by the business
func (s *CashService) Expense(ctx context.Context, req CashRequest) (*OperationResult, error) {
	return s.run(ctx, operation{
		name: OpExpense, kind: cashbox.KindExpense, direction: cashbox.Debit, category: cashbox.CategoryExpense,
		actor: cashbox.NoActor,
	}, req)
}

// Allocate hands cash to an actor
func (s *CashService) Allocate(ctx context.Context, actor cashbox.ActorRef, req CashRequest) (*OperationResult, error) {
	return s.run(ctx, operation{
		name: OpAllocate, kind: cashbox.KindCashAllocation, direction: cashbox.Debit,
		category: cashbox.CategoryCashManagement, actor: actor,
	}, req)
}

// Return takes cash back from an actor
func (s *CashService) Return(ctx context.Context, actor cashbox.ActorRef, req CashRequest) (*OperationResult, error) {
	return s.run(ctx, operation{
		name: OpReturn, kind: cashbox.KindCashReturn, direction: cashbox.Credit,
		category: cashbox.CategoryCashManagement, actor: actor,
	}, req)
}

// DriverAdvance hands cash to a driver and records the accounting memo
func (s *CashService) DriverAdvance(ctx context.Context, req ActorCashRequest) (*OperationResult, error) {
	return s.run(ctx, operation{
		name: OpDriverAdvance, kind: cashbox.KindDriverAdvance, direction: cashbox.Debit,
		category: cashbox.CategoryCashManagement, actor: cashbox.Driver{ID: req.ActorID}.Ref(), memo: true,
	}, req.CashRequest, req)
}

// DriverReturn takes cash back from a driver and records the accounting memo
func (s *CashService) DriverReturn(ctx context.Context, req ActorCashRequest) (*OperationResult, error) {
	return s.run(ctx, operation{
		name: OpDriverReturn, kind: cashbox.KindDriverReturn, direction: cashbox.Credit,
		category: cashbox.CategoryCashManagement, actor: cashbox.Driver{ID: req.ActorID}.Ref(), memo: true,
	}, req.CashRequest, req)
}

// DriverExpense pays an expense through a driver and records the accounting memo
func (s *CashService) DriverExpense(ctx context.Context, req ActorCashRequest) (*OperationResult, error) {
	return s.run(ctx, operation{
		name: OpDriverExpense, kind: cashbox.KindDriverExpense, direction: cashbox.Debit,
		category: cashbox.CategoryExpense, actor: cashbox.Driver{ID: req.ActorID}.Ref(), memo: true,
	}, req.CashRequest, req)
}

func (s *CashService) run(ctx context.Context, op operation, req CashRequest, validate ...any) (result *OperationResult, err error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "cashbox", op.name)
	defer span.End()
	telemetry.SetAttributes(span,
		telemetry.SpanAttrEntryKind, string(op.kind),
		telemetry.SpanAttrDirection, string(op.direction),
		telemetry.SpanAttrCategory, string(op.category),
		telemetry.SpanAttrActor, op.actor.String(),
	)
	started := time.Now()
	defer func() { s.finish(ctx, op.name, started, err) }()

	if len(validate) == 0 {
		validate = []any{req}
	}
	for _, r := range validate {
		if err = s.validate.Struct(r); err != nil {
			telemetry.RecordError(span, err)
			return nil, err
		}
	}
	if err = op.actor.Validate(); err == nil && op.kind.IsSettlement() && op.actor.IsNone() {
		err = shared.NewDomainError(shared.CodeValidation, string(op.kind)+" requires an actor")
	}
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	draft := cashbox.EntryDraft{
		Kind:        op.kind,
		Direction:   op.direction,
		USD:         req.USD,
		LBP:         req.LBP,
		Actor:       op.actor,
		Category:    op.category,
		Description: req.Description,
		CreatedBy:   s.author(req.CreatedBy),
		At:          req.At,
	}

	telemetry.WithProfilingLabels(ctx, telemetry.CashOperationLabels(op.name, string(op.kind)), func(ctx context.Context) {
		err = s.transact(ctx, op.name, func(ctx context.Context, repos cashbox.Repositories) error {
			entry, balance, err := s.post(ctx, repos, draft)
			if err != nil {
				return err
			}
			result = &OperationResult{Entry: entry, Balance: balance}
			if op.memo {
				memo, _, err := s.post(ctx, repos, memoDraft(entry))
				if err != nil {
					return err
				}
				result.Memo = memo
			}
			return nil
		})
	})
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	s.committed(ctx, span, result)
	return result, nil
}

// memoDraft mirrors a driver cash entry as an accounting memo linked to it
func memoDraft(entry *cashbox.LedgerEntry) cashbox.EntryDraft {
	usd := entry.Amounts.USD
	lbp := entry.Amounts.LBP
	id := entry.ID
	return cashbox.EntryDraft{
		Kind:          cashbox.KindAccountingMemo,
		Direction:     entry.Direction,
		USD:           &usd,
		LBP:           &lbp,
		Actor:         entry.Actor,
		Category:      cashbox.CategoryAccounting,
		OrderRef:      entry.OrderRef,
		Description:   "memo for " + string(entry.Kind) + " " + entry.ID.String(),
		CreatedBy:     entry.CreatedBy,
		At:            entry.CreatedAt,
		Memo:          true,
		LinkedEntryID: &id,
	}
}

// committed publishes, records metrics and annotates the span after a successful commit
func (s *CashService) committed(ctx context.Context, span trace.Span, result *OperationResult) {
	s.published(ctx, result.Entry, result.Memo)
	if result.Entry != nil {
		telemetry.SetAttributes(span, telemetry.SpanAttrEntryID, result.Entry.ID.String())
		telemetry.SetAmounts(span, result.Entry.Amounts.USD, result.Entry.Amounts.LBP)
	}
	if result.Balance != nil {
		s.metrics.RecordBalance(ctx, result.Balance.Balance.USD, result.Balance.Balance.LBP)
	}
	telemetry.SetOK(span)
}

// ClientCashout pays a client. With an order reference it instead recovers the outstanding
// go-to-market float of that order as a credit, at most once.
func (s *CashService) ClientCashout(ctx context.Context, req ClientCashoutRequest) (result *OperationResult, err error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "cashbox", OpClientCashout)
	defer span.End()
	client := cashbox.Client{ID: req.ClientID}.Ref()
	telemetry.SetAttributes(span, telemetry.SpanAttrActor, client.String(), telemetry.SpanAttrOrderID, req.OrderRef)
	started := time.Now()
	defer func() { s.finish(ctx, OpClientCashout, started, err) }()

	if err = s.validate.Struct(req); err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	kind := cashbox.KindClientCashout
	if req.OrderRef != "" {
		kind = cashbox.KindOrderGTMRecovery
	}
	telemetry.WithProfilingLabels(ctx, telemetry.CashOperationLabels(OpClientCashout, string(kind)), func(ctx context.Context) {
		err = s.transact(ctx, OpClientCashout, func(ctx context.Context, repos cashbox.Repositories) error {
			var txErr error
			if req.OrderRef != "" {
				result, txErr = s.recoverGTMFloat(ctx, repos, client, req)
			} else {
				result, txErr = s.payout(ctx, repos, client, cashbox.KindClientCashout, req.CashRequest)
			}
			return txErr
		})
	})
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	s.committed(ctx, span, result)
	return result, nil
}

// ThirdPartyCashout pays a third party, bounded by its computed balance
func (s *CashService) ThirdPartyCashout(ctx context.Context, req ActorCashRequest) (result *OperationResult, err error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "cashbox", OpThirdPartyCashout)
	defer span.End()
	actor := cashbox.ThirdParty{ID: req.ActorID}.Ref()
	telemetry.SetAttributes(span, telemetry.SpanAttrActor, actor.String())
	started := time.Now()
	defer func() { s.finish(ctx, OpThirdPartyCashout, started, err) }()

	if err = s.validate.Struct(req); err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	telemetry.WithProfilingLabels(ctx, telemetry.CashOperationLabels(OpThirdPartyCashout, string(cashbox.KindThirdPartyCashout)), func(ctx context.Context) {
		err = s.transact(ctx, OpThirdPartyCashout, func(ctx context.Context, repos cashbox.Repositories) error {
			var txErr error
			result, txErr = s.payout(ctx, repos, actor, cashbox.KindThirdPartyCashout, req.CashRequest)
			return txErr
		})
	})
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	s.committed(ctx, span, result)
	return result, nil
}

// payout debits the cashbox to pay an actor no more than its closing balance.
// The actor account row is locked so concurrent payouts are checked one at a time.
func (s *CashService) payout(ctx context.Context, repos cashbox.Repositories, actor cashbox.ActorRef, kind cashbox.EntryKind, req CashRequest) (*OperationResult, error) {
	draft := cashbox.EntryDraft{
		Kind:        kind,
		Direction:   cashbox.Debit,
		USD:         req.USD,
		LBP:         req.LBP,
		Actor:       actor,
		Category:    cashbox.CategoryCashout,
		Description: req.Description,
		CreatedBy:   s.author(req.CreatedBy),
		At:          req.At,
	}
	res, err := s.resolve(ctx, repos, draft)
	if err != nil {
		return nil, err
	}
	balance, _, err := computeActorBalance(ctx, repos, actor, s.now(), true)
	if err != nil {
		return nil, err
	}
	if err := balance.CheckPayout(res.Amounts, res.Source); err != nil {
		return nil, err
	}
	entry, cash, err := s.commit(ctx, repos, draft, res)
	if err != nil {
		return nil, err
	}
	return &OperationResult{Entry: entry, Balance: cash}, nil
}

// recoverGTMFloat credits the cashbox with the go-to-market float the client repays.
// Supplied amounts must match the outstanding float; omitted amounts default to it.
func (s *CashService) recoverGTMFloat(ctx context.Context, repos cashbox.Repositories, client cashbox.ActorRef, req ClientCashoutRequest) (*OperationResult, error) {
	state, err := repos.Orders.FindForUpdate(ctx, req.OrderRef)
	if err != nil {
		return nil, err
	}
	if !state.Client.IsNone() && state.Client != client {
		return nil, shared.NewDomainError(shared.CodeValidation,
			"order "+req.OrderRef+" belongs to "+state.Client.String())
	}
	outstanding, err := state.OutstandingGTMFloat()
	if err != nil {
		return nil, err
	}
	if req.USD != nil && !valueobject.Round(*req.USD, valueobject.USD).Equal(outstanding.USD) {
		return nil, shared.NewDomainError(shared.CodeValidation,
			"amount_usd must equal the outstanding float of "+outstanding.USD.StringFixed(2))
	}
	if req.LBP != nil && !valueobject.Round(*req.LBP, valueobject.LBP).Equal(outstanding.LBP) {
		return nil, shared.NewDomainError(shared.CodeValidation,
			"amount_lbp must equal the outstanding float of "+outstanding.LBP.StringFixed(0))
	}

	usd := outstanding.USD
	lbp := outstanding.LBP
	description := req.Description
	if description == "" {
		description = "go-to-market float recovery"
	}
	entry, balance, err := s.post(ctx, repos, cashbox.EntryDraft{
		Kind:        cashbox.KindOrderGTMRecovery,
		Direction:   cashbox.Credit,
		USD:         &usd,
		LBP:         &lbp,
		Actor:       client,
		Category:    cashbox.CategoryGTMFloat,
		OrderRef:    req.OrderRef,
		Description: description,
		CreatedBy:   s.author(req.CreatedBy),
		At:          req.At,
	})
	if err != nil {
		return nil, err
	}
	state.MarkGTMRecovered()
	if err := repos.Orders.SaveWithLock(ctx, state); err != nil {
		return nil, err
	}
	return &OperationResult{Entry: entry, Balance: balance}, nil
}

// ReverseEntry appends the offsetting entry of a committed entry. An entry is reversed at most once.
func (s *CashService) ReverseEntry(ctx context.Context, req ReverseEntryRequest) (result *OperationResult, err error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "cashbox", OpReverseEntry)
	defer span.End()
	telemetry.SetAttributes(span, telemetry.SpanAttrEntryID, req.EntryID.String())
	started := time.Now()
	defer func() { s.finish(ctx, OpReverseEntry, started, err) }()

	if err = s.validate.Struct(req); err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	telemetry.WithProfilingLabels(ctx, telemetry.CashOperationLabels(OpReverseEntry, string(cashbox.KindReversal)), func(ctx context.Context) {
		err = s.transact(ctx, OpReverseEntry, func(ctx context.Context, repos cashbox.Repositories) error {
			original, err := repos.Ledger.FindByID(ctx, req.EntryID)
			if err != nil {
				return err
			}
			if original.Kind == cashbox.KindReversal {
				return shared.NewDomainError(shared.CodeValidation, "a reversal cannot be reversed")
			}
			existing, err := repos.Ledger.FindReversalOf(ctx, original.ID)
			switch {
			case err == nil:
				return shared.NewDomainError(shared.CodeAlreadySettled,
					"entry "+original.ID.String()+" was already reversed by "+existing.ID.String())
			case !errors.Is(err, cashbox.ErrEntryNotFound):
				return err
			}
			entry, balance, err := s.post(ctx, repos, original.Reversal(req.Reason, s.author(req.CreatedBy)))
			if err != nil {
				return err
			}
			result = &OperationResult{Entry: entry, Balance: balance}
			return nil
		})
	})
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	s.committed(ctx, span, result)
	return result, nil
}

// AdminDeleteEntry removes an entry and applies the inverse cashbox delta in the same transaction.
// It is an administrative correction; ReverseEntry is the normal path.
func (s *CashService) AdminDeleteEntry(ctx context.Context, id uuid.UUID, deletedBy string) (balance *cashbox.CashboxBalance, err error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "cashbox", OpAdminDeleteEntry)
	defer span.End()
	telemetry.SetAttributes(span, telemetry.SpanAttrEntryID, id.String())
	started := time.Now()
	defer func() { s.finish(ctx, OpAdminDeleteEntry, started, err) }()

	if id == uuid.Nil {
		err = shared.NewDomainError(shared.CodeValidation, "entry id is required")
		telemetry.RecordError(span, err)
		return nil, err
	}

	var deleted *cashbox.LedgerEntry
	err = s.transact(ctx, OpAdminDeleteEntry, func(ctx context.Context, repos cashbox.Repositories) error {
		entry, err := repos.Ledger.FindByID(ctx, id)
		if err != nil {
			return err
		}
		current := (*cashbox.CashboxBalance)(nil)
		if entry.AffectsCashbox {
			current, err = repos.Balance.ApplyDelta(ctx, entry.Direction.Opposite(), entry.Amounts)
			if err != nil {
				return err
			}
		}
		if err := repos.Ledger.Delete(ctx, id); err != nil {
			return err
		}
		if current == nil {
			if current, err = repos.Balance.Get(ctx); err != nil {
				return err
			}
		}
		deleted = entry
		balance = current
		return nil
	})
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	s.log(ctx).Warn("Ledger entry deleted",
		zap.String("entry_id", id.String()),
		zap.String("kind", string(deleted.Kind)),
		zap.String("deleted_by", s.author(deletedBy)),
	)
	s.metrics.RecordBalance(ctx, balance.Balance.USD, balance.Balance.LBP)
	telemetry.SetOK(span)
	return balance, nil
}

// SetInitialBalance sets the opening cash. Only allowed while the ledger is empty.
func (s *CashService) SetInitialBalance(ctx context.Context, req InitialBalanceRequest) (balance *cashbox.CashboxBalance, err error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "cashbox", OpSetInitialBalance)
	defer span.End()
	started := time.Now()
	defer func() { s.finish(ctx, OpSetInitialBalance, started, err) }()

	if err = s.validate.Struct(req); err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	err = s.transact(ctx, OpSetInitialBalance, func(ctx context.Context, repos cashbox.Repositories) error {
		if _, err := repos.Balance.GetForUpdate(ctx); err != nil {
			return err
		}
		totals, err := repos.Ledger.Totals(ctx, cashbox.LedgerFilter{})
		if err != nil {
			return err
		}
		if totals.Count > 0 {
			return shared.NewDomainError(shared.CodeValidation,
				"initial balance can only be set while the ledger is empty")
		}
		balance, err = repos.Balance.SetInitial(ctx, valueobject.NewAmounts(req.USD, req.LBP))
		return err
	})
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	s.log(ctx).Info("Initial cashbox balance set",
		zap.String("usd", balance.Initial.USD.StringFixed(2)),
		zap.String("lbp", balance.Initial.LBP.StringFixed(0)),
		zap.String("created_by", s.author(req.CreatedBy)),
	)
	s.metrics.RecordBalance(ctx, balance.Balance.USD, balance.Balance.LBP)
	telemetry.SetOK(span)
	return balance, nil
}

// Balance returns the cached cashbox balance
func (s *CashService) Balance(ctx context.Context) (*cashbox.CashboxBalance, error) {
	return s.uow.Repositories().Balance.Get(ctx)
}
