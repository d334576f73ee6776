package cashbox

import (
	"context"
	"errors"
	"time"

	"github.com/delivery/backend/internal/domain/cashbox"
	"github.com/delivery/backend/internal/domain/shared"
	"github.com/delivery/backend/internal/domain/shared/valueobject"
	"github.com/delivery/backend/internal/infrastructure/telemetry"
	"go.uber.org/zap"
)

// ActorBalanceService derives what the company owes each driver, client and third party
type ActorBalanceService struct {
	*core
}

// NewActorBalanceService creates the service
func NewActorBalanceService(uow cashbox.UnitOfWork, opts ...Option) *ActorBalanceService {
	return &ActorBalanceService{core: newCore(uow, opts...)}
}

// BalanceFor computes the balance of an actor as of asOf. A zero asOf means now.
// An actor without an account has a zero opening balance.
func (s *ActorBalanceService) BalanceFor(ctx context.Context, ref cashbox.ActorRef, asOf time.Time) (*cashbox.ActorBalance, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "actor_balance", "balance_for")
	defer span.End()
	telemetry.SetAttributes(span, telemetry.SpanAttrActor, ref.String())

	if err := checkBalanceActor(ref); err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	if asOf.IsZero() {
		asOf = s.now()
	}
	balance, _, err := computeActorBalance(ctx, s.uow.Repositories(), ref, asOf, false)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	telemetry.SetOK(span)
	return &balance, nil
}

// Statement returns the running-balance history of an actor over [from, to].
// A zero to means now.
func (s *ActorBalanceService) Statement(ctx context.Context, ref cashbox.ActorRef, from, to time.Time) (*cashbox.Statement, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "actor_balance", "statement")
	defer span.End()
	telemetry.SetAttributes(span, telemetry.SpanAttrActor, ref.String())

	if err := checkBalanceActor(ref); err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	if to.IsZero() {
		to = s.now()
	}
	if from.After(to) {
		err := shared.NewDomainError(shared.CodeValidation, "statement start must not be after its end")
		telemetry.RecordError(span, err)
		return nil, err
	}

	repos := s.uow.Repositories()
	opening, err := openingOf(ctx, repos, ref)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	obligations, err := obligationsOf(ctx, repos, ref, to)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	entries, err := repos.Ledger.ListAll(ctx, cashbox.ForActor(ref, to))
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	statement := cashbox.BuildStatement(ref, opening, obligations, entries, from, to)
	telemetry.SetOK(span)
	return &statement, nil
}

// Recalculate recomputes the balance and stores it as the account snapshot
func (s *ActorBalanceService) Recalculate(ctx context.Context, ref cashbox.ActorRef) (result *cashbox.ActorBalance, err error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "actor_balance", "recalculate")
	defer span.End()
	telemetry.SetAttributes(span, telemetry.SpanAttrActor, ref.String())
	started := time.Now()
	defer func() { s.finish(ctx, "recalculate", started, err) }()

	if err = checkBalanceActor(ref); err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	err = s.transact(ctx, "recalculate", func(ctx context.Context, repos cashbox.Repositories) error {
		balance, account, err := computeActorBalance(ctx, repos, ref, s.now(), true)
		if err != nil {
			return err
		}
		account.RecordSnapshot(balance)
		if err := repos.Actors.SaveWithLock(ctx, account); err != nil {
			return err
		}
		result = &balance
		return nil
	})
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	s.log(ctx).Debug("Actor balance recalculated",
		zap.String("actor", ref.String()),
		zap.String("closing_usd", result.Closing.USD.StringFixed(2)),
		zap.String("closing_lbp", result.Closing.LBP.StringFixed(0)),
	)
	telemetry.SetOK(span)
	return result, nil
}

// RegisterActor creates or updates an account with its display name and opening balance
func (s *ActorBalanceService) RegisterActor(ctx context.Context, ref cashbox.ActorRef, displayName string, opening valueobject.Amounts) (*cashbox.ActorAccount, error) {
	return s.upsert(ctx, "register_actor", ref, func(a *cashbox.ActorAccount) {
		if displayName != "" {
			a.DisplayName = displayName
		}
		a.SetOpening(opening)
	})
}

// SetOpeningBalance replaces the opening balance, creating the account if needed
func (s *ActorBalanceService) SetOpeningBalance(ctx context.Context, ref cashbox.ActorRef, opening valueobject.Amounts) (*cashbox.ActorAccount, error) {
	return s.upsert(ctx, "set_opening_balance", ref, func(a *cashbox.ActorAccount) {
		a.SetOpening(opening)
	})
}

func (s *ActorBalanceService) upsert(ctx context.Context, op string, ref cashbox.ActorRef, mutate func(*cashbox.ActorAccount)) (account *cashbox.ActorAccount, err error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "actor_balance", op)
	defer span.End()
	telemetry.SetAttributes(span, telemetry.SpanAttrActor, ref.String())
	started := time.Now()
	defer func() { s.finish(ctx, op, started, err) }()

	if err = checkBalanceActor(ref); err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	err = s.transact(ctx, op, func(ctx context.Context, repos cashbox.Repositories) error {
		a, err := repos.Actors.LockOrCreate(ctx, ref)
		if err != nil {
			return err
		}
		mutate(a)
		if err := repos.Actors.SaveWithLock(ctx, a); err != nil {
			return err
		}
		account = a
		return nil
	})
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	telemetry.SetOK(span)
	return account, nil
}

// Snapshot returns the last recalculated balance of an actor
func (s *ActorBalanceService) Snapshot(ctx context.Context, ref cashbox.ActorRef) (*cashbox.ActorBalance, error) {
	if err := checkBalanceActor(ref); err != nil {
		return nil, err
	}
	account, err := s.uow.Repositories().Actors.Find(ctx, ref)
	if err != nil {
		return nil, err
	}
	if account.Snapshot == nil {
		return nil, shared.NewDomainError(shared.CodeNotFound, "no balance snapshot for "+ref.String())
	}
	return account.Snapshot, nil
}

// List returns the accounts of one actor type
func (s *ActorBalanceService) List(ctx context.Context, actorType cashbox.ActorType, page shared.Page) (*shared.Paginated[cashbox.ActorAccount], error) {
	if !actorType.HasBalance() {
		return nil, shared.NewDomainError(shared.CodeValidation, "actor type "+string(actorType)+" does not carry a balance")
	}
	page = page.Normalize()
	accounts, total, err := s.uow.Repositories().Actors.List(ctx, actorType, page)
	if err != nil {
		return nil, err
	}
	result := shared.NewPaginated(accounts, total, page.Number, page.Size)
	return &result, nil
}

func checkBalanceActor(ref cashbox.ActorRef) error {
	if err := ref.Validate(); err != nil {
		return err
	}
	if !ref.Type.HasBalance() {
		return shared.NewDomainError(shared.CodeValidation, "actor type "+string(ref.Type)+" does not carry a balance")
	}
	return nil
}

// computeActorBalance sums the opening balance, obligations and settlements of an actor.
// With lock the account row is created if needed and held for the rest of the transaction.
func computeActorBalance(ctx context.Context, repos cashbox.Repositories, ref cashbox.ActorRef, asOf time.Time, lock bool) (cashbox.ActorBalance, *cashbox.ActorAccount, error) {
	var (
		account *cashbox.ActorAccount
		opening = valueobject.ZeroAmounts()
		err     error
	)
	if lock {
		if account, err = repos.Actors.LockOrCreate(ctx, ref); err != nil {
			return cashbox.ActorBalance{}, nil, err
		}
		opening = account.Opening
	} else if opening, err = openingOf(ctx, repos, ref); err != nil {
		return cashbox.ActorBalance{}, nil, err
	}

	obligations, err := obligationsOf(ctx, repos, ref, asOf)
	if err != nil {
		return cashbox.ActorBalance{}, nil, err
	}
	entries, err := repos.Ledger.ListAll(ctx, cashbox.ForActor(ref, asOf))
	if err != nil {
		return cashbox.ActorBalance{}, nil, err
	}
	return cashbox.CalculateActorBalance(ref, opening, obligations, entries, asOf), account, nil
}

func openingOf(ctx context.Context, repos cashbox.Repositories, ref cashbox.ActorRef) (valueobject.Amounts, error) {
	account, err := repos.Actors.Find(ctx, ref)
	if errors.Is(err, cashbox.ErrActorNotFound) {
		return valueobject.ZeroAmounts(), nil
	}
	if err != nil {
		return valueobject.Amounts{}, err
	}
	return account.Opening, nil
}

// obligationsOf returns goods obligations; only clients are owed goods value
func obligationsOf(ctx context.Context, repos cashbox.Repositories, ref cashbox.ActorRef, asOf time.Time) ([]cashbox.Obligation, error) {
	if ref.Type != cashbox.ActorClient {
		return nil, nil
	}
	return repos.Orders.ObligationsFor(ctx, ref, asOf)
}
