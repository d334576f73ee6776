package cashbox

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/delivery/backend/internal/domain/cashbox"
	"github.com/delivery/backend/internal/domain/shared"
	"github.com/delivery/backend/internal/infrastructure/telemetry"
	"go.uber.org/zap"
)

// Transition outcomes recorded on metrics
const (
	OutcomeApplied = "applied"
	OutcomeSkipped = "skipped"
	OutcomeNoop    = "noop"
	OutcomeFailed  = "failed"
)

// TransitionNotification is the order subsystem's report of an order state change
type TransitionNotification struct {
	OrderID       string               `json:"order_id"`
	OrderType     cashbox.OrderType    `json:"order_type"`
	ActorRef      cashbox.ActorRef     `json:"actor_ref"`
	PreviousState *cashbox.OrderState  `json:"previous_state"`
	NewState      cashbox.OrderState   `json:"new_state"`
	Amounts       cashbox.OrderAmounts `json:"amounts"`
	OccurredAt    time.Time            `json:"occurred_at"`
	CreatedBy     string               `json:"created_by,omitempty"`
}

// DecodeTransitionNotification parses a JSON notification
func DecodeTransitionNotification(data []byte) (TransitionNotification, error) {
	var n TransitionNotification
	if err := json.Unmarshal(data, &n); err != nil {
		return TransitionNotification{}, shared.WrapDomainError(shared.CodeValidation, "malformed transition notification", err)
	}
	return n, nil
}

// ToTransition converts the notification to the domain transition
func (n TransitionNotification) ToTransition() cashbox.Transition {
	var from *cashbox.OrderState
	if n.PreviousState != nil {
		prev := *n.PreviousState
		from = &prev
	}
	return cashbox.Transition{
		OrderID:   n.OrderID,
		OrderType: n.OrderType,
		Client:    n.ActorRef,
		From:      from,
		To:        n.NewState,
		Amounts:   n.Amounts,
	}
}

// TransitionResult reports what a transition did to the cashbox
type TransitionResult struct {
	OrderID string                  `json:"order_id"`
	Rule    cashbox.Rule            `json:"rule"`
	Outcome string                  `json:"outcome"`
	Entries []*cashbox.LedgerEntry  `json:"entries"`
	Balance *cashbox.CashboxBalance `json:"balance,omitempty"`
}

// LifecycleService applies the cash effects of order lifecycle transitions
type LifecycleService struct {
	*core
}

// NewLifecycleService creates the service
func NewLifecycleService(uow cashbox.UnitOfWork, opts ...Option) *LifecycleService {
	return &LifecycleService{core: newCore(uow, opts...)}
}

// ApplyTransition evaluates a transition against the stored order state and applies its
// cash effect at most once. The stored state, when present, replaces the notification's
// previous state, so a duplicate or stale notification has no effect.
func (s *LifecycleService) ApplyTransition(ctx context.Context, n TransitionNotification) (result *TransitionResult, err error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "lifecycle", "apply_transition")
	defer span.End()
	telemetry.SetAttributes(span,
		telemetry.SpanAttrOrderID, n.OrderID,
		telemetry.SpanAttrActor, n.ActorRef.String(),
	)
	started := time.Now()
	defer func() {
		s.finish(ctx, "apply_transition", started, err)
		if err != nil {
			s.metrics.RecordTransition(ctx, string(cashbox.RuleNone), OutcomeFailed)
		}
	}()

	telemetry.WithProfilingLabels(ctx, telemetry.CashOperationLabels("apply_transition", ""), func(ctx context.Context) {
		err = s.transact(ctx, "apply_transition", func(ctx context.Context, repos cashbox.Repositories) error {
			var txErr error
			result, txErr = s.apply(ctx, repos, n)
			return txErr
		})
	})
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	s.published(ctx, result.Entries...)
	s.metrics.RecordTransition(ctx, string(result.Rule), result.Outcome)
	if result.Balance != nil {
		s.metrics.RecordBalance(ctx, result.Balance.Balance.USD, result.Balance.Balance.LBP)
	}
	telemetry.SetAttributes(span, telemetry.SpanAttrRule, string(result.Rule))
	s.log(ctx).Debug("Order transition applied",
		zap.String("order_id", n.OrderID),
		zap.String("rule", string(result.Rule)),
		zap.String("outcome", result.Outcome),
		zap.Int("entries", len(result.Entries)),
	)
	telemetry.SetOK(span)
	return result, nil
}

func (s *LifecycleService) apply(ctx context.Context, repos cashbox.Repositories, n TransitionNotification) (*TransitionResult, error) {
	t := n.ToTransition()
	state, err := repos.Orders.FindForUpdate(ctx, t.OrderID)
	switch {
	case errors.Is(err, cashbox.ErrOrderNotFound):
		state = nil
	case err != nil:
		return nil, err
	}

	isNew := state == nil
	if !isNew {
		from := state.State
		t.From = &from
		if t.OrderType == "" {
			t.OrderType = state.OrderType
		}
		if t.Client.IsNone() {
			t.Client = state.Client
		}
		if t.Amounts.Total.IsZero() && t.Amounts.DeliveryFee.IsZero() {
			t.Amounts = state.Amounts
		}
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}

	decision := cashbox.Decide(t)
	if isNew {
		state = cashbox.NewOrderCashState(t)
	} else {
		state.OrderType = t.OrderType
		state.Client = t.Client
		state.Amounts = t.Amounts
	}

	result := &TransitionResult{OrderID: t.OrderID, Rule: decision.Rule, Outcome: OutcomeNoop}
	switch {
	case decision.Rule == cashbox.RuleNone:
		state.MoveTo(t.To)
	case !state.Permits(decision.Rule):
		result.Outcome = OutcomeSkipped
		state.MoveTo(t.To)
	default:
		if decision.Effect != nil {
			entry, balance, err := s.post(ctx, repos, s.effectDraft(t, n, decision.Effect))
			if err != nil {
				return nil, err
			}
			result.Entries = append(result.Entries, entry)
			result.Balance = balance
		}
		at := n.OccurredAt
		if at.IsZero() {
			at = s.now()
		}
		state.Record(decision.Rule, decision, t.To, at)
		result.Outcome = OutcomeApplied
	}

	if isNew {
		err = repos.Orders.Create(ctx, state)
	} else {
		err = repos.Orders.SaveWithLock(ctx, state)
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}

// effectDraft builds the ledger entry of a matched rule. Both currencies come from the
// order so that a float and its recovery net to zero regardless of rate moves.
func (s *LifecycleService) effectDraft(t cashbox.Transition, n TransitionNotification, e *cashbox.CashEffect) cashbox.EntryDraft {
	usd := e.Amounts.USD
	lbp := e.Amounts.LBP
	actor := t.Client
	if actor.IsNone() {
		actor = cashbox.NoActor
	}
	return cashbox.EntryDraft{
		Kind:        e.Kind,
		Direction:   e.Direction,
		USD:         &usd,
		LBP:         &lbp,
		Actor:       actor,
		Category:    e.Category,
		OrderRef:    t.OrderID,
		Description: string(e.Kind) + " for order " + t.OrderID + " (" + t.To.String() + ")",
		CreatedBy:   s.author(n.CreatedBy),
		At:          n.OccurredAt,
	}
}
