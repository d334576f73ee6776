package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"time"

	appcashbox "github.com/delivery/backend/internal/application/cashbox"
	"github.com/delivery/backend/internal/domain/cashbox"
	"github.com/delivery/backend/internal/domain/shared/valueobject"
	"github.com/shopspring/decimal"
)

// usageError marks an invalid invocation
type usageError string

func (e usageError) Error() string { return string(e) }

type services struct {
	cash       *appcashbox.CashService
	actors     *appcashbox.ActorBalanceService
	rates      *appcashbox.RateService
	reconciler *appcashbox.ReconciliationService
}

func newServices(uow cashbox.UnitOfWork, opts ...appcashbox.Option) *services {
	return &services{
		cash:       appcashbox.NewCashService(uow, opts...),
		actors:     appcashbox.NewActorBalanceService(uow, opts...),
		rates:      appcashbox.NewRateService(uow, opts...),
		reconciler: appcashbox.NewReconciliationService(uow, opts...),
	}
}

type balanceView struct {
	Balance   valueobject.Amounts `json:"balance"`
	Initial   valueobject.Amounts `json:"initial"`
	UpdatedAt time.Time           `json:"updated_at"`
}

type rateView struct {
	ID          string          `json:"id"`
	LBPPerUSD   decimal.Decimal `json:"lbp_per_usd"`
	EffectiveAt time.Time       `json:"effective_at"`
	CreatedBy   string          `json:"created_by"`
}

func viewBalance(b *cashbox.CashboxBalance) balanceView {
	return balanceView{Balance: b.Balance, Initial: b.Initial, UpdatedAt: b.UpdatedAt}
}

// execute runs one command and writes its JSON result to out
func execute(ctx context.Context, svc *services, args []string, out io.Writer) error {
	if len(args) == 0 {
		return usageError("missing command")
	}
	name, rest := args[0], args[1:]
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var result any
	switch name {
	case "balance":
		if err := parse(fs, rest); err != nil {
			return err
		}
		b, err := svc.cash.Balance(ctx)
		if err != nil {
			return err
		}
		result = viewBalance(b)

	case "reconcile":
		repair := fs.Bool("repair", false, "overwrite the stored balance with the ledger total")
		if err := parse(fs, rest); err != nil {
			return err
		}
		report, err := svc.reconciler.Reconcile(ctx, *repair)
		if err != nil {
			return err
		}
		result = report

	case "set-rate":
		rate := fs.String("rate", "", "LBP per USD")
		at := fs.String("at", "", "effective time, RFC 3339")
		by := fs.String("by", "", "operator name")
		if err := parse(fs, rest); err != nil {
			return err
		}
		value, err := requiredDecimal("rate", *rate)
		if err != nil {
			return err
		}
		effective, err := optionalTime("at", *at)
		if err != nil {
			return err
		}
		r, err := svc.rates.SetRate(ctx, value, effective, *by)
		if err != nil {
			return err
		}
		result = rateView{ID: r.ID.String(), LBPPerUSD: r.LBPPerUSD, EffectiveAt: r.EffectiveAt, CreatedBy: r.CreatedBy}

	case "set-initial":
		usd := fs.String("usd", "0", "opening USD")
		lbp := fs.String("lbp", "0", "opening LBP")
		by := fs.String("by", "", "operator name")
		if err := parse(fs, rest); err != nil {
			return err
		}
		usdValue, err := requiredDecimal("usd", *usd)
		if err != nil {
			return err
		}
		lbpValue, err := requiredDecimal("lbp", *lbp)
		if err != nil {
			return err
		}
		b, err := svc.cash.SetInitialBalance(ctx, appcashbox.InitialBalanceRequest{
			USD:       usdValue,
			LBP:       lbpValue,
			CreatedBy: *by,
		})
		if err != nil {
			return err
		}
		result = viewBalance(b)

	case "actor-balance":
		ref, at, err := parseActor(fs, rest, true)
		if err != nil {
			return err
		}
		asOf, err := optionalTime("at", at)
		if err != nil {
			return err
		}
		if asOf.IsZero() {
			asOf = time.Now()
		}
		b, err := svc.actors.BalanceFor(ctx, ref, asOf)
		if err != nil {
			return err
		}
		result = b

	case "recalculate":
		ref, _, err := parseActor(fs, rest, false)
		if err != nil {
			return err
		}
		b, err := svc.actors.Recalculate(ctx, ref)
		if err != nil {
			return err
		}
		result = b

	default:
		return usageError(fmt.Sprintf("unknown command: %s", name))
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

func parse(fs *flag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		return usageError(fmt.Sprintf("%s: %v", fs.Name(), err))
	}
	if fs.NArg() > 0 {
		return usageError(fmt.Sprintf("%s: unexpected argument %q", fs.Name(), fs.Arg(0)))
	}
	return nil
}

func parseActor(fs *flag.FlagSet, args []string, withAt bool) (cashbox.ActorRef, string, error) {
	typ := fs.String("type", "", "driver, client or third_party")
	id := fs.String("id", "", "actor id")
	var at *string
	if withAt {
		at = fs.String("at", "", "as-of time, RFC 3339")
	}
	if err := parse(fs, args); err != nil {
		return cashbox.ActorRef{}, "", err
	}
	actorType, err := cashbox.ParseActorType(*typ)
	if err != nil {
		return cashbox.ActorRef{}, "", usageError(err.Error())
	}
	if !actorType.HasBalance() || *id == "" {
		return cashbox.ActorRef{}, "", usageError(fs.Name() + ": -type must be driver, client or third_party and -id is required")
	}
	var asOf string
	if at != nil {
		asOf = *at
	}
	return cashbox.ActorRef{Type: actorType, ID: *id}, asOf, nil
}

func requiredDecimal(name, raw string) (decimal.Decimal, error) {
	if raw == "" {
		return decimal.Zero, usageError("-" + name + " is required")
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, usageError(fmt.Sprintf("-%s: %v", name, err))
	}
	return d, nil
}

func optionalTime(name, raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, usageError(fmt.Sprintf("-%s: %v", name, err))
	}
	return t, nil
}
