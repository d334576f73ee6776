package cashbox

import (
	"sort"

	"github.com/delivery/backend/internal/domain/shared/valueobject"
)

// GroupMode selects how ledger entries are presented
type GroupMode string

const (
	GroupFlat    GroupMode = "flat"
	GroupByActor GroupMode = "by_actor"
	GroupByKind  GroupMode = "by_kind"
)

// ParseGroupMode parses a grouping mode; empty means flat
func ParseGroupMode(s string) (GroupMode, error) {
	switch GroupMode(s) {
	case "", GroupFlat:
		return GroupFlat, nil
	case GroupByActor, GroupByKind:
		return GroupMode(s), nil
	default:
		return "", validationError("unknown grouping mode %q", s)
	}
}

// EntryLine is an entry annotated with the running sum of its group
type EntryLine struct {
	Entry   LedgerEntry         `json:"entry"`
	Running valueobject.Amounts `json:"running"`
}

// EntryGroup is a set of entries sharing a key, with running sums of both currencies
type EntryGroup struct {
	Key     string              `json:"key"`
	Lines   []EntryLine         `json:"lines"`
	Credits valueobject.Amounts `json:"credits"`
	Debits  valueobject.Amounts `json:"debits"`
	Net     valueobject.Amounts `json:"net"`
}

// GroupEntries groups chronologically ordered entries. Sums are signed, credit positive.
// Groups are sorted by key; flat mode yields a single group keyed "all".
func GroupEntries(entries []LedgerEntry, mode GroupMode) ([]EntryGroup, error) {
	var keyOf func(e *LedgerEntry) string
	switch mode {
	case GroupFlat, "":
		keyOf = func(*LedgerEntry) string { return "all" }
	case GroupByActor:
		keyOf = func(e *LedgerEntry) string { return e.Actor.String() }
	case GroupByKind:
		keyOf = func(e *LedgerEntry) string { return string(e.Kind) }
	default:
		return nil, validationError("unknown grouping mode %q", mode)
	}

	index := make(map[string]int)
	groups := make([]EntryGroup, 0)
	for i := range entries {
		e := entries[i]
		key := keyOf(&e)
		gi, ok := index[key]
		if !ok {
			gi = len(groups)
			index[key] = gi
			groups = append(groups, EntryGroup{
				Key:     key,
				Credits: valueobject.ZeroAmounts(),
				Debits:  valueobject.ZeroAmounts(),
				Net:     valueobject.ZeroAmounts(),
			})
		}
		g := &groups[gi]
		if e.Direction == Credit {
			g.Credits = g.Credits.Add(e.Amounts)
		} else {
			g.Debits = g.Debits.Add(e.Amounts)
		}
		g.Net = g.Net.Add(e.Signed())
		g.Lines = append(g.Lines, EntryLine{Entry: e, Running: g.Net})
	}

	sort.SliceStable(groups, func(i, j int) bool { return groups[i].Key < groups[j].Key })
	return groups, nil
}
