package cashbox

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGroupEntries(t *testing.T) {
	t0 := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	driver := ActorRef{Type: ActorDriver, ID: "d-1"}
	entries := []LedgerEntry{
		entryAt(KindIncome, Credit, NoActor, "100.00", t0),
		entryAt(KindDriverAdvance, Debit, driver, "40.00", t0.Add(time.Minute)),
		entryAt(KindDriverReturn, Credit, driver, "15.00", t0.Add(2*time.Minute)),
		entryAt(KindIncome, Credit, NoActor, "5.00", t0.Add(3*time.Minute)),
	}

	t.Run("flat", func(t *testing.T) {
		groups, err := GroupEntries(entries, GroupFlat)
		require.NoError(t, err)
		require.Len(t, groups, 1)
		g := groups[0]
		require.Len(t, g.Lines, 4)
		assert.Equal(t, "100.00", g.Lines[0].Running.USD.StringFixed(2))
		assert.Equal(t, "60.00", g.Lines[1].Running.USD.StringFixed(2))
		assert.Equal(t, "75.00", g.Lines[2].Running.USD.StringFixed(2))
		assert.Equal(t, "80.00", g.Net.USD.StringFixed(2))
		assert.Equal(t, "120.00", g.Credits.USD.StringFixed(2))
		assert.Equal(t, "40.00", g.Debits.USD.StringFixed(2))
	})

	t.Run("by actor", func(t *testing.T) {
		groups, err := GroupEntries(entries, GroupByActor)
		require.NoError(t, err)
		require.Len(t, groups, 2)
		assert.Equal(t, "driver:d-1", groups[0].Key)
		assert.Equal(t, "-25.00", groups[0].Net.USD.StringFixed(2))
		assert.Equal(t, "none", groups[1].Key)
		assert.Equal(t, "105.00", groups[1].Lines[1].Running.USD.StringFixed(2))
	})

	t.Run("by kind", func(t *testing.T) {
		groups, err := GroupEntries(entries, GroupByKind)
		require.NoError(t, err)
		keys := make([]string, 0, len(groups))
		for _, g := range groups {
			keys = append(keys, g.Key)
		}
		assert.Equal(t, []string{"driver_advance", "driver_return", "income"}, keys)
	})

	t.Run("unknown mode", func(t *testing.T) {
		_, err := GroupEntries(entries, "by_day")
		assert.Error(t, err)
		_, err = ParseGroupMode("by_day")
		assert.Error(t, err)
	})
}
