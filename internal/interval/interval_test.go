package interval

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func refs(entries []Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Ref
	}
	return out
}

func TestBuild_Empty(t *testing.T) {
	x := Build(nil)
	assert.Empty(t, x.QueryPoint(100))
	assert.Zero(t, x.Len())
}

func TestQueryPoint_Boundaries(t *testing.T) {
	x := Build([]Entry{{Start: 100, End: 200, Ref: "NM_1"}})

	assert.Len(t, x.QueryPoint(100), 1, "start boundary inclusive")
	assert.Len(t, x.QueryPoint(200), 1, "end boundary inclusive")
	assert.Len(t, x.QueryPoint(150), 1)
	assert.Empty(t, x.QueryPoint(99))
	assert.Empty(t, x.QueryPoint(201))
}

func TestQueryPoint_OverlappingTranscripts(t *testing.T) {
	x := Build([]Entry{
		{Start: 100, End: 200, Ref: "NM_1"},
		{Start: 150, End: 300, Ref: "NM_2"},
	})

	assert.Equal(t, []string{"NM_1", "NM_2"}, refs(x.QueryPoint(160)))
	assert.Empty(t, x.QueryPoint(50))
	assert.Equal(t, []string{"NM_2"}, refs(x.QueryPoint(250)))
}

func TestQueryPoint_DeterministicOrder(t *testing.T) {
	// Same start: order falls back to Ref ascending.
	x := Build([]Entry{
		{Start: 100, End: 400, Ref: "NM_9"},
		{Start: 100, End: 300, Ref: "NM_2"},
		{Start: 50, End: 500, Ref: "NM_5"},
	})

	assert.Equal(t, []string{"NM_5", "NM_2", "NM_9"}, refs(x.QueryPoint(150)))
}

func TestQueryPoint_PruneDoesNotMissLongInterval(t *testing.T) {
	// A long early interval spanning past later short ones must still be
	// found when the scan passes short intervals that end early.
	x := Build([]Entry{
		{Start: 1, End: 1000, Ref: "long"},
		{Start: 100, End: 110, Ref: "short1"},
		{Start: 200, End: 210, Ref: "short2"},
	})

	assert.Equal(t, []string{"long"}, refs(x.QueryPoint(500)))
	assert.Equal(t, []string{"long", "short2"}, refs(x.QueryPoint(205)))
}

func TestQueryRange(t *testing.T) {
	x := Build([]Entry{
		{Start: 100, End: 200, Ref: "A"},
		{Start: 300, End: 400, Ref: "B"},
		{Start: 500, End: 600, Ref: "C"},
	})

	assert.Equal(t, []string{"A", "B"}, refs(x.QueryRange(150, 350)))
	assert.Equal(t, []string{"A", "B", "C"}, refs(x.QueryRange(1, 1000)))
	assert.Empty(t, x.QueryRange(201, 299), "gap between A and B")
	assert.Equal(t, []string{"B"}, refs(x.QueryRange(400, 400)), "range collapsing to a boundary point")
	assert.Empty(t, x.QueryRange(300, 200), "inverted range")
}

// Cross-check the pruned scan against a brute-force contains test.
func TestQueryPoint_MatchesBruteForce(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	entries := make([]Entry, 500)
	for i := range entries {
		start := int64(rng.Intn(10000)) + 1
		entries[i] = Entry{
			Start: start,
			End:   start + int64(rng.Intn(2000)),
			Ref:   string(rune('a'+i%26)) + string(rune('0'+i%10)),
		}
	}
	x := Build(entries)

	for pos := int64(1); pos <= 12000; pos += 37 {
		want := map[string]int{}
		for _, e := range entries {
			if pos >= e.Start && pos <= e.End {
				want[e.Ref]++
			}
		}
		got := x.QueryPoint(pos)
		total := 0
		for _, n := range want {
			total += n
		}
		require.Len(t, got, total, "pos %d", pos)
		for _, e := range got {
			require.Positive(t, want[e.Ref], "pos %d unexpected ref %s", pos, e.Ref)
			want[e.Ref]--
		}
	}
}

func TestForest_UnknownChromosome(t *testing.T) {
	f := BuildForest(map[string][]Entry{
		"chr1": {{Start: 100, End: 200, Ref: "NM_1"}},
	})

	got, err := f.QueryPoint("chr1", 150)
	require.NoError(t, err)
	assert.Len(t, got, 1)

	_, err = f.QueryPoint("chr9", 150)
	assert.ErrorIs(t, err, ErrUnknownChromosome, "never a silent empty result")

	_, err = f.QueryRange("chr9", 1, 10)
	assert.ErrorIs(t, err, ErrUnknownChromosome)

	assert.Equal(t, []string{"chr1"}, f.Chromosomes())
}

func TestForest_DeclaredEmptyChromosome(t *testing.T) {
	f := BuildForest(map[string][]Entry{"chr1": nil})

	got, err := f.QueryPoint("chr1", 5)
	require.NoError(t, err, "declared chromosome with no entries is a valid empty result")
	assert.Empty(t, got)
}
