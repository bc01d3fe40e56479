package monitoring

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompareIDs(t *testing.T) {
	tests := []struct {
		name     string
		a, b     string
		expected int
	}{
		{"more digits is larger", "10000000000000000000", "9999999999999999999", 1},
		{"lexicographically smaller but larger", "100", "99", 1},
		{"beyond uint64", "184467440737095516160", "18446744073709551615", 1},
		{"equal", "1850000000000000000", "1850000000000000000", 0},
		{"smaller", "5", "6", -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmp, err := CompareIDs(tt.a, tt.b)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, cmp)
		})
	}

	_, err := CompareIDs("abc", "1")
	assert.Error(t, err)
	_, err = CompareIDs("1", "")
	assert.Error(t, err)
}

func TestMaxID(t *testing.T) {
	assert.Equal(t, "1000", MaxID([]string{"999", "1000", "998"}))
	assert.Equal(t, "20000000000000000000", MaxID([]string{"9", "20000000000000000000", "3"}))
	assert.Equal(t, "7", MaxID([]string{"bad", "7", "oops"}))
	assert.Equal(t, "newest", MaxID([]string{"newest", "older"}))
	assert.Equal(t, "", MaxID(nil))
}

var monotonicCases = []struct {
	name     string
	inputs   []string
	expected string
}{
	{"single", []string{"100"}, "100"},
	{"increasing", []string{"100", "200"}, "200"},
	{"decreasing", []string{"100", "99"}, "100"},
	{"more digits lexicographically smaller", []string{"99", "100"}, "100"},
	{"repeated identical", []string{"42", "42", "42"}, "42"},
	{"empty candidate ignored", []string{"42", ""}, "42"},
	{"non-numeric never replaces numeric", []string{"42", "zzz"}, "42"},
	{"numeric repairs non-numeric", []string{"zzz", "5"}, "5"},
}

func TestMemoryWatermark_Monotonic(t *testing.T) {
	ctx := context.Background()
	for _, tt := range monotonicCases {
		t.Run(tt.name, func(t *testing.T) {
			w := NewMemoryWatermark()
			for _, in := range tt.inputs {
				_, err := w.Advance(ctx, in)
				require.NoError(t, err)
			}
			current, err := w.Current(ctx)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, current)
		})
	}
}

func TestMemoryWatermark_AdvanceReportsChange(t *testing.T) {
	ctx := context.Background()
	w := NewMemoryWatermark()

	advanced, _ := w.Advance(ctx, "10")
	assert.True(t, advanced)
	advanced, _ = w.Advance(ctx, "10")
	assert.False(t, advanced)
	advanced, _ = w.Advance(ctx, "9")
	assert.False(t, advanced)
	advanced, _ = w.Advance(ctx, "11")
	assert.True(t, advanced)
}
