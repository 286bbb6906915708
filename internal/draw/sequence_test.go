package draw

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDraw_NinetyDistinctThenExhausted(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	var s Sequence

	seen := map[int]bool{}
	for i := 0; i < MaxNumber; i++ {
		n, err := s.Draw(rng)
		require.NoError(t, err)
		require.True(t, n >= 1 && n <= MaxNumber, "out of range: %d", n)
		require.False(t, seen[n], "duplicate draw %d", n)
		seen[n] = true
		require.Equal(t, n, s.Last)
	}
	assert.Len(t, s.Drawn, MaxNumber)
	assert.True(t, s.Exhausted())
	assert.Equal(t, 0, s.Remaining())

	_, err := s.Draw(rng)
	if !errors.Is(err, ErrExhausted) {
		t.Fatalf("want ErrExhausted, got %v", err)
	}
	assert.Len(t, s.Drawn, MaxNumber)
}

func TestDraw_NeverRepeatsRecordedNumbers(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	s := Sequence{Drawn: []int{}}
	for n := 1; n <= 89; n++ {
		_, err := s.Record(n)
		require.NoError(t, err)
	}
	n, err := s.Draw(rng)
	require.NoError(t, err)
	assert.Equal(t, 90, n)
}

func TestRecord_Idempotent(t *testing.T) {
	var s Sequence
	changed, err := s.Record(17)
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = s.Record(17)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, []int{17}, s.Drawn)

	_, err = s.Record(91)
	assert.True(t, errors.Is(err, ErrOutOfRange))
	_, err = s.Record(0)
	assert.True(t, errors.Is(err, ErrOutOfRange))
}

func TestClone_DoesNotAlias(t *testing.T) {
	s := Sequence{Drawn: []int{1, 2, 3}, Last: 3}
	c := s.Clone()
	c.Drawn[0] = 90
	assert.Equal(t, 1, s.Drawn[0])

	var empty Sequence
	assert.NotNil(t, empty.Clone().Drawn)
}

func TestValidate(t *testing.T) {
	assert.NoError(t, Sequence{Drawn: []int{1, 45, 90}}.Validate())
	assert.NoError(t, Sequence{}.Validate())
	assert.ErrorIs(t, Sequence{Drawn: []int{0}}.Validate(), ErrOutOfRange)
	assert.ErrorIs(t, Sequence{Drawn: []int{12, 91}}.Validate(), ErrOutOfRange)
	assert.ErrorIs(t, Sequence{Drawn: []int{3, 4, 3}}.Validate(), ErrDuplicate)
}
