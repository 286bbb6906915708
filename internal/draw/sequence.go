package draw

import (
	"errors"
	"fmt"
	"math/rand"
	"slices"
)

const MaxNumber = 90

var (
	ErrExhausted  = errors.New("all numbers have been drawn")
	ErrOutOfRange = errors.New("number out of range")
	ErrDuplicate  = errors.New("number drawn twice")
)

// Sequence is the ordered record of drawn numbers for one game. Drawn only
// ever grows and never holds a number twice.
type Sequence struct {
	Drawn     []int `json:"drawn"`
	Last      int   `json:"last"`
	Countdown int   `json:"countdown"`
}

// Draw picks uniformly among the numbers not yet drawn and appends it.
func (s *Sequence) Draw(rng *rand.Rand) (int, error) {
	var seen [MaxNumber + 1]bool
	for _, n := range s.Drawn {
		seen[n] = true
	}
	remaining := make([]int, 0, MaxNumber-len(s.Drawn))
	for n := 1; n <= MaxNumber; n++ {
		if !seen[n] {
			remaining = append(remaining, n)
		}
	}
	if len(remaining) == 0 {
		return 0, ErrExhausted
	}
	n := remaining[rng.Intn(len(remaining))]
	s.Drawn = append(s.Drawn, n)
	s.Last = n
	return n, nil
}

// Record appends n if it is not already present. It reports whether the
// sequence changed, so replaying a broadcast is a no-op.
func (s *Sequence) Record(n int) (bool, error) {
	if n < 1 || n > MaxNumber {
		return false, fmt.Errorf("%w: %d", ErrOutOfRange, n)
	}
	if s.Contains(n) {
		return false, nil
	}
	s.Drawn = append(s.Drawn, n)
	s.Last = n
	return true, nil
}

// Validate checks a sequence that did not come from Draw, such as one read
// back from storage.
func (s Sequence) Validate() error {
	if len(s.Drawn) > MaxNumber {
		return fmt.Errorf("%w: %d numbers drawn", ErrOutOfRange, len(s.Drawn))
	}
	var seen [MaxNumber + 1]bool
	for _, n := range s.Drawn {
		if n < 1 || n > MaxNumber {
			return fmt.Errorf("%w: %d", ErrOutOfRange, n)
		}
		if seen[n] {
			return fmt.Errorf("%w: %d", ErrDuplicate, n)
		}
		seen[n] = true
	}
	return nil
}

func (s Sequence) Contains(n int) bool { return slices.Contains(s.Drawn, n) }

func (s Sequence) Remaining() int { return MaxNumber - len(s.Drawn) }

func (s Sequence) Exhausted() bool { return len(s.Drawn) >= MaxNumber }

func (s Sequence) Clone() Sequence {
	out := s
	out.Drawn = slices.Clone(s.Drawn)
	if out.Drawn == nil {
		out.Drawn = []int{}
	}
	return out
}
