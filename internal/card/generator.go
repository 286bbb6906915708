package card

import (
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"time"
)

var ErrGenerationFailed = errors.New("card generation failed")

const maxAttempts = 5

// Generator deals cards from its own random source. It is not safe for
// concurrent use; each session owns one.
type Generator struct {
	rng *rand.Rand
}

// NewGenerator constructs a Generator with the provided rng or a time-seeded default.
func NewGenerator(rng *rand.Rand) *Generator {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Generator{rng: rng}
}

// Generate deals one card. An error here means the layout logic is broken,
// not that the caller passed bad input.
func (g *Generator) Generate() (Card, error) {
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		c := g.build()
		if err := Validate(c); err != nil {
			lastErr = err
			continue
		}
		return c, nil
	}
	return Card{}, fmt.Errorf("%w after %d attempts: %v", ErrGenerationFailed, maxAttempts, lastErr)
}

func (g *Generator) build() Card {
	counts := g.columnCounts()
	layout := g.layout(counts)

	var c Card
	for col := 0; col < Cols; col++ {
		values := g.columnValues(col, counts[col])
		i := 0
		for r := 0; r < Rows; r++ {
			if layout[r][col] {
				c[r][col] = values[i]
				i++
			}
		}
	}
	return c
}

// columnCounts gives every column one slot, then spreads the remaining six
// over columns still below the cap.
func (g *Generator) columnCounts() [Cols]int {
	var counts [Cols]int
	for i := range counts {
		counts[i] = 1
	}
	for extra := NumbersPerCard - Cols; extra > 0; extra-- {
		open := make([]int, 0, Cols)
		for col, n := range counts {
			if n < MaxPerColumn {
				open = append(open, col)
			}
		}
		counts[open[g.rng.Intn(len(open))]]++
	}
	return counts
}

// layout decides which rows host a number in each column. Columns are placed
// greedily into the emptiest rows, then a repair pass moves slots from
// over-full rows into under-full ones without changing any column count.
func (g *Generator) layout(counts [Cols]int) [Rows][Cols]bool {
	var grid [Rows][Cols]bool
	var fill [Rows]int

	order := g.rng.Perm(Cols)
	sort.SliceStable(order, func(i, j int) bool { return counts[order[i]] > counts[order[j]] })

	for _, col := range order {
		rows := g.rng.Perm(Rows)
		sort.SliceStable(rows, func(i, j int) bool { return fill[rows[i]] < fill[rows[j]] })
		for _, r := range rows[:counts[col]] {
			grid[r][col] = true
			fill[r]++
		}
	}

	for {
		over, under := -1, -1
		for r := 0; r < Rows; r++ {
			if fill[r] > NumbersPerRow && over < 0 {
				over = r
			}
			if fill[r] < NumbersPerRow && under < 0 {
				under = r
			}
		}
		if over < 0 || under < 0 {
			break
		}
		movable := make([]int, 0, Cols)
		for col := 0; col < Cols; col++ {
			if grid[over][col] && !grid[under][col] {
				movable = append(movable, col)
			}
		}
		// An over-full row always has a column the under-full row lacks.
		col := movable[g.rng.Intn(len(movable))]
		grid[over][col] = false
		grid[under][col] = true
		fill[over]--
		fill[under]++
	}
	return grid
}

// columnValues picks n distinct numbers from the column's range, ascending.
func (g *Generator) columnValues(col, n int) []int {
	lo, hi := ColumnRange(col)
	perm := g.rng.Perm(hi - lo + 1)
	out := make([]int, n)
	for i := 0; i < n; i++ {
		out[i] = lo + perm[i]
	}
	sort.Ints(out)
	return out
}
