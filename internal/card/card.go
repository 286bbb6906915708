package card

import (
	"encoding/json"
	"errors"
	"fmt"
)

const (
	Rows           = 3
	Cols           = 9
	NumbersPerRow  = 5
	NumbersPerCard = Rows * NumbersPerRow
	MaxPerColumn   = 3
)

var ErrInvalidCard = errors.New("invalid card")

// Card is a 3x9 grid. A zero cell is empty; numbers are always 1..90.
type Card [Rows][Cols]int

// ColumnRange returns the inclusive decade range column col may hold.
func ColumnRange(col int) (lo, hi int) {
	switch col {
	case 0:
		return 1, 9
	case Cols - 1:
		return 80, 90
	default:
		return col * 10, col*10 + 9
	}
}

// Numbers returns every number on the card in row-major order.
func (c Card) Numbers() []int {
	out := make([]int, 0, NumbersPerCard)
	for r := 0; r < Rows; r++ {
		out = append(out, c.Row(r)...)
	}
	return out
}

// Row returns the numbers of row r, left to right.
func (c Card) Row(r int) []int {
	out := make([]int, 0, NumbersPerRow)
	for _, v := range c[r] {
		if v != 0 {
			out = append(out, v)
		}
	}
	return out
}

func (c Card) Contains(n int) bool {
	if n <= 0 {
		return false
	}
	for r := 0; r < Rows; r++ {
		for col := 0; col < Cols; col++ {
			if c[r][col] == n {
				return true
			}
		}
	}
	return false
}

func (c Card) IsZero() bool { return c == Card{} }

// Validate checks the shape invariants every dealt card must satisfy.
func Validate(c Card) error {
	seen := make(map[int]bool, NumbersPerCard)
	total := 0
	for r := 0; r < Rows; r++ {
		filled := 0
		for col := 0; col < Cols; col++ {
			v := c[r][col]
			if v == 0 {
				continue
			}
			lo, hi := ColumnRange(col)
			if v < lo || v > hi {
				return fmt.Errorf("%w: %d outside column %d range %d-%d", ErrInvalidCard, v, col, lo, hi)
			}
			if seen[v] {
				return fmt.Errorf("%w: duplicate number %d", ErrInvalidCard, v)
			}
			seen[v] = true
			filled++
		}
		if filled != NumbersPerRow {
			return fmt.Errorf("%w: row %d has %d numbers, want %d", ErrInvalidCard, r, filled, NumbersPerRow)
		}
		total += filled
	}
	for col := 0; col < Cols; col++ {
		n := 0
		for r := 0; r < Rows; r++ {
			if c[r][col] != 0 {
				n++
			}
		}
		if n > MaxPerColumn {
			return fmt.Errorf("%w: column %d has %d numbers", ErrInvalidCard, col, n)
		}
	}
	if total != NumbersPerCard {
		return fmt.Errorf("%w: %d numbers, want %d", ErrInvalidCard, total, NumbersPerCard)
	}
	return nil
}

// MarshalJSON writes empty cells as null.
func (c Card) MarshalJSON() ([]byte, error) {
	grid := make([][]*int, Rows)
	for r := 0; r < Rows; r++ {
		grid[r] = make([]*int, Cols)
		for col := 0; col < Cols; col++ {
			if v := c[r][col]; v != 0 {
				grid[r][col] = &v
			}
		}
	}
	return json.Marshal(grid)
}

func (c *Card) UnmarshalJSON(data []byte) error {
	var grid [][]*int
	if err := json.Unmarshal(data, &grid); err != nil {
		return err
	}
	if len(grid) != Rows {
		return fmt.Errorf("%w: %d rows", ErrInvalidCard, len(grid))
	}
	var out Card
	for r, row := range grid {
		if len(row) != Cols {
			return fmt.Errorf("%w: row %d has %d cells", ErrInvalidCard, r, len(row))
		}
		for col, v := range row {
			if v != nil {
				out[r][col] = *v
			}
		}
	}
	*c = out
	return nil
}
