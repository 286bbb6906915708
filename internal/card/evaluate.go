package card

// Tier is a win level. Tiers must be won in order.
type Tier string

const (
	TierCinko1  Tier = "cinko1"
	TierCinko2  Tier = "cinko2"
	TierTombala Tier = "tombala"
)

// Tiers lists every tier in claim order.
var Tiers = []Tier{TierCinko1, TierCinko2, TierTombala}

func (t Tier) Valid() bool {
	switch t {
	case TierCinko1, TierCinko2, TierTombala:
		return true
	}
	return false
}

// Previous returns the tier that must already be recorded before t can be claimed.
func (t Tier) Previous() (Tier, bool) {
	switch t {
	case TierCinko2:
		return TierCinko1, true
	case TierTombala:
		return TierCinko2, true
	}
	return "", false
}

// NumberSet answers membership questions about drawn numbers.
type NumberSet interface {
	Contains(n int) bool
}

// Set is a map-backed NumberSet.
type Set map[int]bool

func (s Set) Contains(n int) bool { return s[n] }

type RowProgress struct {
	Matched int `json:"matched"`
	Total   int `json:"total"`
}

func (p RowProgress) Complete() bool { return p.Total > 0 && p.Matched == p.Total }

type Result struct {
	Rows    [Rows]RowProgress `json:"rows"`
	Cinko1  bool              `json:"cinko1"`
	Cinko2  bool              `json:"cinko2"`
	Tombala bool              `json:"tombala"`
}

func (r Result) Has(t Tier) bool {
	switch t {
	case TierCinko1:
		return r.Cinko1
	case TierCinko2:
		return r.Cinko2
	case TierTombala:
		return r.Tombala
	}
	return false
}

// Marked is the number of card cells found in the drawn set.
func (r Result) Marked() int {
	n := 0
	for _, row := range r.Rows {
		n += row.Matched
	}
	return n
}

// Evaluate reports which tiers the card satisfies against the drawn set.
func Evaluate(c Card, drawn NumberSet) Result {
	var res Result
	complete := 0
	for r := 0; r < Rows; r++ {
		var p RowProgress
		for col := 0; col < Cols; col++ {
			v := c[r][col]
			if v == 0 {
				continue
			}
			p.Total++
			if drawn.Contains(v) {
				p.Matched++
			}
		}
		res.Rows[r] = p
		if p.Complete() {
			complete++
		}
	}
	res.Cinko1 = complete >= 1
	res.Cinko2 = complete >= 2
	res.Tombala = complete == Rows
	return res
}
