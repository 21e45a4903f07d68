package replan

// Budget bounds how many replan and regeneration cycles a request may spend.
type Budget struct {
	max  int
	used int
}

// NewBudget returns a budget with max units; negative values are clamped to 0.
func NewBudget(max int) *Budget {
	if max < 0 {
		max = 0
	}
	return &Budget{max: max}
}

// Consume spends one unit and reports whether one was available.
func (b *Budget) Consume() bool {
	if b.used >= b.max {
		return false
	}
	b.used++
	return true
}

// Remaining returns the units left.
func (b *Budget) Remaining() int { return b.max - b.used }

// Used returns the units spent.
func (b *Budget) Used() int { return b.used }

// Exhausted reports whether no unit is left.
func (b *Budget) Exhausted() bool { return b.used >= b.max }
