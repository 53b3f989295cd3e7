package tokens

// Effort is the quota class of one upstream request.
type Effort int

const (
	EffortLow Effort = iota
	EffortHigh
)

// Cost is the quota a request of this effort uses up.
func (e Effort) Cost() int {
	if e == EffortHigh {
		return 4
	}
	return 1
}

func (e Effort) String() string {
	if e == EffortHigh {
		return "high"
	}
	return "low"
}
