package pool

import (
	"fmt"
	"strconv"
	"strings"
)

// Params is a snapshot of the pool's sizing state.
// Invariant: 0 <= Active <= Total <= Max and Min <= Max.
type Params struct {
	Increment int
	Min       int
	Active    int
	Total     int
	Max       int
}

// Idle is the number of workers waiting for a connection.
func (p Params) Idle() int {
	return p.Total - p.Active
}

// Saturated reports whether every worker is busy and no growth is possible.
func (p Params) Saturated() bool {
	return p.Active == p.Total && p.Total >= p.Max
}

// String renders the admin STATUS payload.
func (p Params) String() string {
	return fmt.Sprintf("increment=%d min=%d active=%d total=%d max=%d", p.Increment, p.Min, p.Active, p.Total, p.Max)
}

// ParseParams reads the format produced by String. Unknown keys are ignored.
func ParseParams(s string) (Params, error) {
	var p Params
	seen := 0
	for _, field := range strings.Fields(s) {
		key, value, ok := strings.Cut(field, "=")
		if !ok {
			return Params{}, fmt.Errorf("parse pool params: malformed field %q", field)
		}
		n, err := strconv.Atoi(value)
		if err != nil {
			return Params{}, fmt.Errorf("parse pool params: %s: %w", key, err)
		}
		switch key {
		case "increment":
			p.Increment = n
		case "min":
			p.Min = n
		case "active":
			p.Active = n
		case "total":
			p.Total = n
		case "max":
			p.Max = n
		default:
			continue
		}
		seen++
	}
	if seen == 0 {
		return Params{}, fmt.Errorf("parse pool params: no fields in %q", s)
	}
	return p, nil
}
