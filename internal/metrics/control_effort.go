package metrics

import (
	"math"

	"github.com/san-kum/dynopt/internal/dynamo"
)

// ControlEffort integrates sum_i |u_i| over time with the trapezoid rule.
type ControlEffort struct {
	name  string
	sum   float64
	prevT float64
	prevU float64
	seen  bool
}

func NewControlEffort() *ControlEffort {
	return &ControlEffort{
		name: "control_effort",
	}
}

func (c *ControlEffort) Name() string {
	return c.name
}

func (c *ControlEffort) Observe(x dynamo.State, u dynamo.Control, t float64) {
	abs := 0.0
	for _, val := range u {
		abs += math.Abs(val)
	}
	if c.seen {
		c.sum += 0.5 * (abs + c.prevU) * (t - c.prevT)
	}
	c.prevT, c.prevU, c.seen = t, abs, true
}

func (c *ControlEffort) Value() float64 {
	return c.sum
}

func (c *ControlEffort) Reset() {
	c.sum = 0
	c.seen = false
}
