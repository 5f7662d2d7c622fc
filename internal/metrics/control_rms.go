package metrics

import (
	"math"

	"github.com/san-kum/dynopt/internal/dynamo"
)

// ControlRMS is the root mean square of all control samples, the u_norm
// used to compare solutions across meshes.
type ControlRMS struct {
	sum   float64
	count int
}

func NewControlRMS() *ControlRMS {
	return &ControlRMS{}
}

func (c *ControlRMS) Name() string {
	return "u_norm"
}

func (c *ControlRMS) Observe(x dynamo.State, u dynamo.Control, t float64) {
	for _, v := range u {
		c.sum += v * v
		c.count++
	}
}

func (c *ControlRMS) Value() float64 {
	if c.count == 0 {
		return 0
	}
	return math.Sqrt(c.sum / float64(c.count))
}

func (c *ControlRMS) Reset() {
	c.sum = 0
	c.count = 0
}
