package metrics

import (
	"math"

	"github.com/san-kum/dynopt/internal/dynamo"
)

// Stability is the fraction of samples at which every state stays within
// limit times its own nominal magnitude. States without a nominal use 1.
type Stability struct {
	limit    float64
	nominals []float64
	inside   int
	samples  int
}

func NewStability(limit float64, nominals ...float64) *Stability {
	return &Stability{limit: limit, nominals: nominals}
}

func (s *Stability) Name() string {
	return "stability"
}

func (s *Stability) bound(i int) float64 {
	if i < len(s.nominals) && s.nominals[i] != 0 {
		return s.limit * math.Abs(s.nominals[i])
	}
	return s.limit
}

func (s *Stability) Observe(x dynamo.State, _ dynamo.Control, _ float64) {
	s.samples++
	for i, v := range x {
		if math.Abs(v) > s.bound(i) {
			return
		}
	}
	s.inside++
}

func (s *Stability) Value() float64 {
	if s.samples == 0 {
		return 1
	}
	return float64(s.inside) / float64(s.samples)
}

func (s *Stability) Reset() {
	s.inside, s.samples = 0, 0
}
