// Package trajectory turns solved decision vectors into time-indexed
// signals and maps earlier results back onto new layouts.
package trajectory

import (
	"fmt"
	"time"

	"github.com/san-kum/dynopt/internal/dynamo"
)

type Timings struct {
	Init time.Duration `json:"init"`
	Sol  time.Duration `json:"sol"`
	Post time.Duration `json:"post"`
}

func (t Timings) Total() time.Duration {
	return t.Init + t.Sol + t.Post
}

// Result is the outcome of one solve. Series are keyed by variable name and
// der(name) for state derivatives; Names keeps their order.
type Result struct {
	Problem    string               `json:"problem"`
	Solver     string               `json:"solver"`
	Mode       string               `json:"result_mode"`
	Time       []float64            `json:"-"`
	Names      []string             `json:"names"`
	Series     map[string][]float64 `json:"-"`
	Cost       float64              `json:"cost"`
	Status     string               `json:"status"`
	Message    string               `json:"message,omitempty"`
	Iterations int                  `json:"iterations"`
	Timings    Timings              `json:"timings"`
	// HOpt are the optimized element lengths relative to uniform, n_e*h_e.
	HOpt       []float64            `json:"h_opt,omitempty"`
	Parameters map[string]float64   `json:"parameters,omitempty"`
	Metrics    map[string]float64   `json:"metrics,omitempty"`
	// Scaled series hold value/nominal.
	Scaled     bool                 `json:"scaled"`
}

func (r *Result) Get(name string) ([]float64, error) {
	s, ok := r.Series[name]
	if !ok {
		return nil, fmt.Errorf("%w: no series %q", dynamo.ErrInvalidOptions, name)
	}
	return s, nil
}

// Final returns the last sample of a series, or NaN.
func (r *Result) Final(name string) float64 {
	s := r.Series[name]
	if len(s) == 0 {
		return nan()
	}
	return s[len(s)-1]
}

func (r *Result) Len() int {
	return len(r.Time)
}

// Horizon returns the first and last sample time.
func (r *Result) Horizon() (float64, float64) {
	if len(r.Time) == 0 {
		return 0, 0
	}
	return r.Time[0], r.Time[len(r.Time)-1]
}

func (r *Result) add(name string, values []float64) {
	if r.Series == nil {
		r.Series = make(map[string][]float64)
	}
	r.Names = append(r.Names, name)
	r.Series[name] = values
}

// Der is the series name of a state derivative.
func Der(state string) string {
	return "der(" + state + ")"
}
