package layout

import "sort"

// Term is one coefficient times one decision position.
type Term struct {
	Pos  int
	Coef float64
}

// Expr is an affine function of the decision vector. Retained unknowns are a
// single unit term; eliminated unknowns combine several positions.
type Expr struct {
	Const float64
	Terms []Term
}

func Var(pos int) Expr {
	return Expr{Terms: []Term{{Pos: pos, Coef: 1}}}
}

func Constant(c float64) Expr {
	return Expr{Const: c}
}

// IsConst reports whether e has no decision-variable terms.
func (e Expr) IsConst() bool {
	return len(e.Terms) == 0
}

func (e Expr) Eval(x []float64) float64 {
	v := e.Const
	for _, t := range e.Terms {
		v += t.Coef * x[t.Pos]
	}
	return v
}

func (e Expr) Scale(c float64) Expr {
	out := Expr{Const: e.Const * c, Terms: make([]Term, len(e.Terms))}
	for i, t := range e.Terms {
		out.Terms[i] = Term{Pos: t.Pos, Coef: t.Coef * c}
	}
	return out
}

// Combine returns sum_i w[i]*exprs[i] with duplicate positions merged and
// terms sorted by position.
func Combine(w []float64, exprs []Expr) Expr {
	acc := make(map[int]float64)
	out := Expr{}
	for i, e := range exprs {
		if w[i] == 0 {
			continue
		}
		out.Const += w[i] * e.Const
		for _, t := range e.Terms {
			acc[t.Pos] += w[i] * t.Coef
		}
	}
	out.Terms = make([]Term, 0, len(acc))
	for pos, c := range acc {
		if c != 0 {
			out.Terms = append(out.Terms, Term{Pos: pos, Coef: c})
		}
	}
	sort.Slice(out.Terms, func(a, b int) bool { return out.Terms[a].Pos < out.Terms[b].Pos })
	return out
}

// Add returns a + b.
func Add(a, b Expr) Expr {
	return Combine([]float64{1, 1}, []Expr{a, b})
}
