package viz

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/guptarohit/asciigraph"

	"github.com/san-kum/dynopt/internal/solver"
	"github.com/san-kum/dynopt/internal/trajectory"
)

const historyCapacity = 200

type IterationMsg solver.Iteration

// DoneMsg ends the progress view with the solve outcome.
type DoneMsg struct {
	Result *trajectory.Result
	Err    error
}

type tickMsg time.Time

func tick() tea.Cmd {
	return tea.Tick(time.Second/10, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// Progress follows one solve iteration by iteration.
type Progress struct {
	problem string
	maxIter int
	cancel  context.CancelFunc

	last    solver.Iteration
	seen    bool
	primal  []float64
	dual    []float64
	frame   int
	done    bool
	aborted bool
	result  *trajectory.Result
	err     error
}

// NewProgress returns the view for a solve of at most maxIter iterations.
// cancel is called when the user quits early.
func NewProgress(problem string, maxIter int, cancel context.CancelFunc) Progress {
	return Progress{
		problem: problem,
		maxIter: maxIter,
		cancel:  cancel,
		primal:  make([]float64, 0, historyCapacity),
		dual:    make([]float64, 0, historyCapacity),
	}
}

func (m Progress) Init() tea.Cmd {
	return tick()
}

func (m Progress) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			if !m.done {
				m.aborted = true
				if m.cancel != nil {
					m.cancel()
				}
			}
			return m, tea.Quit
		}
	case IterationMsg:
		it := solver.Iteration(msg)
		m.last, m.seen = it, true
		m.primal = push(m.primal, logResidual(it.Primal))
		m.dual = push(m.dual, logResidual(it.Dual))
	case DoneMsg:
		m.done, m.result, m.err = true, msg.Result, msg.Err
		return m, tea.Quit
	case tickMsg:
		m.frame++
		if !m.done {
			return m, tick()
		}
	}
	return m, nil
}

func push(h []float64, v float64) []float64 {
	if len(h) == historyCapacity {
		copy(h, h[1:])
		h = h[:len(h)-1]
	}
	return append(h, v)
}

// logResidual maps a residual to a plottable decade, floored at 1e-16.
func logResidual(v float64) float64 {
	return math.Log10(math.Max(math.Abs(v), 1e-16))
}

func (m Progress) View() string {
	var s strings.Builder
	s.WriteString(Title.Render("SOLVING "+strings.ToUpper(m.problem)) + "\n\n")

	switch {
	case m.done && m.err != nil:
		s.WriteString(StatusStyle("failed").Render("error: "+m.err.Error()) + "\n")
		return Panel.Render(s.String())
	case m.done && m.result == nil:
		s.WriteString(Subtle.Render("no result") + "\n")
		return Panel.Render(s.String())
	case m.done:
		return Summary(m.result)
	case m.aborted:
		s.WriteString(StatusStyle("failed").Render("cancelled") + "\n")
		return Panel.Render(s.String())
	}

	s.WriteString(StatusStyle("running").Render(Spinner(m.frame)+" running") + "\n")
	if !m.seen {
		s.WriteString(Subtle.Render("waiting for the first iteration") + "\n")
		return Panel.Render(s.String())
	}

	it := m.last
	if m.maxIter > 0 {
		s.WriteString(ProgressBar(float64(it.Iter)/float64(m.maxIter), 30) + fmt.Sprintf(" %d/%d\n\n", it.Iter, m.maxIter))
	}
	s.WriteString(row("objective", fmt.Sprintf("%.8g", it.Objective)) + "\n")
	s.WriteString(row("primal", fmt.Sprintf("%.3e", it.Primal)) + "\n")
	s.WriteString(row("dual", fmt.Sprintf("%.3e", it.Dual)) + "\n")
	s.WriteString(row("mu", fmt.Sprintf("%.3e", it.Mu)) + "\n")
	s.WriteString(row("step", fmt.Sprintf("%.3g", it.Step)) + "\n")
	s.WriteString(row("elapsed", it.Elapsed.Round(time.Millisecond).String()) + "\n")

	if len(m.primal) > 1 {
		chart := asciigraph.Plot(m.primal, asciigraph.Height(6), asciigraph.Width(40), asciigraph.Caption("log10 primal infeasibility"))
		s.WriteString("\n" + chart + "\n")
		s.WriteString("\n" + MetricLabel.Render("log10 dual") + Sparkline(m.dual, 40) + "\n")
	}
	s.WriteString("\n" + KeyHint.Render("q: cancel"))
	return Panel.Render(s.String())
}

// Outcome returns the result once the solve finished, or the reason there
// is none.
func (m Progress) Outcome() (*trajectory.Result, error) {
	switch {
	case m.done:
		return m.result, m.err
	case m.aborted:
		return nil, context.Canceled
	}
	return nil, fmt.Errorf("solve did not finish")
}

// SolveFunc runs a solve reporting every iteration to obs.
type SolveFunc func(ctx context.Context, obs solver.Observer) (*trajectory.Result, error)

// RunLive shows the progress view while solve runs in the background.
func RunLive(ctx context.Context, problem string, maxIter int, solve SolveFunc, opts ...tea.ProgramOption) (*trajectory.Result, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := tea.NewProgram(NewProgress(problem, maxIter, cancel), opts...)
	go func() {
		res, err := solve(ctx, func(it solver.Iteration) {
			p.Send(IterationMsg(it))
		})
		p.Send(DoneMsg{Result: res, Err: err})
	}()

	final, err := p.Run()
	if err != nil {
		return nil, err
	}
	return final.(Progress).Outcome()
}
