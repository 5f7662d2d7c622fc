// Package automation runs scripted sequences of solves, where a step may
// warm start from the result of an earlier one.
package automation

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/san-kum/dynopt/internal/config"
	"github.com/san-kum/dynopt/internal/experiment"
	"github.com/san-kum/dynopt/internal/storage"
	"github.com/san-kum/dynopt/internal/trajectory"
)

// Scenario is a named list of solve steps run in order.
type Scenario struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Steps       []Step `yaml:"steps"`
}

type Step struct {
	Name    string `yaml:"name"`
	Problem string `yaml:"problem"`
	Preset  string `yaml:"preset"`
	// Options override the preset key by key, with the option file names.
	Options map[string]any `yaml:"options"`
	// Params set model constants, e.g. mu for the Van der Pol oscillator.
	Params map[string]float64 `yaml:"params"`
	// InitFrom names an earlier step whose result seeds this one.
	InitFrom   string  `yaml:"init_from"`
	Clamp      bool    `yaml:"clamp"`
	Integrator string  `yaml:"integrator"`
	Dt         float64 `yaml:"dt"`
	Save       bool    `yaml:"save"`
}

// StepResult pairs a step with its outcome. RunID is empty unless saved.
type StepResult struct {
	Step    string
	Outcome *experiment.Outcome
	RunID   string
}

func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseScenario(data)
}

// ParseScenario decodes and checks a scenario. Step names default to
// step<N> and must be unique; init_from must name an earlier step.
func ParseScenario(data []byte) (*Scenario, error) {
	var sc Scenario
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&sc); err != nil {
		return nil, fmt.Errorf("scenario: %w", err)
	}
	if len(sc.Steps) == 0 {
		return nil, fmt.Errorf("scenario %q has no steps", sc.Name)
	}
	seen := make(map[string]bool, len(sc.Steps))
	for i := range sc.Steps {
		st := &sc.Steps[i]
		if st.Name == "" {
			st.Name = fmt.Sprintf("step%d", i+1)
		}
		if seen[st.Name] {
			return nil, fmt.Errorf("scenario %q: duplicate step %q", sc.Name, st.Name)
		}
		if st.Problem == "" {
			return nil, fmt.Errorf("scenario %q: step %q has no problem", sc.Name, st.Name)
		}
		if st.InitFrom != "" && !seen[st.InitFrom] {
			return nil, fmt.Errorf("scenario %q: step %q starts from unknown or later step %q", sc.Name, st.Name, st.InitFrom)
		}
		seen[st.Name] = true
	}
	return &sc, nil
}

func (st Step) options() (config.Options, error) {
	opts := config.DefaultOptions()
	if st.Preset != "" {
		p, err := config.GetPreset(st.Problem, st.Preset)
		if err != nil {
			return opts, err
		}
		opts = p
	}
	if len(st.Options) == 0 {
		return opts, nil
	}
	return config.Override(opts, st.Options)
}

// RunScenario executes every step. store may be nil when no step saves.
// It stops at the first failing step and returns the results so far.
func RunScenario(ctx context.Context, sc *Scenario, reg *experiment.Registry, store *storage.Store, log *slog.Logger) ([]StepResult, error) {
	if log == nil {
		log = slog.Default()
	}
	results := make([]StepResult, 0, len(sc.Steps))
	byName := make(map[string]*trajectory.Result, len(sc.Steps))

	for i, step := range sc.Steps {
		log.Info("scenario step", "scenario", sc.Name, "step", step.Name, "index", i+1, "of", len(sc.Steps), "problem", step.Problem)

		opts, err := step.options()
		if err != nil {
			return results, fmt.Errorf("step %s: %w", step.Name, err)
		}
		cfg := experiment.Config{
			Problem:    step.Problem,
			Options:    opts,
			Integrator: step.Integrator,
			Dt:         step.Dt,
			Params:     step.Params,
		}
		if step.InitFrom != "" {
			cfg.InitTraj = byName[step.InitFrom]
			if step.Clamp {
				cfg.Policy = trajectory.ClampHold
			}
		}

		exp := experiment.New(reg, cfg, log)
		if err := exp.Setup(); err != nil {
			return results, fmt.Errorf("step %s setup: %w", step.Name, err)
		}
		out, err := exp.Run(ctx)
		if err != nil {
			return results, fmt.Errorf("step %s run: %w", step.Name, err)
		}
		byName[step.Name] = out.Result

		r := StepResult{Step: step.Name, Outcome: out}
		if step.Save {
			if store == nil {
				return results, fmt.Errorf("step %s: save requested without a store", step.Name)
			}
			if r.RunID, err = store.Save(out.Result, opts); err != nil {
				return results, fmt.Errorf("step %s save: %w", step.Name, err)
			}
		}
		results = append(results, r)
	}
	return results, nil
}
