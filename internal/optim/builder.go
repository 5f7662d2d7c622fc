package optim

import (
	"log/slog"
	"math"
	"strings"

	"github.com/san-kum/dynopt/internal/config"
	"github.com/san-kum/dynopt/internal/experiment"
)

// OptionBuilder varies option keys of a base experiment. Dotted keys such as
// solver.tol address nested records and model.<name> sets a constant of the
// problem's system. Integral values are passed as integers so that count
// options decode.
func OptionBuilder(reg *experiment.Registry, base experiment.Config, log *slog.Logger) Builder {
	return func(params map[string]float64) (*experiment.Experiment, error) {
		overrides := make(map[string]any, len(params))
		cfg := base
		cfg.Params = make(map[string]float64, len(base.Params))
		for k, v := range base.Params {
			cfg.Params[k] = v
		}
		for k, v := range params {
			if name, ok := strings.CutPrefix(k, modelPrefix); ok {
				cfg.Params[name] = v
				continue
			}
			var val any = v
			if v == math.Trunc(v) && math.Abs(v) < 1<<31 {
				val = int(v)
			}
			set(overrides, strings.Split(k, "."), val)
		}
		opts, err := config.Override(base.Options, overrides)
		if err != nil {
			return nil, err
		}
		cfg.Options = opts
		exp := experiment.New(reg, cfg, log)
		if err := exp.Setup(); err != nil {
			return nil, err
		}
		return exp, nil
	}
}

const modelPrefix = "model."

func set(m map[string]any, path []string, val any) {
	if len(path) == 1 {
		m[path[0]] = val
		return
	}
	sub, ok := m[path[0]].(map[string]any)
	if !ok {
		sub = make(map[string]any)
		m[path[0]] = sub
	}
	set(sub, path[1:], val)
}
