package backtest

import (
	"context"
	"math"
	"maps"
	"slices"

	"github.com/newthinker/tradeflow/internal/strategy"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// RunBatch runs independent requests on a pool of workers and scores
// each with objective. A failing request never aborts the batch; its
// trial scores negative infinity. Trials are returned in request order.
// The error is non-nil only when ctx is cancelled.
func (e *Engine) RunBatch(ctx context.Context, reqs []Request, workers int, objective Objective) ([]Trial, error) {
	if workers <= 0 {
		workers = 1
	}
	if objective == nil {
		objective = SharpeObjective
	}

	trials := make([]Trial, len(reqs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for i, req := range reqs {
		g.Go(func() error {
			trial := Trial{Request: req}
			report, err := e.Run(gctx, req)
			if err != nil {
				trial.Err = err
				trial.Score = math.Inf(-1)
				e.logger.Warn("trial failed",
					zap.Int("trial", i),
					zap.String("strategy", req.Strategy),
					zap.Error(err),
				)
			} else {
				trial.Report = report
				trial.Score = objective(report)
			}
			trials[i] = trial
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return trials, err
	}
	return trials, nil
}

// Best returns the highest-scoring successful trial. Ties go to the
// earliest request.
func Best(trials []Trial) (Trial, bool) {
	best := -1
	for i, t := range trials {
		if t.Err != nil {
			continue
		}
		if best < 0 || t.Score > trials[best].Score {
			best = i
		}
	}
	if best < 0 {
		return Trial{}, false
	}
	return trials[best], true
}

// Grid expands a parameter grid into every combination. Keys are
// iterated in sorted order with the last key varying fastest, so the
// expansion is deterministic. A key with no values yields no
// combinations.
func Grid(params map[string][]any) []strategy.Params {
	keys := slices.Sorted(maps.Keys(params))
	out := []strategy.Params{{}}
	for _, k := range keys {
		values := params[k]
		next := make([]strategy.Params, 0, len(out)*len(values))
		for _, base := range out {
			for _, v := range values {
				p := maps.Clone(base)
				p[k] = v
				next = append(next, p)
			}
		}
		out = next
	}
	return out
}

// Sweep builds one request per grid combination on top of base. Each
// combination is merged over base.Params.
func Sweep(base Request, grid map[string][]any) []Request {
	combos := Grid(grid)
	reqs := make([]Request, len(combos))
	for i, combo := range combos {
		req := base
		params := maps.Clone(base.Params)
		if params == nil {
			params = strategy.Params{}
		}
		maps.Copy(params, combo)
		req.Params = params
		req.Symbols = append([]string(nil), base.Symbols...)
		reqs[i] = req
	}
	return reqs
}
