package optimization

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Comparator runs a set of strategies on identical inputs and ranks them by Sharpe ratio.
type Comparator struct {
	strategies []Strategy
	log        zerolog.Logger
}

// NewComparator creates a comparator over the given strategies, in registration order.
func NewComparator(log zerolog.Logger, strategies ...Strategy) *Comparator {
	return &Comparator{
		strategies: strategies,
		log:        log.With().Str("component", "optimization_comparator").Logger(),
	}
}

// Register appends a strategy.
func (c *Comparator) Register(s Strategy) {
	c.strategies = append(c.strategies, s)
}

// Strategies returns the registered strategy names in registration order.
func (c *Comparator) Strategies() []Method {
	out := make([]Method, len(c.strategies))
	for i, s := range c.strategies {
		out[i] = s.Name()
	}
	return out
}

// Compare runs every strategy in parallel and returns the ranking, best Sharpe first.
// NaN ratios sort last; equal ratios keep registration order. The first failing
// strategy's error aborts the comparison.
func (c *Comparator) Compare(ctx context.Context, req Request) ([]Ranking, error) {
	if len(c.strategies) == 0 {
		return nil, fmt.Errorf("no strategies registered")
	}

	start := time.Now()
	summaries := make([]Summary, len(c.strategies))

	g, gctx := errgroup.WithContext(ctx)
	for i, s := range c.strategies {
		i, s := i, s
		g.Go(func() error {
			summary, err := s.Run(gctx, req)
			if err != nil {
				return fmt.Errorf("%s: %w", s.Name(), err)
			}
			summaries[i] = summary
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		c.log.Warn().Err(err).Msg("Comparison aborted")
		return nil, err
	}

	ranked := rankSummaries(summaries)
	c.log.Debug().
		Int("strategies", len(ranked)).
		Str("best", string(ranked[0].Method)).
		Dur("duration", time.Since(start)).
		Msg("Comparison complete")
	return ranked, nil
}

func rankSummaries(summaries []Summary) []Ranking {
	order := make([]int, len(summaries))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		x, y := summaries[order[a]].SharpeRatio, summaries[order[b]].SharpeRatio
		if math.IsNaN(x) {
			return false
		}
		if math.IsNaN(y) {
			return true
		}
		return x > y
	})

	out := make([]Ranking, len(order))
	for rank, idx := range order {
		s := summaries[idx]
		out[rank] = Ranking{
			Rank:        rank + 1,
			Method:      s.Method,
			SharpeRatio: s.SharpeRatio,
			Summary:     s,
		}
	}
	return out
}
