package cache

import (
	"errors"
	"fmt"

	"github.com/syntrixbase/syntrix-offline/internal/query"
	"github.com/syntrixbase/syntrix-offline/internal/view"
	"github.com/syntrixbase/syntrix-offline/pkg/model"
)

// AggregateConfig serves a single reduced value over a set of documents,
// for example the number of cached orders or the sum of their totals.
type AggregateConfig struct {
	URI string `yaml:"uri"`

	Prefix string `yaml:"prefix"`
	Where  string `yaml:"where"`

	// Field is the dotted payload path reduced by sum and max.
	Field string `yaml:"field"`
	// Reduce is one of count, sum or max.
	Reduce string `yaml:"reduce"`
}

var reducers = map[string]func() view.ReduceFunc{
	"count": view.Count,
	"sum":   view.Sum,
	"max":   view.Max,
}

func (c AggregateConfig) build() (Matcher, *query.Handler, error) {
	if c.URI == "" {
		return nil, nil, errors.New("uri is required")
	}
	reduce, ok := reducers[c.Reduce]
	if !ok {
		return nil, nil, fmt.Errorf("unknown reduce %q, expected count, sum or max", c.Reduce)
	}
	if c.Field == "" && c.Reduce != "count" {
		return nil, nil, fmt.Errorf("field is required for %s", c.Reduce)
	}
	matcher, err := ParseMatcher(c.URI)
	if err != nil {
		return nil, nil, err
	}
	mapFn, err := selectDocs(c.Prefix, c.Where)
	if err != nil {
		return nil, nil, err
	}
	if c.Field != "" {
		mapFn = view.EmitField(mapFn, c.Field)
	}
	return matcher, query.NewHandler(mapFn,
		query.WithReduce(reduce()),
		query.WithFormatterFunc(formatAggregate),
	), nil
}

// formatAggregate shapes a reduced result as {"value": v}. An empty set
// reduces to 0.
func formatAggregate(res *model.ViewResult, _ *model.RequestOptions) (interface{}, error) {
	var value interface{} = 0
	if len(res.Rows) > 0 {
		value = res.Rows[0].Value
	}
	return map[string]interface{}{"value": value}, nil
}

// RouteAggregates routes every aggregate in order. Nothing is routed when
// any aggregate is invalid.
func (r *Router) RouteAggregates(aggregates []AggregateConfig) error {
	handlers := make([]*query.Handler, len(aggregates))
	matchers := make([]Matcher, len(aggregates))
	for i, agg := range aggregates {
		m, h, err := agg.build()
		if err != nil {
			return fmt.Errorf("aggregate %d (%s): %w", i, agg.URI, err)
		}
		matchers[i], handlers[i] = m, h
	}
	for i, h := range handlers {
		r.Route(matchers[i], h)
		r.logger.Debug("Aggregate routed", "matcher", matchers[i], "reduce", aggregates[i].Reduce)
	}
	return nil
}
