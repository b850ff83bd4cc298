package cache

import (
	"errors"
	"fmt"

	"github.com/syntrixbase/syntrix-offline/internal/jsonapi"
	"github.com/syntrixbase/syntrix-offline/internal/view"
)

// ResourceConfig serves a JSON:API collection out of the local store.
type ResourceConfig struct {
	// URI is the route matcher, with the same syntax as exclusions.
	URI string `yaml:"uri"`

	jsonapi.Type `yaml:",inline"`

	// Prefix selects documents by id prefix. Where selects them with a CEL
	// expression over doc.id and doc.data instead.
	Prefix string `yaml:"prefix"`
	Where  string `yaml:"where"`
}

func (c ResourceConfig) validate() error {
	if c.URI == "" {
		return errors.New("uri is required")
	}
	if c.Key == "" {
		return errors.New("key is required")
	}
	return nil
}

func (c ResourceConfig) build() (Matcher, *jsonapi.Handler, error) {
	if err := c.validate(); err != nil {
		return nil, nil, err
	}
	matcher, err := ParseMatcher(c.URI)
	if err != nil {
		return nil, nil, err
	}
	mapFn, err := selectDocs(c.Prefix, c.Where)
	if err != nil {
		return nil, nil, err
	}
	return matcher, jsonapi.NewHandler(mapFn, jsonapi.NewType(c.Key, c.Plural)), nil
}

// selectDocs maps the documents chosen by an id prefix or a CEL expression.
func selectDocs(prefix, where string) (view.MapFunc, error) {
	if (prefix == "") == (where == "") {
		return nil, errors.New("exactly one of prefix and where is required")
	}
	if where != "" {
		return view.Expression(where)
	}
	return view.MatchKeyPrefix(prefix), nil
}

// RouteResources routes every resource in order. Nothing is routed when any
// resource is invalid.
func (r *Router) RouteResources(resources []ResourceConfig) error {
	type built struct {
		matcher Matcher
		handler *jsonapi.Handler
	}
	routes := make([]built, 0, len(resources))
	for i, res := range resources {
		m, h, err := res.build()
		if err != nil {
			return fmt.Errorf("resource %d (%s): %w", i, res.URI, err)
		}
		routes = append(routes, built{matcher: m, handler: h})
	}
	for _, rt := range routes {
		r.Route(rt.matcher, rt.handler)
		r.logger.Debug("Resource routed", "matcher", rt.matcher, "type", rt.handler.Type().Key)
	}
	return nil
}
