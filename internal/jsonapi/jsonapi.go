// Package jsonapi shapes view results as JSON:API style documents.
//
// Cached documents hold a primary record under the resource type key and
// optionally side-loaded records under other keys, for example
//
//	{"product": {"id": 1}, "foos": [{"id": 1}, {"id": 2}]}
//
// A formatted response collects the records of every row into one array per
// key, renaming the primary key to its plural form:
//
//	{"meta": {"total": 1}, "products": [{"id": 1}], "foos": [{"id": 1}, {"id": 2}]}
package jsonapi

import (
	"fmt"
	"regexp"

	"github.com/syntrixbase/syntrix-offline/internal/query"
	"github.com/syntrixbase/syntrix-offline/internal/view"
	"github.com/syntrixbase/syntrix-offline/pkg/model"
)

// MetaKey is never surfaced as a record array.
const MetaKey = "meta"

// Type describes a resource type.
type Type struct {
	Key    string `json:"key" yaml:"key"`
	Plural string `json:"plural" yaml:"plural"`
}

// NewType returns the type for key. An empty plural defaults to key + "s".
func NewType(key, plural string) Type {
	if plural == "" {
		plural = key + "s"
	}
	return Type{Key: key, Plural: plural}
}

// Formatter builds JSON:API responses for one primary type.
type Formatter struct {
	typ Type
}

var _ query.Formatter = (*Formatter)(nil)

// NewFormatter returns a formatter for typ.
func NewFormatter(typ Type) *Formatter {
	return &Formatter{typ: typ}
}

// Format implements query.Formatter. meta.total is the row count of res,
// meta.offset is set when non-zero and meta.limit when the request asked for
// a non-zero one. Records are deduplicated by id within each response array, and the
// primary array is always present.
func (f *Formatter) Format(res *model.ViewResult, opts *model.RequestOptions) (interface{}, error) {
	meta := map[string]interface{}{"total": res.TotalRows}
	if res.Offset != 0 {
		meta["offset"] = res.Offset
	}
	if limit, ok := opts.Param(query.ParamLimit); ok && isSet(limit) {
		meta["limit"] = limit
	}

	response := map[string]interface{}{MetaKey: meta}
	seen := make(map[string]map[string]struct{})
	for _, row := range res.Rows {
		if err := f.extract(row.Doc, response, seen); err != nil {
			return nil, err
		}
	}
	if _, ok := response[f.typ.Plural]; !ok {
		response[f.typ.Plural] = []interface{}{}
	}
	return response, nil
}

func (f *Formatter) extract(doc *model.Document, response map[string]interface{}, seen map[string]map[string]struct{}) error {
	if doc == nil {
		return nil
	}
	payload, ok := doc.Payload.(map[string]interface{})
	if !ok {
		return fmt.Errorf("document %q is not a JSON:API payload", doc.ID)
	}

	for key, records := range payload {
		if key == MetaKey {
			continue
		}
		if key == f.typ.Key {
			key = f.typ.Plural
		}
		if _, ok := response[key]; !ok {
			response[key] = []interface{}{}
			seen[key] = make(map[string]struct{})
		}

		if list, ok := records.([]interface{}); ok {
			for _, rec := range list {
				add(response, seen, key, rec)
			}
			continue
		}
		add(response, seen, key, records)
	}
	return nil
}

func add(response map[string]interface{}, seen map[string]map[string]struct{}, key string, rec interface{}) {
	id := recordID(rec)
	if _, dup := seen[key][id]; dup {
		return
	}
	seen[key][id] = struct{}{}
	response[key] = append(response[key].([]interface{}), rec)
}

// recordID returns a comparable form of the record's id. Records without
// an id share the empty id, so only the first of them is kept.
func recordID(rec interface{}) string {
	obj, ok := rec.(map[string]interface{})
	if !ok {
		return fmt.Sprintf("%T:%v", rec, rec)
	}
	id, ok := obj["id"]
	if !ok || id == nil {
		return ""
	}
	if n, ok := model.ToInt64(id); ok {
		if f, isFloat := id.(float64); !isFloat || f == float64(n) {
			return fmt.Sprintf("n:%d", n)
		}
	}
	return fmt.Sprintf("%T:%v", id, id)
}

// isSet reports whether a request parameter carries a value: not null, not
// zero, not empty and not false.
func isSet(v interface{}) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case string:
		return x != ""
	case float64:
		return x != 0
	case float32:
		return x != 0
	}
	if n, ok := model.ToInt64(v); ok {
		return n != 0
	}
	return true
}

// NewFilter returns a row filter that compares query values with fields of
// the primary record, doc.payload[typ.Key][property].
func NewFilter(typ Type) *query.RowFilter {
	return &query.RowFilter{
		Extract: func(property string, row model.ViewRow) (interface{}, bool) {
			primary, ok := row.Doc.Field(typ.Key)
			if !ok {
				return nil, false
			}
			obj, ok := primary.(map[string]interface{})
			if !ok {
				return nil, false
			}
			v, ok := obj[property]
			return v, ok
		},
	}
}

// Handler is a query handler with JSON:API filtering and formatting.
// It serves cache routes through the embedded query.Handler.
type Handler struct {
	*query.Handler
	typ Type
}

// NewHandler creates a handler for typ over the documents mapped by mapFn.
// opts may override the default filter and formatter.
func NewHandler(mapFn view.MapFunc, typ Type, opts ...query.Option) *Handler {
	defaults := []query.Option{
		query.WithFormatter(NewFormatter(typ)),
		query.WithFilter(NewFilter(typ)),
	}
	return &Handler{
		Handler: query.NewHandler(mapFn, append(defaults, opts...)...),
		typ:     typ,
	}
}

// NewPatternHandler creates a handler for typ over the documents whose id
// matches re.
func NewPatternHandler(re *regexp.Regexp, typ Type, opts ...query.Option) *Handler {
	return NewHandler(view.MatchKey(re), typ, opts...)
}

// Type returns the handler's primary type.
func (h *Handler) Type() Type {
	return h.typ
}

