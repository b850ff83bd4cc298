package query

import (
	"fmt"
	"regexp"
	"strconv"

	"github.com/syntrixbase/syntrix-offline/internal/view"
	"github.com/syntrixbase/syntrix-offline/pkg/model"
)

// StringMatcher is a query value that tests row values itself, such as a
// *regexp.Regexp.
type StringMatcher interface {
	MatchString(s string) bool
}

var _ StringMatcher = (*regexp.Regexp)(nil)

// RowFilter keeps the rows whose extracted values match every query key.
//
// Each step is a field so callers can replace one without rewriting the
// rest; nil fields use the defaults.
type RowFilter struct {
	// QueryFunc derives the query object from the request.
	// Default: opts.Data.
	QueryFunc func(opts *model.RequestOptions) map[string]interface{}

	// Extract reads the value compared for key from a row.
	// Default: the top-level payload field key of row.Doc.
	Extract func(key string, row model.ViewRow) (interface{}, bool)

	// Match reports whether row satisfies want for key.
	// Default: Extract the value, then Matches it against want.
	Match func(row model.ViewRow, key string, want interface{}) bool
}

var _ Filter = (*RowFilter)(nil)

// NewFilter returns a filter with default behavior.
func NewFilter() *RowFilter {
	return &RowFilter{}
}

// Filter implements Filter. The pagination keys limit and offset never
// filter. An empty query keeps every row.
func (f *RowFilter) Filter(res *model.ViewResult, opts *model.RequestOptions) (*model.ViewResult, error) {
	query := f.query(opts)
	keys := make([]string, 0, len(query))
	for k := range query {
		if k == ParamLimit || k == ParamOffset {
			continue
		}
		keys = append(keys, k)
	}
	if len(keys) == 0 {
		return res, nil
	}

	rows := make([]model.ViewRow, 0, len(res.Rows))
	for _, row := range res.Rows {
		if f.matchesAll(row, keys, query) {
			rows = append(rows, row)
		}
	}
	return &model.ViewResult{Rows: rows, TotalRows: res.TotalRows, Offset: res.Offset}, nil
}

func (f *RowFilter) matchesAll(row model.ViewRow, keys []string, query map[string]interface{}) bool {
	for _, k := range keys {
		if !f.match(row, k, query[k]) {
			return false
		}
	}
	return true
}

func (f *RowFilter) query(opts *model.RequestOptions) map[string]interface{} {
	if f.QueryFunc != nil {
		return f.QueryFunc(opts)
	}
	if opts == nil {
		return nil
	}
	return opts.Data
}

func (f *RowFilter) match(row model.ViewRow, key string, want interface{}) bool {
	if f.Match != nil {
		return f.Match(row, key, want)
	}
	extract := f.Extract
	if extract == nil {
		extract = DocField
	}
	got, ok := extract(key, row)
	if !ok {
		return false
	}
	return Matches(got, want)
}

// DocField reads the top-level payload field key of the row's document.
func DocField(key string, row model.ViewRow) (interface{}, bool) {
	return row.Doc.Field(key)
}

// Matches compares a row value with a query value. A StringMatcher tests the
// value's string form. Otherwise values must be equal under view
// collation, and a numeric string equals the number it spells, so
// query-string parameters compare against decoded JSON numbers.
func Matches(got, want interface{}) bool {
	switch w := want.(type) {
	case StringMatcher:
		if got == nil {
			return false
		}
		s, ok := got.(string)
		if !ok {
			s = fmt.Sprint(got)
		}
		return w.MatchString(s)
	case string:
		if _, isString := got.(string); !isString {
			if n, err := strconv.ParseFloat(w, 64); err == nil {
				return view.Compare(got, n) == 0
			}
			return false
		}
	}
	return view.Compare(got, want) == 0
}
