// Package view implements map/reduce view queries over cached documents.
//
// A view is a typed map function (documents in, emitted rows out) plus an
// optional reduce function. Map functions are plain Go closures or
// data-described matchers compiled by this package; no code is ever
// synthesized from strings.
package view

import (
	"github.com/syntrixbase/syntrix-offline/pkg/model"
)

// EmitFunc records a row for the document currently being mapped.
type EmitFunc func(key, value interface{})

// MapFunc inspects one document and emits zero or more rows for it.
type MapFunc func(doc *model.Document, emit EmitFunc)

// ReduceFunc aggregates emitted rows into a single value.
type ReduceFunc func(keys []interface{}, values []interface{}, rereduce bool) (interface{}, error)

// View is a map function and an optional reduce function.
type View struct {
	Map    MapFunc
	Reduce ReduceFunc
}

// QueryOptions controls view execution.
type QueryOptions struct {
	// IncludeDocs attaches the source document to every row.
	// Ignored when the view is reduced.
	IncludeDocs bool

	// Limit caps the number of returned rows. Zero means no limit.
	Limit int

	// Skip drops the first Skip rows.
	Skip int

	// Descending reverses the row order.
	Descending bool

	// SkipReduce returns the raw mapped rows of a view that has a reduce function.
	SkipReduce bool
}
