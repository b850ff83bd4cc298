package view

import (
	"context"
	"fmt"

	"github.com/syntrixbase/syntrix-offline/pkg/model"
)

// ScanFunc walks every document of a store, calling fn for each one.
// Walking stops at the first error returned by fn.
type ScanFunc func(ctx context.Context, fn func(doc *model.Document) error) error

// Execute runs v over the documents produced by scan.
//
// Rows are ordered by key collation, ties broken by document id. Local
// documents are never mapped. When v has a reduce function (and
// SkipReduce is not set) the result holds a single row with a nil key, or no
// rows when nothing was emitted.
func Execute(ctx context.Context, scan ScanFunc, v View, opts QueryOptions) (*model.ViewResult, error) {
	if v.Map == nil {
		return nil, fmt.Errorf("view has no map function")
	}
	reduce := v.Reduce != nil && !opts.SkipReduce
	includeDocs := opts.IncludeDocs && !reduce

	var rows []model.ViewRow
	err := scan(ctx, func(doc *model.Document) error {
		if model.IsLocalID(doc.ID) {
			return nil
		}
		v.Map(doc, func(key, value interface{}) {
			row := model.ViewRow{ID: doc.ID, Key: key, Value: value}
			if includeDocs {
				row.Doc = doc
			}
			rows = append(rows, row)
		})
		return ctx.Err()
	})
	if err != nil {
		return nil, err
	}

	sortedRows(rows, opts.Descending)

	if reduce {
		return reduceRows(rows, v.Reduce)
	}

	total := len(rows)
	start := opts.Skip
	if start > total {
		start = total
	}
	if start < 0 {
		start = 0
	}
	end := total
	if opts.Limit > 0 && start+opts.Limit < end {
		end = start + opts.Limit
	}

	page := make([]model.ViewRow, end-start)
	copy(page, rows[start:end])

	return &model.ViewResult{
		Rows:      page,
		TotalRows: total,
		Offset:    start,
	}, nil
}

func reduceRows(rows []model.ViewRow, fn ReduceFunc) (*model.ViewResult, error) {
	if len(rows) == 0 {
		return &model.ViewResult{Rows: []model.ViewRow{}}, nil
	}

	keys := make([]interface{}, len(rows))
	values := make([]interface{}, len(rows))
	for i, row := range rows {
		keys[i] = []interface{}{row.Key, row.ID}
		values[i] = row.Value
	}

	value, err := fn(keys, values, false)
	if err != nil {
		return nil, fmt.Errorf("reduce failed: %w", err)
	}

	return &model.ViewResult{
		Rows:      []model.ViewRow{{Key: nil, Value: value}},
		TotalRows: 1,
	}, nil
}
