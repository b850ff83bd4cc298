package query

import (
	"github.com/syntrixbase/syntrix-offline/pkg/model"
)

// Filter narrows a view result.
type Filter interface {
	Filter(res *model.ViewResult, opts *model.RequestOptions) (*model.ViewResult, error)
}

// FilterFunc adapts a function to Filter.
type FilterFunc func(res *model.ViewResult, opts *model.RequestOptions) (*model.ViewResult, error)

func (f FilterFunc) Filter(res *model.ViewResult, opts *model.RequestOptions) (*model.ViewResult, error) {
	return f(res, opts)
}

// Formatter turns a view result into the response returned to the caller.
type Formatter interface {
	Format(res *model.ViewResult, opts *model.RequestOptions) (interface{}, error)
}

// FormatterFunc adapts a function to Formatter.
type FormatterFunc func(res *model.ViewResult, opts *model.RequestOptions) (interface{}, error)

func (f FormatterFunc) Format(res *model.ViewResult, opts *model.RequestOptions) (interface{}, error) {
	return f(res, opts)
}

// Identity returns the view result unchanged.
var Identity Formatter = FormatterFunc(func(res *model.ViewResult, _ *model.RequestOptions) (interface{}, error) {
	return res, nil
})
