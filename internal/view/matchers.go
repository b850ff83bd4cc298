package view

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/google/cel-go/cel"
	"github.com/syntrixbase/syntrix-offline/pkg/model"
)

// All emits every document under its id.
func All() MapFunc {
	return func(doc *model.Document, emit EmitFunc) {
		emit(doc.ID, nil)
	}
}

// MatchKeyPrefix emits documents whose id starts with prefix, keyed by id.
func MatchKeyPrefix(prefix string) MapFunc {
	return func(doc *model.Document, emit EmitFunc) {
		if strings.HasPrefix(doc.ID, prefix) {
			emit(doc.ID, nil)
		}
	}
}

// MatchKey emits documents whose id matches re, keyed by id.
func MatchKey(re *regexp.Regexp) MapFunc {
	return func(doc *model.Document, emit EmitFunc) {
		if re.MatchString(doc.ID) {
			emit(doc.ID, nil)
		}
	}
}

// MatchKeyPattern compiles pattern and returns MatchKey for it.
func MatchKeyPattern(pattern string) (MapFunc, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid key pattern %q: %w", pattern, err)
	}
	return MatchKey(re), nil
}

// EmitField wraps mapFn so every row it emits carries the payload field at
// path as its value. Path segments are separated by dots; documents missing
// the field emit a nil value.
func EmitField(mapFn MapFunc, path string) MapFunc {
	parts := strings.Split(path, ".")
	return func(doc *model.Document, emit EmitFunc) {
		mapFn(doc, func(key, _ interface{}) {
			emit(key, lookupPath(doc.Payload, parts))
		})
	}
}

func lookupPath(v interface{}, parts []string) interface{} {
	for _, part := range parts {
		obj, ok := v.(map[string]interface{})
		if !ok {
			return nil
		}
		v = obj[part]
	}
	return v
}

var exprEnv *cel.Env

func init() {
	var err error
	exprEnv, err = cel.NewEnv(
		cel.Variable("doc", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		panic(fmt.Sprintf("view: failed to create CEL environment: %v", err))
	}
}

// Expression compiles a boolean CEL expression into a map function that
// emits matching documents keyed by id. The expression sees the document as
// doc.id and doc.data, e.g. `doc.id.startsWith('/products/') && doc.data.product.price > 10`.
// Documents for which evaluation fails (for example a missing field) are skipped.
func Expression(expr string) (MapFunc, error) {
	ast, issues := exprEnv.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("CEL compile error: %w", issues.Err())
	}
	if out := ast.OutputType(); !out.IsExactType(cel.BoolType) && !out.IsExactType(cel.DynType) {
		return nil, fmt.Errorf("CEL expression must be boolean, got %s", out)
	}

	prg, err := exprEnv.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("CEL program creation error: %w", err)
	}

	return func(doc *model.Document, emit EmitFunc) {
		out, _, err := prg.Eval(map[string]interface{}{
			"doc": map[string]interface{}{
				"id":   doc.ID,
				"data": doc.Payload,
			},
		})
		if err != nil {
			return
		}
		if matched, ok := out.Value().(bool); ok && matched {
			emit(doc.ID, nil)
		}
	}, nil
}
