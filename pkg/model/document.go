package model

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// LocalPrefix marks documents that belong to the local store only.
// Views and change feeds never surface them.
const LocalPrefix = "_local/"

// IsLocalID reports whether id names a local-only document.
func IsLocalID(id string) bool {
	return strings.HasPrefix(id, LocalPrefix)
}

// Document is a cached document: an opaque payload keyed by id.
//
//	"_id" is the document key (for cached resources, the request URI).
//	"_rev" is the store-assigned revision, empty until the document is written.
//	"data" is the payload.
type Document struct {
	ID      string      `json:"_id" bson:"_id"`
	Rev     string      `json:"_rev,omitempty" bson:"rev,omitempty"`
	Payload interface{} `json:"data" bson:"data"`
}

// Field returns the top-level payload field named key.
// It returns false when the payload is not an object or lacks the field.
func (doc *Document) Field(key string) (interface{}, bool) {
	if doc == nil {
		return nil, false
	}
	obj, ok := doc.Payload.(map[string]interface{})
	if !ok {
		return nil, false
	}
	v, ok := obj[key]
	return v, ok
}

// Clone returns a deep copy of the document with a normalized payload.
func (doc *Document) Clone() (*Document, error) {
	payload, err := NormalizePayload(doc.Payload)
	if err != nil {
		return nil, err
	}
	return &Document{ID: doc.ID, Rev: doc.Rev, Payload: payload}, nil
}

// NormalizePayload converts v into its generic JSON shape
// (map[string]interface{}, []interface{}, float64, string, bool or nil).
// Every store backend returns payloads in this shape.
func NormalizePayload(v interface{}) (interface{}, error) {
	if v == nil {
		return nil, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode payload: %w", err)
	}
	var out interface{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("failed to decode payload: %w", err)
	}
	return out, nil
}

// ViewRow is a single row emitted by a view query.
type ViewRow struct {
	ID    string      `json:"id,omitempty"`
	Key   interface{} `json:"key"`
	Value interface{} `json:"value"`
	Doc   *Document   `json:"doc,omitempty"`
}

// ViewResult is the output of a view query.
type ViewResult struct {
	Rows      []ViewRow `json:"rows"`
	TotalRows int       `json:"total_rows"`
	Offset    int       `json:"offset,omitempty"`
}

// RequestOptions carries the request URI and its query parameters.
type RequestOptions struct {
	URI  string                 `json:"uri"`
	Data map[string]interface{} `json:"data"`
}

// NewRequestOptions returns options for uri with an empty data bag.
func NewRequestOptions(uri string) *RequestOptions {
	return &RequestOptions{URI: uri, Data: map[string]interface{}{}}
}

// Param returns the data parameter named key.
func (o *RequestOptions) Param(key string) (interface{}, bool) {
	if o == nil || o.Data == nil {
		return nil, false
	}
	v, ok := o.Data[key]
	return v, ok
}

// IntParam returns the data parameter named key as an int.
// Numeric strings are accepted; anything else reports false.
func (o *RequestOptions) IntParam(key string) (int, bool) {
	v, ok := o.Param(key)
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case int:
		return n, true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	case string:
		i, err := strconv.Atoi(n)
		if err != nil {
			return 0, false
		}
		return i, true
	}
	return 0, false
}
