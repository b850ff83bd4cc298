package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsLocalID(t *testing.T) {
	assert.True(t, IsLocalID("_local/replication/upstream"))
	assert.False(t, IsLocalID("/products/1"))
	assert.False(t, IsLocalID("local/thing"))
}

func TestDocument_Field(t *testing.T) {
	doc := &Document{ID: "/one", Payload: map[string]interface{}{"name": "one"}}

	v, ok := doc.Field("name")
	assert.True(t, ok)
	assert.Equal(t, "one", v)

	_, ok = doc.Field("missing")
	assert.False(t, ok)

	scalar := &Document{ID: "/two", Payload: "/two"}
	_, ok = scalar.Field("name")
	assert.False(t, ok)

	var nilDoc *Document
	_, ok = nilDoc.Field("name")
	assert.False(t, ok)
}

func TestNormalizePayload(t *testing.T) {
	type product struct {
		ID   int    `json:"id"`
		Name string `json:"name"`
	}

	out, err := NormalizePayload(map[string]interface{}{
		"product": product{ID: 1, Name: "chair"},
		"tags":    []string{"a", "b"},
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{
		"product": map[string]interface{}{"id": float64(1), "name": "chair"},
		"tags":    []interface{}{"a", "b"},
	}, out)

	out, err = NormalizePayload(nil)
	require.NoError(t, err)
	assert.Nil(t, out)

	_, err = NormalizePayload(make(chan int))
	assert.Error(t, err)
}

func TestDocument_Clone(t *testing.T) {
	payload := map[string]interface{}{"nested": map[string]interface{}{"n": 1}}
	doc := &Document{ID: "/a", Rev: "1-x", Payload: payload}

	clone, err := doc.Clone()
	require.NoError(t, err)
	assert.Equal(t, "/a", clone.ID)
	assert.Equal(t, "1-x", clone.Rev)

	payload["nested"].(map[string]interface{})["n"] = 2
	n, _ := clone.Field("nested")
	assert.Equal(t, float64(1), n.(map[string]interface{})["n"])
}

func TestRequestOptions_Params(t *testing.T) {
	opts := NewRequestOptions("/products")
	assert.Equal(t, "/products", opts.URI)
	assert.NotNil(t, opts.Data)

	opts.Data["limit"] = 10
	opts.Data["offset"] = "5"
	opts.Data["page"] = float64(2)
	opts.Data["bad"] = "x"

	tests := []struct {
		key    string
		want   int
		wantOK bool
	}{
		{"limit", 10, true},
		{"offset", 5, true},
		{"page", 2, true},
		{"bad", 0, false},
		{"missing", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			got, ok := opts.IntParam(tt.key)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}

	var nilOpts *RequestOptions
	_, ok := nilOpts.Param("limit")
	assert.False(t, ok)
}
