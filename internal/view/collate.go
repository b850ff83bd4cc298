package view

import (
	"fmt"
	"sort"
	"strings"

	"github.com/syntrixbase/syntrix-offline/pkg/model"
)

// Type ranks in ascending collation order.
const (
	rankNull = iota
	rankBool
	rankNumber
	rankString
	rankArray
	rankObject
)

func rank(v interface{}) int {
	switch v.(type) {
	case nil:
		return rankNull
	case bool:
		return rankBool
	case string:
		return rankString
	case []interface{}:
		return rankArray
	case map[string]interface{}:
		return rankObject
	}
	if _, ok := toFloat(v); ok {
		return rankNumber
	}
	return rankString
}

// Compare orders two view keys: null < bool < number < string < array < object.
// Arrays compare element-wise, objects by their sorted keys then values.
func Compare(a, b interface{}) int {
	ra, rb := rank(a), rank(b)
	if ra != rb {
		return ra - rb
	}

	switch ra {
	case rankNull:
		return 0
	case rankBool:
		ab, bb := a.(bool), b.(bool)
		switch {
		case ab == bb:
			return 0
		case !ab:
			return -1
		}
		return 1
	case rankNumber:
		af, _ := toFloat(a)
		bf, _ := toFloat(b)
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		}
		return 0
	case rankString:
		return strings.Compare(toString(a), toString(b))
	case rankArray:
		aa, ba := a.([]interface{}), b.([]interface{})
		for i := 0; i < len(aa) && i < len(ba); i++ {
			if c := Compare(aa[i], ba[i]); c != 0 {
				return c
			}
		}
		return len(aa) - len(ba)
	}

	ao, bo := a.(map[string]interface{}), b.(map[string]interface{})
	ak, bk := sortedKeys(ao), sortedKeys(bo)
	for i := 0; i < len(ak) && i < len(bk); i++ {
		if c := strings.Compare(ak[i], bk[i]); c != 0 {
			return c
		}
		if c := Compare(ao[ak[i]], bo[bk[i]]); c != 0 {
			return c
		}
	}
	return len(ak) - len(bk)
}

func sortedRows(rows []model.ViewRow, descending bool) {
	sort.SliceStable(rows, func(i, j int) bool {
		c := Compare(rows[i].Key, rows[j].Key)
		if c == 0 {
			c = strings.Compare(rows[i].ID, rows[j].ID)
		}
		if descending {
			return c > 0
		}
		return c < 0
	})
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

func toString(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}
