package matcher

import (
	"encoding/json"
	"math"
	"reflect"
	"strconv"
	"strings"

	"github.com/okian/kudos/internal/domain/catalog"
)

// Compare applies op to actual and expected. Numbers compare numerically
// regardless of their Go type, strings compare lexically, and mismatched
// kinds are false. contains is substring on strings and membership on
// sequences and sets.
func Compare(actual any, op catalog.Operator, expected any) bool {
	switch op {
	case catalog.OpEq:
		return equal(actual, expected)
	case catalog.OpGte, catalog.OpLte, catalog.OpGt, catalog.OpLt:
		c, ok := order(actual, expected)
		if !ok {
			return false
		}
		switch op {
		case catalog.OpGte:
			return c >= 0
		case catalog.OpLte:
			return c <= 0
		case catalog.OpGt:
			return c > 0
		default:
			return c < 0
		}
	case catalog.OpContains:
		return contains(actual, expected)
	default:
		return false
	}
}

func equal(a, b any) bool {
	if x, ok := Number(a); ok {
		y, ok := Number(b)
		return ok && x == y
	}
	switch x := a.(type) {
	case string:
		y, ok := b.(string)
		return ok && x == y
	case bool:
		y, ok := b.(bool)
		return ok && x == y
	case nil:
		return b == nil
	}
	return false
}

func order(a, b any) (int, bool) {
	if x, ok := Number(a); ok {
		y, ok := Number(b)
		if !ok {
			return 0, false
		}
		switch {
		case x < y:
			return -1, true
		case x > y:
			return 1, true
		default:
			return 0, true
		}
	}
	x, ok := a.(string)
	if !ok {
		return 0, false
	}
	y, ok := b.(string)
	if !ok {
		return 0, false
	}
	return strings.Compare(x, y), true
}

func contains(actual, expected any) bool {
	switch a := actual.(type) {
	case string:
		e, ok := expected.(string)
		return ok && strings.Contains(a, e)
	case []string:
		for _, v := range a {
			if equal(v, expected) {
				return true
			}
		}
		return false
	case []any:
		for _, v := range a {
			if equal(v, expected) {
				return true
			}
		}
		return false
	case map[string]any:
		key, ok := expected.(string)
		if !ok {
			return false
		}
		_, found := a[key]
		return found
	case map[string]int:
		key, ok := expected.(string)
		if !ok {
			return false
		}
		_, found := a[key]
		return found
	}

	// other map or slice shapes, e.g. map[string]bool sets
	rv := reflect.ValueOf(actual)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		for i := 0; i < rv.Len(); i++ {
			if equal(rv.Index(i).Interface(), expected) {
				return true
			}
		}
	case reflect.Map:
		key, ok := expected.(string)
		if !ok || rv.Type().Key().Kind() != reflect.String {
			return false
		}
		return rv.MapIndex(reflect.ValueOf(key).Convert(rv.Type().Key())).IsValid()
	}
	return false
}

// Number converts any Go numeric value to float64. Strings are not numbers
// here; NaN never compares.
func Number(v any) (float64, bool) {
	var f float64
	switch n := v.(type) {
	case int:
		f = float64(n)
	case int8:
		f = float64(n)
	case int16:
		f = float64(n)
	case int32:
		f = float64(n)
	case int64:
		f = float64(n)
	case uint:
		f = float64(n)
	case uint8:
		f = float64(n)
	case uint16:
		f = float64(n)
	case uint32:
		f = float64(n)
	case uint64:
		f = float64(n)
	case float32:
		f = float64(n)
	case float64:
		f = n
	case json.Number:
		x, err := n.Float64()
		if err != nil {
			return 0, false
		}
		f = x
	default:
		return 0, false
	}
	if math.IsNaN(f) {
		return 0, false
	}
	return f, true
}

// MetadataXP reads an XP bonus: any number or numeric string, truncated to
// an integer. Anything else, and negative or non-finite values, is 0.
func MetadataXP(v any) int64 {
	f, ok := Number(v)
	if !ok {
		s, isString := v.(string)
		if !isString {
			return 0
		}
		x, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return 0
		}
		f = x
	}
	if math.IsNaN(f) || math.IsInf(f, 0) || f <= 0 || f > math.MaxInt64/2 {
		return 0
	}
	return int64(f)
}
