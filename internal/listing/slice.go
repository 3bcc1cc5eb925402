package listing

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Field returns the value of column for an item, or nil when the item has no
// such column.
type Field[T any] func(item T, column string) any

// Slice applies p to an in-memory collection with the same semantics Apply
// gives a SQL query. It backs the in-memory repositories used in tests.
func Slice[T any](items []T, p Params, field Field[T]) []T {
	out := make([]T, 0, len(items))
	for _, it := range items {
		if matches(it, p.Filters, field) {
			out = append(out, it)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if p.OrderColumn != "" {
			c := compare(field(out[i], p.OrderColumn), field(out[j], p.OrderColumn))
			if c != 0 {
				if p.Desc {
					return c > 0
				}
				return c < 0
			}
		}
		if p.TieBreak != "" && p.TieBreak != p.OrderColumn {
			if c := compare(field(out[i], p.TieBreak), field(out[j], p.TieBreak)); c != 0 {
				return c < 0
			}
		}
		return compare(field(out[i], "id"), field(out[j], "id")) < 0
	})

	if p.Offset >= len(out) {
		return []T{}
	}
	out = out[p.Offset:]
	if p.Limit > 0 && len(out) > p.Limit {
		out = out[:p.Limit]
	}
	return out
}

func matches[T any](it T, filters []Filter, field Field[T]) bool {
	for _, f := range filters {
		v := format(field(it, f.Column))
		switch f.Kind {
		case Prefix:
			if !strings.HasPrefix(v, f.Value) {
				return false
			}
		default:
			if v != f.Value {
				return false
			}
		}
	}
	return true
}

func format(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case *string:
		if x == nil {
			return ""
		}
		return *x
	case bool:
		return strconv.FormatBool(x)
	case uuid.UUID:
		return x.String()
	case *uuid.UUID:
		if x == nil {
			return ""
		}
		return x.String()
	case fmt.Stringer:
		return x.String()
	default:
		return fmt.Sprint(x)
	}
}

// compare orders values of the same dynamic type. Nil sorts first.
func compare(a, b any) int {
	a, b = deref(a), deref(b)
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}

	switch x := a.(type) {
	case int:
		return cmpOrdered(x, b.(int))
	case float64:
		return cmpOrdered(x, b.(float64))
	case time.Time:
		return x.Compare(b.(time.Time))
	case bool:
		return cmpOrdered(strconv.FormatBool(x), strconv.FormatBool(b.(bool)))
	default:
		return cmpOrdered(format(a), format(b))
	}
}

func deref(v any) any {
	switch x := v.(type) {
	case *time.Time:
		if x == nil {
			return nil
		}
		return *x
	case *float64:
		if x == nil {
			return nil
		}
		return *x
	case *int:
		if x == nil {
			return nil
		}
		return *x
	case *string:
		if x == nil {
			return nil
		}
		return *x
	case *uuid.UUID:
		if x == nil {
			return nil
		}
		return *x
	}
	return v
}

func cmpOrdered[T int | float64 | string](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
