package predicate

import (
	"strings"
	"time"
)

// Row exposes column values for in-process evaluation. A nil value is SQL NULL.
type Row interface {
	Value(field string) (any, bool)
}

// Match evaluates p against row.
func Match(p Predicate, row Row) bool {
	switch node := p.(type) {
	case nil, Always:
		return true
	case Compare:
		value, ok := row.Value(node.Field)
		if !ok {
			return false
		}
		cmp, ok := compareValues(value, node.Value)
		if !ok {
			return false
		}
		switch node.Op {
		case OpEq:
			return cmp == 0
		case OpLt:
			return cmp < 0
		case OpLe:
			return cmp <= 0
		case OpGt:
			return cmp > 0
		case OpGe:
			return cmp >= 0
		}
		return false
	case And:
		return Match(node.Left, row) && Match(node.Right, row)
	case Or:
		return Match(node.Left, row) || Match(node.Right, row)
	}
	return false
}

// compareValues orders a against b; ok is false for NULLs and mismatched kinds.
func compareValues(a, b any) (int, bool) {
	a = deref(a)
	b = deref(b)
	if a == nil || b == nil {
		return 0, false
	}

	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		if !ok {
			return 0, false
		}
		return strings.Compare(av, bv), true
	case time.Time:
		bv, ok := b.(time.Time)
		if !ok {
			return 0, false
		}
		return av.Compare(bv), true
	}

	ai, aok := toInt64(a)
	bi, bok := toInt64(b)
	if !aok || !bok {
		return 0, false
	}
	switch {
	case ai < bi:
		return -1, true
	case ai > bi:
		return 1, true
	}
	return 0, true
}

func deref(v any) any {
	switch pv := v.(type) {
	case *string:
		if pv == nil {
			return nil
		}
		return *pv
	case *time.Time:
		if pv == nil {
			return nil
		}
		return *pv
	}
	return v
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	}
	return 0, false
}
