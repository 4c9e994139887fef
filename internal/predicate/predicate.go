// Package predicate builds filter expressions over notification rows and interprets
// them either as SQL for stores with expression pushdown or in-process against rows.
package predicate

// Column names understood by every table-store backend.
const (
	FieldPartitionKey     = "partition_key"
	FieldRowKey           = "row_key"
	FieldTrackingID       = "tracking_id"
	FieldEmailAccountUsed = "email_account_used"
	FieldStatus           = "status"
	FieldSendOnUtcDate    = "send_on_utc_date"
	FieldCreatedDateTime  = "created_date_time"
	FieldLastModified     = "last_modified"
	FieldTryCount         = "try_count"
)

var knownFields = map[string]struct{}{
	FieldPartitionKey:     {},
	FieldRowKey:           {},
	FieldTrackingID:       {},
	FieldEmailAccountUsed: {},
	FieldStatus:           {},
	FieldSendOnUtcDate:    {},
	FieldCreatedDateTime:  {},
	FieldLastModified:     {},
	FieldTryCount:         {},
}

// Op is a comparison operator.
type Op int

const (
	OpEq Op = iota
	OpLt
	OpLe
	OpGt
	OpGe
)

func (o Op) String() string {
	switch o {
	case OpEq:
		return "="
	case OpLt:
		return "<"
	case OpLe:
		return "<="
	case OpGt:
		return ">"
	case OpGe:
		return ">="
	}
	return "?"
}

// Predicate is one of Always, Compare, And or Or.
type Predicate interface {
	isPredicate()
}

// Always matches every row.
type Always struct{}

// Compare matches rows whose Field compares to Value with Op.
type Compare struct {
	Field string
	Op    Op
	Value any
}

type And struct {
	Left  Predicate
	Right Predicate
}

type Or struct {
	Left  Predicate
	Right Predicate
}

func (Always) isPredicate()  {}
func (Compare) isPredicate() {}
func (And) isPredicate()     {}
func (Or) isPredicate()      {}

func Eq(field string, value any) Predicate { return Compare{Field: field, Op: OpEq, Value: value} }
func Lt(field string, value any) Predicate { return Compare{Field: field, Op: OpLt, Value: value} }
func Le(field string, value any) Predicate { return Compare{Field: field, Op: OpLe, Value: value} }
func Gt(field string, value any) Predicate { return Compare{Field: field, Op: OpGt, Value: value} }
func Ge(field string, value any) Predicate { return Compare{Field: field, Op: OpGe, Value: value} }

// AndAlso conjoins a and b. nil and Always are identity elements.
func AndAlso(a, b Predicate) Predicate {
	if isEmpty(a) {
		return b
	}
	if isEmpty(b) {
		return a
	}
	return And{Left: a, Right: b}
}

// OrElse disjoins a and b. nil is the identity element.
func OrElse(a, b Predicate) Predicate {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return Or{Left: a, Right: b}
}

// AnyOf ORs field equality over values; it returns nil for no values.
func AnyOf[T any](field string, values []T) Predicate {
	var p Predicate
	for _, v := range values {
		p = OrElse(p, Eq(field, v))
	}
	return p
}

func isEmpty(p Predicate) bool {
	if p == nil {
		return true
	}
	_, ok := p.(Always)
	return ok
}
