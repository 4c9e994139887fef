package predicate

import (
	"fmt"
	"strings"
)

// ToSQL renders p as a SQL boolean expression with ? placeholders.
func ToSQL(p Predicate) (string, []any, error) {
	var (
		b    strings.Builder
		args []any
	)
	if err := writeSQL(&b, &args, p); err != nil {
		return "", nil, err
	}
	return b.String(), args, nil
}

func writeSQL(b *strings.Builder, args *[]any, p Predicate) error {
	switch node := p.(type) {
	case nil, Always:
		b.WriteString("1 = 1")
	case Compare:
		if _, ok := knownFields[node.Field]; !ok {
			return fmt.Errorf("unknown predicate field %q", node.Field)
		}
		if node.Op < OpEq || node.Op > OpGe {
			return fmt.Errorf("unknown predicate operator %d", node.Op)
		}
		fmt.Fprintf(b, "%s %s ?", node.Field, node.Op)
		*args = append(*args, node.Value)
	case And:
		return writeBinary(b, args, node.Left, node.Right, "AND")
	case Or:
		return writeBinary(b, args, node.Left, node.Right, "OR")
	default:
		return fmt.Errorf("unsupported predicate %T", p)
	}
	return nil
}

func writeBinary(b *strings.Builder, args *[]any, left, right Predicate, keyword string) error {
	b.WriteString("(")
	if err := writeSQL(b, args, left); err != nil {
		return err
	}
	b.WriteString(" " + keyword + " ")
	if err := writeSQL(b, args, right); err != nil {
		return err
	}
	b.WriteString(")")
	return nil
}
