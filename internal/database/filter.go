package database

import (
	"strings"

	"asset-ledger-go/internal/models"
)

// Where accumulates optional equality and range predicates for list queries.
type Where struct {
	clauses []string
	args    []any
}

// Eq adds "col = value" unless value is empty.
func (w *Where) Eq(col, value string) *Where {
	if value != "" {
		w.clauses = append(w.clauses, col+" = ?")
		w.args = append(w.args, value)
	}
	return w
}

// Between bounds col by the non-zero ends of r, both inclusive.
func (w *Where) Between(col string, r models.TimeRange) *Where {
	if !r.From.IsZero() {
		w.clauses = append(w.clauses, col+" >= ?")
		w.args = append(w.args, r.From.UTC())
	}
	if !r.To.IsZero() {
		w.clauses = append(w.clauses, col+" <= ?")
		w.args = append(w.args, r.To.UTC())
	}
	return w
}

func (w *Where) SQL() string {
	if len(w.clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.clauses, " AND ")
}

func (w *Where) Args() []any {
	return append([]any(nil), w.args...)
}

// Paged returns the args followed by limit and offset.
func (w *Where) Paged(p models.Page) []any {
	return append(w.Args(), p.Limit, p.Offset)
}
