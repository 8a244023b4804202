package db

import (
	"fmt"
	"strings"
)

// ListQuery builds a filtered, paginated SELECT with a matching COUNT(*).
// Clauses use ? placeholders, numbered in the order they are added.
type ListQuery struct {
	table   string
	cols    string
	where   string
	args    []interface{}
	orderBy string
}

func NewListQuery(table, cols string) *ListQuery {
	return &ListQuery{table: table, cols: cols}
}

// Where appends "AND clause". Each ? in clause consumes one arg.
func (q *ListQuery) Where(clause string, args ...interface{}) *ListQuery {
	var b strings.Builder
	n := 0
	for _, r := range clause {
		if r == '?' && n < len(args) {
			fmt.Fprintf(&b, "$%d", len(q.args)+n+1)
			n++
			continue
		}
		b.WriteRune(r)
	}
	q.where += " AND " + b.String()
	q.args = append(q.args, args...)
	return q
}

func (q *ListQuery) OrderBy(orderBy string) *ListQuery {
	q.orderBy = orderBy
	return q
}

func (q *ListQuery) CountSQL() string {
	return fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE 1=1%s", q.table, q.where)
}

func (q *ListQuery) CountArgs() []interface{} {
	return q.args
}

// DataSQL returns the SELECT with ORDER BY and, when limit > 0, LIMIT/OFFSET.
func (q *ListQuery) DataSQL(limit int) string {
	sql := fmt.Sprintf("SELECT %s FROM %s WHERE 1=1%s", q.cols, q.table, q.where)
	if q.orderBy != "" {
		sql += " ORDER BY " + q.orderBy
	}
	if limit > 0 {
		sql += fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(q.args)+1, len(q.args)+2)
	}
	return sql
}

func (q *ListQuery) DataArgs(limit, offset int) []interface{} {
	if limit <= 0 {
		return q.args
	}
	result := make([]interface{}, len(q.args)+2)
	copy(result, q.args)
	result[len(q.args)] = limit
	result[len(q.args)+1] = offset
	return result
}
