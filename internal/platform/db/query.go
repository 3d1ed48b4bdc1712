package db

import (
	"fmt"
	"strings"
)

// SearchQuery builds a filtered SELECT and its matching COUNT from the same
// predicate, so pagination totals always agree with the page contents.
type SearchQuery struct {
	table   string
	cols    string
	where   string
	args    []interface{}
	idx     int
	orderBy string
}

// NewSearchQuery creates a SearchQuery. table must already be quoted/qualified.
func NewSearchQuery(table, cols string) *SearchQuery {
	return &SearchQuery{
		table: table,
		cols:  cols,
		idx:   1,
	}
}

// add appends a WHERE fragment whose placeholders start at q.idx.
func (q *SearchQuery) add(clause string, args ...interface{}) {
	q.where += " AND " + clause
	q.args = append(q.args, args...)
	q.idx += len(args)
}

// AddEq adds "column = $n".
func (q *SearchQuery) AddEq(column string, value interface{}) {
	q.add(fmt.Sprintf("%s = $%d", column, q.idx), value)
}

// AddGTE adds "column >= $n".
func (q *SearchQuery) AddGTE(column string, value interface{}) {
	q.add(fmt.Sprintf("%s >= $%d", column, q.idx), value)
}

// AddLTE adds "column <= $n".
func (q *SearchQuery) AddLTE(column string, value interface{}) {
	q.add(fmt.Sprintf("%s <= $%d", column, q.idx), value)
}

// AddLT adds "column < $n", for exclusive upper bounds.
func (q *SearchQuery) AddLT(column string, value interface{}) {
	q.add(fmt.Sprintf("%s < $%d", column, q.idx), value)
}

// AddContainsAny adds a case-insensitive substring match over any of columns.
// One parameter is shared by every column.
func (q *SearchQuery) AddContainsAny(columns []string, term string) {
	if len(columns) == 0 {
		return
	}
	parts := make([]string, len(columns))
	for i, col := range columns {
		parts[i] = fmt.Sprintf("%s ILIKE $%d", col, q.idx)
	}
	q.add("("+strings.Join(parts, " OR ")+")", "%"+escapeLike(term)+"%")
}

// OrderBy sets the ORDER BY clause (without the "ORDER BY" keyword).
func (q *SearchQuery) OrderBy(orderBy string) {
	q.orderBy = orderBy
}

// CountSQL returns the count query SQL.
func (q *SearchQuery) CountSQL() string {
	return fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE 1=1%s", q.table, q.where)
}

// CountArgs returns the arguments for the count query.
func (q *SearchQuery) CountArgs() []interface{} {
	return q.args
}

// DataSQL returns the data query SQL with ORDER BY and LIMIT/OFFSET.
func (q *SearchQuery) DataSQL() string {
	sql := fmt.Sprintf("SELECT %s FROM %s WHERE 1=1%s", q.cols, q.table, q.where)
	if q.orderBy != "" {
		sql += " ORDER BY " + q.orderBy
	}
	sql += fmt.Sprintf(" LIMIT $%d OFFSET $%d", q.idx, q.idx+1)
	return sql
}

// DataArgs returns the arguments for the data query (search args + limit + offset).
func (q *SearchQuery) DataArgs(limit, offset int) []interface{} {
	result := make([]interface{}, len(q.args)+2)
	copy(result, q.args)
	result[len(q.args)] = limit
	result[len(q.args)+1] = offset
	return result
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string { return likeEscaper.Replace(s) }
