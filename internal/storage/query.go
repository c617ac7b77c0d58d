package storage

import (
	"strconv"
	"strings"
)

// dialect captures the placeholder and case-insensitive match differences
// between SQLite and PostgreSQL.
type dialect struct {
	placeholder func(n int) string
	ilike       string
	orderTie    string
}

var (
	sqliteDialect = dialect{
		placeholder: func(int) string { return "?" },
		ilike:       "LIKE", // ASCII case-insensitive in SQLite
		orderTie:    "rowid",
	}
	postgresDialect = dialect{
		placeholder: func(n int) string { return "$" + strconv.Itoa(n) },
		ilike:       "ILIKE",
		orderTie:    "seq",
	}
)

// where renders the filter as a WHERE clause (possibly empty) and its args.
// createdBefore is passed in already converted to the column's type.
func (d dialect) where(f Filter, createdBefore any) (string, []any) {
	var (
		conds []string
		args  []any
	)
	add := func(expr string, v any) {
		args = append(args, v)
		conds = append(conds, strings.ReplaceAll(expr, "?", d.placeholder(len(args))))
	}
	if f.Channel != "" {
		add("channel = ?", string(f.Channel))
	}
	if f.Status != "" {
		add("status = ?", string(f.Status))
	}
	if f.RelatedID != "" {
		add("related_id = ?", f.RelatedID)
	}
	if createdBefore != nil {
		add("created_at < ?", createdBefore)
	}
	if needle := strings.TrimSpace(f.RecipientContains); needle != "" {
		pattern := "%" + escapeLike(needle) + "%"
		args = append(args, pattern)
		ph1 := d.placeholder(len(args))
		args = append(args, pattern)
		ph2 := d.placeholder(len(args))
		conds = append(conds, "(recipient "+d.ilike+" "+ph1+" ESCAPE '\\' OR COALESCE(subject, '') "+d.ilike+" "+ph2+" ESCAPE '\\')")
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func (d dialect) orderLimit(f Filter) string {
	return " ORDER BY created_at DESC, " + d.orderTie + " DESC LIMIT " + strconv.Itoa(f.limit())
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
