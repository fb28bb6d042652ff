// Package dbutil holds the small dialect differences shared by the SQL
// backed stores.
package dbutil

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	Postgres = "postgres"
	MySQL    = "mysql"
	SQLite   = "sqlite"
)

// ValidateDialect rejects dialects the stores do not support.
func ValidateDialect(dialect string) error {
	switch dialect {
	case Postgres, MySQL, SQLite:
		return nil
	default:
		return fmt.Errorf("unsupported dialect: %s (supported: postgres, mysql, sqlite)", dialect)
	}
}

// Rebind converts '?' placeholders to '$n' for postgres.
func Rebind(dialect, query string) string {
	if dialect != Postgres || !strings.Contains(query, "?") {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// Placeholders returns "?, ?, ?" with n entries.
func Placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// Upsert returns the conflict clause that turns an INSERT into an upsert on
// the given key columns, updating the listed columns.
func Upsert(dialect string, keys, update []string) string {
	sets := make([]string, len(update))
	if dialect == MySQL {
		for i, col := range update {
			sets[i] = fmt.Sprintf("%s = VALUES(%s)", col, col)
		}
		return " ON DUPLICATE KEY UPDATE " + strings.Join(sets, ", ")
	}
	for i, col := range update {
		sets[i] = fmt.Sprintf("%s = excluded.%s", col, col)
	}
	return fmt.Sprintf(" ON CONFLICT (%s) DO UPDATE SET %s", strings.Join(keys, ", "), strings.Join(sets, ", "))
}

// LikeEscapeClause goes after a LIKE pattern built with LikeEscape. '!' is
// used because a backslash is itself an escape in MySQL string literals.
const LikeEscapeClause = ` ESCAPE '!'`

var likeReplacer = strings.NewReplacer(`!`, `!!`, `%`, `!%`, `_`, `!_`)

// LikeEscape escapes LIKE wildcards in s.
func LikeEscape(s string) string {
	return likeReplacer.Replace(s)
}
