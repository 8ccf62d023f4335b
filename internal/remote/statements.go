package remote

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/medsync/medsync/internal/schema"
)

// dialect captures what differs between the SQL backends.
type dialect struct {
	placeholder func(n int) string
	now         string
	value       func(v any) any
}

var postgresDialect = dialect{
	placeholder: func(n int) string { return fmt.Sprintf("$%d", n) },
	now:         "now()",
	value: func(v any) any {
		if raw, ok := v.(json.RawMessage); ok {
			return string(raw)
		}
		return v
	},
}

var libsqlDialect = dialect{
	placeholder: func(int) string { return "?" },
	now:         "CURRENT_TIMESTAMP",
	value: func(v any) any {
		switch x := v.(type) {
		case json.RawMessage:
			return string(x)
		case time.Time:
			return x.UTC().Format(time.RFC3339Nano)
		case bool:
			if x {
				return 1
			}
			return 0
		}
		return v
	},
}

// insertStatement builds an INSERT returning the server-assigned id.
func (d dialect) insertStatement(e schema.Entity) (string, []any) {
	fields := schema.Fields(e)
	cols := make([]string, 0, len(fields)+1)
	marks := make([]string, 0, len(fields)+1)
	args := make([]any, 0, len(fields)+1)

	for _, f := range fields {
		cols = append(cols, f.Name)
		args = append(args, d.value(f.Value))
		marks = append(marks, d.placeholder(len(args)))
	}
	cols = append(cols, "is_deleted")
	args = append(args, d.value(e.Meta().IsDeleted))
	marks = append(marks, d.placeholder(len(args)))

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING id",
		e.Kind().Plural(), strings.Join(cols, ", "), strings.Join(marks, ", "))
	return query, args
}

// updateStatement builds an UPDATE keyed by the record id.
func (d dialect) updateStatement(e schema.Entity) (string, []any) {
	fields := schema.Fields(e)
	sets := make([]string, 0, len(fields)+2)
	args := make([]any, 0, len(fields)+2)

	for _, f := range fields {
		args = append(args, d.value(f.Value))
		sets = append(sets, fmt.Sprintf("%s = %s", f.Name, d.placeholder(len(args))))
	}
	args = append(args, d.value(e.Meta().IsDeleted))
	sets = append(sets, fmt.Sprintf("is_deleted = %s", d.placeholder(len(args))))
	sets = append(sets, fmt.Sprintf("updated_at = %s", d.now))

	args = append(args, e.Meta().ID)
	query := fmt.Sprintf("UPDATE %s SET %s WHERE id = %s",
		e.Kind().Plural(), strings.Join(sets, ", "), d.placeholder(len(args)))
	return query, args
}
