package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// inBatchSize caps the number of ids per IN clause so a large guild
// roster never produces an oversized statement.
const inBatchSize = 500

// Placeholders returns n comma-joined `?` markers for IN clauses.
func Placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

// FetchIN runs queryTemplate (one %s placeholder for the IN clause)
// over ids in chunks of inBatchSize, handing every row to scan. The
// fixed args precede the chunk ids in every statement.
func (g *Gateway) FetchIN(ctx context.Context, queryTemplate string, fixed []any, ids []any, scan func(*sql.Rows) error) error {
	for i := 0; i < len(ids); i += inBatchSize {
		end := i + inBatchSize
		if end > len(ids) {
			end = len(ids)
		}
		chunk := ids[i:end]
		args := make([]any, 0, len(fixed)+len(chunk))
		args = append(args, fixed...)
		args = append(args, chunk...)
		query := fmt.Sprintf(queryTemplate, Placeholders(len(chunk)))
		if err := g.FetchAll(ctx, query, args, scan); err != nil {
			return err
		}
	}
	return nil
}
