package db

import (
	"context"
	"fmt"
)

type Count struct {
	Value string
	Count int
}

// Summary is the collection overview printed by verify_db.
type Summary struct {
	Total      int
	AddedToday int
	BySource   []Count
	ByStatus   []Count
}

func (s *Store) Summary(ctx context.Context) (Summary, error) {
	var sum Summary
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*), COUNT(*) FILTER (WHERE created_at >= date_trunc('day', NOW()))
		FROM opportunities`).Scan(&sum.Total, &sum.AddedToday)
	if err != nil {
		return sum, fmt.Errorf("count opportunities: %w", err)
	}

	if sum.BySource, err = s.countBy(ctx, "source"); err != nil {
		return sum, err
	}
	if sum.ByStatus, err = s.countBy(ctx, "status"); err != nil {
		return sum, err
	}
	return sum, nil
}

// countBy groups on a fixed column name, never user input.
func (s *Store) countBy(ctx context.Context, column string) ([]Count, error) {
	rows, err := s.pool.Query(ctx, fmt.Sprintf(
		"SELECT %[1]s, COUNT(*) FROM opportunities GROUP BY %[1]s ORDER BY COUNT(*) DESC, %[1]s", column))
	if err != nil {
		return nil, fmt.Errorf("count by %s: %w", column, err)
	}
	defer rows.Close()

	var out []Count
	for rows.Next() {
		var c Count
		if err := rows.Scan(&c.Value, &c.Count); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
