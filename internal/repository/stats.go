// Статистические запросы к журналам аудита и публикаций. Все запросы
// только читают данные; полнота журнала гарантируется конечным автоматом.
package repository

import (
	"context"
	"fmt"

	"retail-assistant/internal/model"
)

// QueryCount — поисковый запрос и число его повторений.
type QueryCount struct {
	Query string
	Count int64
}

// ActivityBucket — окно активности: день недели, час и число событий.
type ActivityBucket struct {
	Weekday int
	Hour    int
	Count   int64
}

// CountConsent возвращает число уникальных пользователей, давших (success=true)
// либо не давших согласие на обработку данных.
func (r *PostgresRepository) CountConsent(ctx context.Context, agreed bool) (int64, error) {
	var n int64
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(DISTINCT identity) FROM audit_events WHERE action = $1 AND success = $2`,
		int(model.ActionConsent), agreed,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count consent: %w", err)
	}
	return n, nil
}

// CountAction возвращает число успешных событий с указанным кодом действия.
func (r *PostgresRepository) CountAction(ctx context.Context, action model.ActionCode) (int64, error) {
	var n int64
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM audit_events WHERE action = $1 AND success = TRUE`,
		int(action),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count action: %w", err)
	}
	return n, nil
}

// CountUsers возвращает общее число известных боту пользователей.
func (r *PostgresRepository) CountUsers(ctx context.Context) (int64, error) {
	var n int64
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM users`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count users: %w", err)
	}
	return n, nil
}

// CountUsersInSegment возвращает число пользователей в сегменте.
func (r *PostgresRepository) CountUsersInSegment(ctx context.Context, segment model.SegmentID) (int64, error) {
	var n int64
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM segment_members WHERE segment = $1`,
		string(segment),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count segment users: %w", err)
	}
	return n, nil
}

// CountUsersWithCard возвращает число пользователей хотя бы с одной картой.
func (r *PostgresRepository) CountUsersWithCard(ctx context.Context) (int64, error) {
	var n int64
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(DISTINCT identity) FROM segment_members`,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count users with card: %w", err)
	}
	return n, nil
}

// CountUsersWithoutCard возвращает число пользователей без дисконтной карты.
func (r *PostgresRepository) CountUsersWithoutCard(ctx context.Context) (int64, error) {
	var n int64
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM users u
		 WHERE NOT EXISTS (SELECT 1 FROM segment_members m WHERE m.identity = u.identity)`,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count users without card: %w", err)
	}
	return n, nil
}

// PopularQueries возвращает самые частые поисковые запросы.
func (r *PostgresRepository) PopularQueries(ctx context.Context, limit int) ([]QueryCount, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT query, COUNT(*) AS cnt FROM audit_events
		 WHERE is_search = TRUE AND query IS NOT NULL AND query <> ''
		 GROUP BY query
		 ORDER BY cnt DESC
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select popular queries: %w", err)
	}
	defer rows.Close()

	var res []QueryCount
	for rows.Next() {
		var q QueryCount
		if err := rows.Scan(&q.Query, &q.Count); err != nil {
			return nil, fmt.Errorf("scan query: %w", err)
		}
		res = append(res, q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return res, nil
}

// PeakActivity возвращает окна наибольшей поисковой активности по дням
// недели и часам.
func (r *PostgresRepository) PeakActivity(ctx context.Context, limit int) ([]ActivityBucket, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT EXTRACT(ISODOW FROM occurred_at)::int AS weekday,
		        EXTRACT(HOUR FROM occurred_at)::int AS hour,
		        COUNT(*) AS cnt
		 FROM audit_events
		 WHERE is_search = TRUE
		 GROUP BY weekday, hour
		 ORDER BY cnt DESC
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select peak activity: %w", err)
	}
	defer rows.Close()

	var res []ActivityBucket
	for rows.Next() {
		var b ActivityBucket
		if err := rows.Scan(&b.Weekday, &b.Hour, &b.Count); err != nil {
			return nil, fmt.Errorf("scan bucket: %w", err)
		}
		res = append(res, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return res, nil
}

// CountPublications возвращает число уникальных публикаций рассылки,
// при kind = 0 — по всем типам содержимого.
func (r *PostgresRepository) CountPublications(ctx context.Context, kind model.PayloadKind) (int64, error) {
	query := `SELECT COUNT(DISTINCT message_id) FROM publications`
	args := []any{}
	if kind != 0 {
		query += ` WHERE kind = $1`
		args = append(args, int(kind))
	}

	var n int64
	if err := r.pool.QueryRow(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count publications: %w", err)
	}
	return n, nil
}
