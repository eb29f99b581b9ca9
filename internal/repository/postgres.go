// Package repository содержит реализацию доступа к данным в PostgreSQL:
// сессии диалогов, сегменты дисконтных карт и журналы аудита и публикаций.
package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"retail-assistant/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrSessionNotFound возвращается, если сессия пользователя ещё не создана.
var ErrSessionNotFound = errors.New("session not found")

// PostgresRepository предоставляет доступ к хранилищу данных в PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository создаёт новый репозиторий и инициализирует схему БД через миграции.
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRepository{pool: pool}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

func (r *PostgresRepository) withRetry(ctx context.Context, fn func() error) error {
	var err error
	delays := []time.Duration{1 * time.Second, 3 * time.Second, 5 * time.Second}

	for i := 0; i <= len(delays); i++ {
		err = fn()
		if err == nil {
			return nil
		}

		// Если ошибка контекста — выходим сразу
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			// Ретраи полезны для Serialization Failure или Deadlocks.
			if pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected {
				if i < len(delays) {
					time.Sleep(delays[i])
					continue
				}
			}
		}

		if isConnectionError(err) {
			if i < len(delays) {
				time.Sleep(delays[i])
				continue
			}
		}

		break
	}
	return err
}

func isConnectionError(err error) bool {
	// Упрощенная проверка на ошибки соединения
	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset by peer")
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// Ping проверяет доступность БД.
func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// UpsertUser регистрирует пользователя при первом обращении к боту.
func (r *PostgresRepository) UpsertUser(ctx context.Context, identity int64, username string) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO users (identity, username) VALUES ($1, $2)
		 ON CONFLICT (identity) DO UPDATE SET username = EXCLUDED.username`,
		identity, username,
	)
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

// GetSession возвращает сессию пользователя.
func (r *PostgresRepository) GetSession(ctx context.Context, identity int64) (*model.Session, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT identity, state, pending, updated_at FROM sessions WHERE identity = $1`,
		identity,
	)

	var s model.Session
	err := row.Scan(&s.Identity, &s.State, &s.Pending, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("get session: %w", err)
	}

	return &s, nil
}

// SaveSession сохраняет состояние сессии пользователя.
func (r *PostgresRepository) SaveSession(ctx context.Context, s *model.Session) error {
	err := r.withRetry(ctx, func() error {
		_, err := r.pool.Exec(ctx,
			`INSERT INTO sessions (identity, state, pending, updated_at)
			 VALUES ($1, $2, $3, now())
			 ON CONFLICT (identity) DO UPDATE
			 SET state = EXCLUDED.state, pending = EXCLUDED.pending, updated_at = now()`,
			s.Identity, string(s.State), s.Pending,
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// AddSegmentMember идемпотентно добавляет пользователя в сегмент.
// Возвращает true, если запись была создана, и false, если она уже существовала.
func (r *PostgresRepository) AddSegmentMember(ctx context.Context, segment model.SegmentID, identity int64) (bool, error) {
	var inserted bool
	err := r.withRetry(ctx, func() error {
		cmdTag, err := r.pool.Exec(ctx,
			`INSERT INTO segment_members (segment, identity) VALUES ($1, $2)
			 ON CONFLICT (segment, identity) DO NOTHING`,
			string(segment), identity,
		)
		if err != nil {
			return err
		}
		inserted = cmdTag.RowsAffected() == 1
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("add segment member: %w", err)
	}
	return inserted, nil
}

// SegmentMembers возвращает список пользователей сегмента.
func (r *PostgresRepository) SegmentMembers(ctx context.Context, segment model.SegmentID) ([]int64, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT identity FROM segment_members WHERE segment = $1 ORDER BY identity`,
		string(segment),
	)
	if err != nil {
		return nil, fmt.Errorf("select segment members: %w", err)
	}
	defer rows.Close()

	return scanIdentities(rows)
}

// AllIdentities возвращает всех известных боту пользователей.
func (r *PostgresRepository) AllIdentities(ctx context.Context) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT identity FROM users ORDER BY identity`)
	if err != nil {
		return nil, fmt.Errorf("select identities: %w", err)
	}
	defer rows.Close()

	return scanIdentities(rows)
}

func scanIdentities(rows pgx.Rows) ([]int64, error) {
	var res []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan identity: %w", err)
		}
		res = append(res, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return res, nil
}

// MemberSegment возвращает сегмент дисконтной карты пользователя.
// Пустой результат означает, что карта не привязана.
func (r *PostgresRepository) MemberSegment(ctx context.Context, identity int64) (model.SegmentID, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT segment FROM segment_members WHERE identity = $1 ORDER BY added_at LIMIT 1`,
		identity,
	)

	var segment string
	err := row.Scan(&segment)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("member segment: %w", err)
	}
	return model.SegmentID(segment), nil
}

// SaveMasterCard сохраняет номер карты Мастер для пользователя.
func (r *PostgresRepository) SaveMasterCard(ctx context.Context, identity int64, cardNumber string) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO master_cards (identity, card_number) VALUES ($1, $2)
		 ON CONFLICT (identity) DO UPDATE SET card_number = EXCLUDED.card_number`,
		identity, cardNumber,
	)
	if err != nil {
		return fmt.Errorf("save master card: %w", err)
	}
	return nil
}

// MasterCard возвращает сохранённый номер карты Мастер пользователя.
func (r *PostgresRepository) MasterCard(ctx context.Context, identity int64) (string, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT card_number FROM master_cards WHERE identity = $1`,
		identity,
	)

	var number string
	err := row.Scan(&number)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("master card: %w", err)
	}
	return number, nil
}

// LinkCard привязывает пользователя к сегменту. Для сегмента Мастер номер
// карты сохраняется для запросов баланса в той же транзакции, что и членство.
func (r *PostgresRepository) LinkCard(ctx context.Context, segment model.SegmentID, identity int64, cardNumber string) error {
	if segment != model.SegmentMaster {
		if _, err := r.AddSegmentMember(ctx, segment, identity); err != nil {
			return fmt.Errorf("link card: %w", err)
		}
		return nil
	}

	err := r.withRetry(ctx, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		_, err = tx.Exec(ctx,
			`INSERT INTO segment_members (segment, identity) VALUES ($1, $2)
			 ON CONFLICT (segment, identity) DO NOTHING`,
			string(segment), identity,
		)
		if err != nil {
			return fmt.Errorf("insert member: %w", err)
		}

		_, err = tx.Exec(ctx,
			`INSERT INTO master_cards (identity, card_number) VALUES ($1, $2)
			 ON CONFLICT (identity) DO UPDATE SET card_number = EXCLUDED.card_number`,
			identity, cardNumber,
		)
		if err != nil {
			return fmt.Errorf("insert master card: %w", err)
		}

		return tx.Commit(ctx)
	})
	if err != nil {
		return fmt.Errorf("link card: %w", err)
	}
	return nil
}

// AppendAudit добавляет запись в журнал аудита.
func (r *PostgresRepository) AppendAudit(ctx context.Context, rec *model.AuditRecord) error {
	err := r.withRetry(ctx, func() error {
		_, err := r.pool.Exec(ctx,
			`INSERT INTO audit_events (identity, segment, action, is_search, occurred_at, query, success)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			rec.Identity, string(rec.Segment), int(rec.Action), rec.IsSearch,
			rec.OccurredAt, rec.Query, rec.Success,
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("append audit: %w", err)
	}
	return nil
}

// AppendPublication добавляет запись в журнал публикаций рассылки.
func (r *PostgresRepository) AppendPublication(ctx context.Context, p *model.Publication) error {
	err := r.withRetry(ctx, func() error {
		_, err := r.pool.Exec(ctx,
			`INSERT INTO publications (message_id, kind, segment, recipient, published_at)
			 VALUES ($1, $2, $3, $4, $5)`,
			p.MessageID, int(p.Kind), string(p.Segment), p.Recipient, p.PublishedAt,
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("append publication: %w", err)
	}
	return nil
}
