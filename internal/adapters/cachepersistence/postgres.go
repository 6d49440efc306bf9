package cachepersistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Amund211/tickerlight/internal/domain"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

type Postgres struct {
	db     *sqlx.DB
	schema string

	tracer trace.Tracer
}

func NewPostgres(db *sqlx.DB, schema string) *Postgres {
	tracer := otel.Tracer("tickerlight/cachepersistence/postgres")

	return &Postgres{
		db:     db,
		schema: schema,

		tracer: tracer,
	}
}

type dbCacheEntry struct {
	CacheKey  string    `db:"cache_key"`
	Data      []byte    `db:"data"`
	StoredAt  time.Time `db:"stored_at"`
	ExpiresAt time.Time `db:"expires_at"`
	Metadata  []byte    `db:"metadata"`
}

func (p *Postgres) inTx(ctx context.Context, f func(txx *sqlx.Tx) error) error {
	txx, err := p.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer txx.Rollback()

	_, err = txx.ExecContext(ctx, fmt.Sprintf("SET LOCAL search_path TO %s", pq.QuoteIdentifier(p.schema)))
	if err != nil {
		return fmt.Errorf("failed to set search path: %w", err)
	}

	if err := f(txx); err != nil {
		return err
	}

	if err := txx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (p *Postgres) Get(ctx context.Context, key string) (domain.CacheEntry, bool, error) {
	ctx, span := p.tracer.Start(ctx, "Postgres.Get")
	defer span.End()

	var row dbCacheEntry
	found := true
	err := p.inTx(ctx, func(txx *sqlx.Tx) error {
		err := txx.GetContext(
			ctx,
			&row,
			"SELECT cache_key, data, stored_at, expires_at, metadata FROM fetch_cache WHERE cache_key = $1",
			key,
		)
		if errors.Is(err, sql.ErrNoRows) {
			found = false
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to select cache entry: %w", err)
		}
		return nil
	})
	if err != nil {
		return domain.CacheEntry{}, false, err
	}
	if !found {
		return domain.CacheEntry{}, false, nil
	}

	var metadata map[string]string
	if len(row.Metadata) > 0 {
		if err := json.Unmarshal(row.Metadata, &metadata); err != nil {
			return domain.CacheEntry{}, false, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}

	return domain.CacheEntry{
		Key:       row.CacheKey,
		Value:     row.Data,
		StoredAt:  row.StoredAt,
		ExpiresAt: row.ExpiresAt,
		Metadata:  metadata,
	}, true, nil
}

func (p *Postgres) Upsert(ctx context.Context, entry domain.CacheEntry) error {
	ctx, span := p.tracer.Start(ctx, "Postgres.Upsert")
	defer span.End()

	metadata, err := json.Marshal(entry.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	return p.inTx(ctx, func(txx *sqlx.Tx) error {
		_, err := txx.ExecContext(
			ctx,
			`INSERT INTO fetch_cache
			(cache_key, data, stored_at, expires_at, metadata)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (cache_key)
			DO UPDATE SET
				data = EXCLUDED.data,
				stored_at = EXCLUDED.stored_at,
				expires_at = EXCLUDED.expires_at,
				metadata = EXCLUDED.metadata`,
			entry.Key,
			entry.Value,
			entry.StoredAt,
			entry.ExpiresAt,
			metadata,
		)
		if err != nil {
			return fmt.Errorf("failed to upsert cache entry: %w", err)
		}
		return nil
	})
}

func (p *Postgres) DeleteByKey(ctx context.Context, key string) error {
	ctx, span := p.tracer.Start(ctx, "Postgres.DeleteByKey")
	defer span.End()

	return p.inTx(ctx, func(txx *sqlx.Tx) error {
		_, err := txx.ExecContext(ctx, "DELETE FROM fetch_cache WHERE cache_key = $1", key)
		if err != nil {
			return fmt.Errorf("failed to delete cache entry: %w", err)
		}
		return nil
	})
}

// escapeLike makes prefix match literally in a LIKE pattern
func escapeLike(prefix string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(prefix)
}

func (p *Postgres) DeleteByPrefix(ctx context.Context, prefix string) (int, error) {
	ctx, span := p.tracer.Start(ctx, "Postgres.DeleteByPrefix")
	defer span.End()

	return p.deleteWhere(ctx, span, `DELETE FROM fetch_cache WHERE cache_key LIKE $1 ESCAPE '\'`, escapeLike(prefix)+"%")
}

func (p *Postgres) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	ctx, span := p.tracer.Start(ctx, "Postgres.DeleteExpired")
	defer span.End()

	return p.deleteWhere(ctx, span, "DELETE FROM fetch_cache WHERE expires_at <= $1", now)
}

func (p *Postgres) deleteWhere(ctx context.Context, span trace.Span, query string, arg any) (int, error) {
	var removed int64
	err := p.inTx(ctx, func(txx *sqlx.Tx) error {
		result, err := txx.ExecContext(ctx, query, arg)
		if err != nil {
			return fmt.Errorf("failed to delete cache entries: %w", err)
		}
		removed, err = result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to count deleted cache entries: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	span.SetAttributes(attribute.Int64("removed", removed))
	return int(removed), nil
}
