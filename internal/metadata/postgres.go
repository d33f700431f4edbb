package metadata

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// albumRow mirrors one row of the albums table backing
// PostgresResolver. Left as a plain struct (no sql.Null* fields)
// because every column here is NOT NULL in the schema this resolver
// owns; that nullable-handling idiom only pays for itself on the
// richer, externally-owned metadata schema this service explicitly
// does not implement.
type albumRow struct {
	id          uuid.UUID
	catalog     string
	releaseDate string
	discCount   int
	title       string
}

// PostgresResolver is a concrete Resolver backed by Postgres, intended
// for standalone deployments that don't wire in a dedicated metadata
// service. It rebuilds its whole index on Reload and swaps it in
// behind a read-write lock, the same copy-then-swap discipline the
// provider indexes themselves use.
type PostgresResolver struct {
	pool *pgxpool.Pool
	log  *slog.Logger

	mu   sync.RWMutex
	rows []albumRow
}

// NewPostgresResolver connects to dsn and returns a resolver with an
// empty index; call Reload before first use.
func NewPostgresResolver(ctx context.Context, dsn string, log *slog.Logger) (*PostgresResolver, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("metadata: connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("metadata: ping postgres: %w", err)
	}
	if log == nil {
		log = slog.Default()
	}
	return &PostgresResolver{pool: pool, log: log}, nil
}

// Close releases the underlying connection pool.
func (r *PostgresResolver) Close() {
	r.pool.Close()
}

// EnsureSchema creates the albums table if it doesn't already exist,
// matching the teacher's self-healing migration style without pulling
// in a full migration framework for a single table.
func (r *PostgresResolver) EnsureSchema(ctx context.Context) error {
	_, err := r.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS albums (
			id uuid PRIMARY KEY,
			catalog text NOT NULL,
			release_date text NOT NULL,
			disc_count smallint NOT NULL,
			title text NOT NULL
		)`)
	if err != nil {
		return fmt.Errorf("metadata: ensure schema: %w", err)
	}
	return nil
}

// Reload re-reads the entire albums table into memory.
func (r *PostgresResolver) Reload(ctx context.Context) error {
	rows, err := r.pool.Query(ctx, `SELECT id, catalog, release_date, disc_count, title FROM albums`)
	if err != nil {
		return fmt.Errorf("metadata: query albums: %w", err)
	}
	defer rows.Close()

	var fresh []albumRow
	for rows.Next() {
		var row albumRow
		if err := rows.Scan(&row.id, &row.catalog, &row.releaseDate, &row.discCount, &row.title); err != nil {
			return fmt.Errorf("metadata: scan album row: %w", err)
		}
		fresh = append(fresh, row)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("metadata: iterate album rows: %w", err)
	}

	r.mu.Lock()
	r.rows = fresh
	r.mu.Unlock()
	return nil
}

// MatchAlbum implements Resolver. When catalog/date/disc-count match
// more than one album, the set is filtered by title; if still
// ambiguous, the lowest album ID wins and a warning is logged, per the
// documented tie-break rule.
func (r *PostgresResolver) MatchAlbum(_ context.Context, catalog, releaseDate string, discCount int, title string) (uuid.UUID, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var candidates []albumRow
	for _, row := range r.rows {
		if row.catalog == catalog && row.releaseDate == releaseDate && row.discCount == discCount {
			candidates = append(candidates, row)
		}
	}
	if len(candidates) == 0 {
		return uuid.Nil, false, nil
	}
	if len(candidates) > 1 {
		var byTitle []albumRow
		for _, c := range candidates {
			if c.title == title {
				byTitle = append(byTitle, c)
			}
		}
		if len(byTitle) > 0 {
			candidates = byTitle
		}
	}
	if len(candidates) == 1 {
		return candidates[0].id, true, nil
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].id.String() < candidates[j].id.String()
	})
	r.log.Warn("ambiguous album match, picking lowest id",
		"catalog", catalog, "release_date", releaseDate, "disc_count", discCount, "candidates", len(candidates))
	return candidates[0].id, true, nil
}
