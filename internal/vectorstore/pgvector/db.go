package pgvector

import (
	"context"
	"database/sql"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
	"github.com/rs/zerolog/log"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/extra/bundebug"

	"pdf-rag/internal/config"
	"pdf-rag/internal/models"
)

// ChunkRow is one embedded chunk. The table name is configurable, so queries set it with
// ModelTableExpr.
type ChunkRow struct {
	bun.BaseModel `bun:"table:chunks,alias:c"`
	ID            string            `bun:"id,pk"`
	Seq           int64             `bun:"seq,scanonly"`
	Content       string            `bun:"content,notnull"`
	Metadata      map[string]string `bun:"metadata,type:jsonb,notnull"`
	Embedding     pgvector.Vector   `bun:"embedding,notnull"`
}

type scoredRow struct {
	ID       string            `bun:"id"`
	Content  string            `bun:"content"`
	Metadata map[string]string `bun:"metadata,type:jsonb"`
	Score    float64           `bun:"score"`
}

// Store keeps chunks in Postgres with the pgvector extension.
type Store struct {
	db    *bun.DB
	table string
}

func NewDB(sqldb *sql.DB, debug bool) *bun.DB {
	db := bun.NewDB(sqldb, pgdialect.New())
	if debug {
		db.AddQueryHook(bundebug.NewQueryHook(bundebug.WithVerbose(true)))
	}
	return db
}

// ConnectDB opens the database with pgdriver, or lib/pq when cfg.Driver is "pq".
func ConnectDB(cfg *config.DatabaseConfig) (*sql.DB, error) {
	dsn := cfg.URL
	if !strings.Contains(dsn, "sslmode=") {
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		dsn += sep + "sslmode=disable"
	}

	switch cfg.Driver {
	case "pq":
		if cfg.Password != "" {
			u, err := url.Parse(dsn)
			if err != nil {
				return nil, err
			}
			u.User = url.UserPassword(u.User.Username(), cfg.Password)
			dsn = u.String()
		}
		connector, err := pq.NewConnector(dsn)
		if err != nil {
			return nil, err
		}
		return sql.OpenDB(connector), nil
	default:
		opts := []pgdriver.Option{pgdriver.WithDSN(dsn)}
		if cfg.Password != "" {
			opts = append(opts, pgdriver.WithPassword(cfg.Password))
		}
		return sql.OpenDB(pgdriver.NewConnector(opts...)), nil
	}
}

// Open connects, creates the schema if needed and checks the embedding dimension.
func Open(ctx context.Context, cfg *config.DatabaseConfig) (*Store, error) {
	sqldb, err := ConnectDB(cfg)
	if err != nil {
		return nil, models.NewError(models.KindConfig, "pgvector.connect", err)
	}
	s := &Store{db: NewDB(sqldb, cfg.Debug), table: cfg.Table}
	if err := s.InitDB(ctx, cfg.VectorSize); err != nil {
		s.db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) InitDB(ctx context.Context, vectorSize int) error {
	const op = "pgvector.init"
	if _, err := s.db.ExecContext(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return models.NewError(models.KindStore, op, err)
	}
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS ? (
		id text PRIMARY KEY,
		seq bigserial NOT NULL,
		content text NOT NULL,
		metadata jsonb NOT NULL DEFAULT '{}',
		embedding vector(?) NOT NULL,
		created_at timestamptz NOT NULL DEFAULT now()
	)`, bun.Ident(s.table), bun.Safe(strconv.Itoa(vectorSize)))
	if err != nil {
		return models.NewError(models.KindStore, op, err)
	}
	_, err = s.db.ExecContext(ctx, "CREATE INDEX IF NOT EXISTS ? ON ? USING gin (metadata jsonb_path_ops)",
		bun.Ident(s.table+"_metadata_idx"), bun.Ident(s.table))
	if err != nil {
		return models.NewError(models.KindStore, op, err)
	}

	var dim int
	err = s.db.NewRaw(`SELECT atttypmod FROM pg_attribute WHERE attrelid = ?::regclass AND attname = 'embedding'`, s.table).Scan(ctx, &dim)
	if err != nil {
		return models.NewError(models.KindStore, op, err)
	}
	if dim != vectorSize {
		return models.Errorf(models.KindConfig, op, "table %s stores vector(%d) but vector_size is %d", s.table, dim, vectorSize)
	}
	log.Debug().Str("table", s.table).Int("dimension", dim).Msg("pgvector store ready")
	return nil
}

func (s *Store) Upsert(ctx context.Context, records ...models.Record) error {
	if len(records) == 0 {
		return nil
	}
	rows := make([]ChunkRow, len(records))
	for i, r := range records {
		md := r.Metadata
		if md == nil {
			md = map[string]string{}
		}
		rows[i] = ChunkRow{
			ID:        r.ID,
			Content:   r.Content,
			Metadata:  md,
			Embedding: pgvector.NewVector(r.Embedding),
		}
	}
	_, err := s.db.NewInsert().
		Model(&rows).
		ModelTableExpr("? AS c", bun.Ident(s.table)).
		On("CONFLICT (id) DO UPDATE").
		Set("content = EXCLUDED.content").
		Set("metadata = EXCLUDED.metadata").
		Set("embedding = EXCLUDED.embedding").
		Exec(ctx)
	if err != nil {
		return models.NewError(models.KindStore, "pgvector.upsert", err)
	}
	return nil
}

// Query orders by cosine distance, then by insertion sequence.
func (s *Store) Query(ctx context.Context, embedding []float32, filter map[string]string, topK int) ([]models.SearchResult, error) {
	if topK <= 0 {
		return nil, nil
	}
	vec := pgvector.NewVector(embedding)
	var rows []scoredRow
	q := s.db.NewSelect().
		TableExpr("? AS c", bun.Ident(s.table)).
		Column("id", "content", "metadata").
		ColumnExpr("1 - (embedding <=> ?) AS score", vec)
	q = applyFilter(q, filter)
	err := q.OrderExpr("embedding <=> ?", vec).
		OrderExpr("seq ASC").
		Limit(topK).
		Scan(ctx, &rows)
	if err != nil {
		return nil, models.NewError(models.KindStore, "pgvector.query", err)
	}

	out := make([]models.SearchResult, len(rows))
	for i, r := range rows {
		out[i] = models.SearchResult{ID: r.ID, Content: r.Content, Metadata: r.Metadata, Score: r.Score}
	}
	return out, nil
}

func (s *Store) Delete(ctx context.Context, filter map[string]string) (int, error) {
	const op = "pgvector.delete"
	if len(filter) == 0 {
		return 0, models.Errorf(models.KindStore, op, "delete requires a non-empty filter")
	}
	q := s.db.NewDelete().
		Model((*ChunkRow)(nil)).
		ModelTableExpr("? AS c", bun.Ident(s.table))
	for _, k := range sortedKeys(filter) {
		q = q.Where("metadata ->> ? = ?", k, filter[k])
	}
	res, err := q.Exec(ctx)
	if err != nil {
		return 0, models.NewError(models.KindStore, op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, models.NewError(models.KindStore, op, err)
	}
	return int(n), nil
}

func (s *Store) Count(ctx context.Context, filter map[string]string) (int, error) {
	q := s.db.NewSelect().TableExpr("? AS c", bun.Ident(s.table))
	n, err := applyFilter(q, filter).Count(ctx)
	if err != nil {
		return 0, models.NewError(models.KindStore, "pgvector.count", err)
	}
	return n, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func applyFilter(q *bun.SelectQuery, filter map[string]string) *bun.SelectQuery {
	for _, k := range sortedKeys(filter) {
		q = q.Where("metadata ->> ? = ?", k, filter[k])
	}
	return q
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
