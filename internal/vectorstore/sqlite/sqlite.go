package sqlite

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"

	_ "modernc.org/sqlite"

	"pdf-rag/internal/models"
	"pdf-rag/internal/vectorstore/vecmath"
)

// Store keeps chunks in a local SQLite file. Filtering happens in SQL on the JSON
// metadata; similarity is computed in process over the filtered rows.
type Store struct {
	db *sql.DB
}

func Open(ctx context.Context, path string) (*Store, error) {
	const op = "sqlite.open"
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, models.NewError(models.KindStore, op, err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, models.NewError(models.KindStore, op, err)
	}
	// a single connection keeps :memory: databases shared and serialises writers
	db.SetMaxOpenConns(1)

	_, err = db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS chunks (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			content TEXT NOT NULL,
			metadata TEXT NOT NULL,
			embedding BLOB NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);
	`)
	if err != nil {
		db.Close()
		return nil, models.NewError(models.KindStore, op, fmt.Errorf("creating table: %w", err))
	}
	return &Store{db: db}, nil
}

func (s *Store) Upsert(ctx context.Context, records ...models.Record) error {
	const op = "sqlite.upsert"
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return models.NewError(models.KindStore, op, err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO chunks (id, content, metadata, embedding) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET content = excluded.content, metadata = excluded.metadata, embedding = excluded.embedding`)
	if err != nil {
		return models.NewError(models.KindStore, op, err)
	}
	defer stmt.Close()

	for _, r := range records {
		if r.ID == "" {
			return models.Errorf(models.KindStore, op, "record id is required")
		}
		md, err := json.Marshal(r.Metadata)
		if err != nil {
			return models.NewError(models.KindStore, op, err)
		}
		if _, err := stmt.ExecContext(ctx, r.ID, r.Content, string(md), encodeVector(r.Embedding)); err != nil {
			return models.NewError(models.KindStore, op, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return models.NewError(models.KindStore, op, err)
	}
	return nil
}

func (s *Store) Query(ctx context.Context, embedding []float32, filter map[string]string, topK int) ([]models.SearchResult, error) {
	const op = "sqlite.query"
	if topK <= 0 {
		return nil, nil
	}
	where, args := whereClause(filter)
	rows, err := s.db.QueryContext(ctx, "SELECT seq, id, content, metadata, embedding FROM chunks"+where, args...)
	if err != nil {
		return nil, models.NewError(models.KindStore, op, err)
	}
	defer rows.Close()

	var cands []vecmath.Candidate
	for rows.Next() {
		var (
			seq     int64
			id      string
			content string
			md      string
			blob    []byte
		)
		if err := rows.Scan(&seq, &id, &content, &md, &blob); err != nil {
			return nil, models.NewError(models.KindStore, op, err)
		}
		var metadata map[string]string
		if err := json.Unmarshal([]byte(md), &metadata); err != nil {
			return nil, models.NewError(models.KindStore, op, fmt.Errorf("record %s: %w", id, err))
		}
		vec := decodeVector(blob)
		if len(vec) != len(embedding) {
			return nil, models.Errorf(models.KindStore, op, "record %s has dimension %d, query has %d", id, len(vec), len(embedding))
		}
		cands = append(cands, vecmath.Candidate{
			Result: models.SearchResult{ID: id, Content: content, Metadata: metadata, Score: vecmath.Cosine(embedding, vec)},
			Seq:    seq,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, models.NewError(models.KindStore, op, err)
	}
	return vecmath.TopK(cands, topK), nil
}

func (s *Store) Delete(ctx context.Context, filter map[string]string) (int, error) {
	const op = "sqlite.delete"
	if len(filter) == 0 {
		return 0, models.Errorf(models.KindStore, op, "delete requires a non-empty filter")
	}
	where, args := whereClause(filter)
	res, err := s.db.ExecContext(ctx, "DELETE FROM chunks"+where, args...)
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
	where, args := whereClause(filter)
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM chunks"+where, args...).Scan(&n); err != nil {
		return 0, models.NewError(models.KindStore, "sqlite.count", err)
	}
	return n, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func whereClause(filter map[string]string) (string, []any) {
	if len(filter) == 0 {
		return "", nil
	}
	keys := make([]string, 0, len(filter))
	for k := range filter {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	conds := make([]string, 0, len(keys))
	args := make([]any, 0, len(keys)*2)
	for _, k := range keys {
		conds = append(conds, "json_extract(metadata, ?) = ?")
		args = append(args, jsonPath(k), filter[k])
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func jsonPath(key string) string {
	b, _ := json.Marshal(key)
	return "$." + string(b)
}

func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(b []byte) []float32 {
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return v
}
