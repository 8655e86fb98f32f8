package qdrant

import (
	"context"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"github.com/rs/zerolog/log"

	"pdf-rag/internal/config"
	"pdf-rag/internal/models"
)

const (
	textKey    = "text"
	chunkIDKey = "chunk_id"
)

// pointNamespace derives point UUIDs from chunk ids, so re-upserting a chunk overwrites it.
var pointNamespace = uuid.MustParse("6f1c1a7e-3c1e-4f43-9d55-2a8f8b1f0c11")

type Store struct {
	client     *qdrant.Client
	collection string
}

func Open(ctx context.Context, cfg *config.QdrantConfig) (*Store, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, models.NewError(models.KindConfig, "qdrant.connect", err)
	}
	s := &Store{client: client, collection: cfg.Collection}
	if _, err := s.InitContext(ctx, cfg.VectorSize); err != nil {
		client.Close()
		return nil, err
	}
	return s, nil
}

// InitContext creates the collection with cosine distance unless it exists already.
// An existing collection must have been created with the same vector size.
func (s *Store) InitContext(ctx context.Context, vectorSize int) (bool, error) {
	exists, err := s.client.CollectionExists(ctx, s.collection)
	if err != nil {
		return false, models.NewError(models.KindStore, "qdrant.init", err)
	}
	if exists {
		info, err := s.client.GetCollectionInfo(ctx, s.collection)
		if err != nil {
			return true, models.NewError(models.KindStore, "qdrant.init", err)
		}
		if size := vectorSizeOf(info); size != uint64(vectorSize) {
			return true, models.Errorf(models.KindConfig, "qdrant.init",
				"collection %q holds %d-dimensional vectors, configured vector_size is %d", s.collection, size, vectorSize)
		}
		return true, nil
	}
	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(vectorSize),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return false, models.NewError(models.KindStore, "qdrant.init", fmt.Errorf("create collection: %w", err))
	}
	log.Info().Str("collection", s.collection).Int("dimension", vectorSize).Msg("Created qdrant collection")
	return false, nil
}

func vectorSizeOf(info *qdrant.CollectionInfo) uint64 {
	return info.GetConfig().GetParams().GetVectorsConfig().GetParams().GetSize()
}

func PointID(chunkID string) string {
	return uuid.NewSHA1(pointNamespace, []byte(chunkID)).String()
}

func (s *Store) Upsert(ctx context.Context, records ...models.Record) error {
	if len(records) == 0 {
		return nil
	}
	pts := make([]*qdrant.PointStruct, len(records))
	for i, r := range records {
		payload := map[string]any{
			textKey:    r.Content,
			chunkIDKey: r.ID,
		}
		for k, v := range r.Metadata {
			payload[k] = v
		}
		pts[i] = &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(PointID(r.ID)),
			Vectors: qdrant.NewVectors(r.Embedding...),
			Payload: qdrant.NewValueMap(payload),
		}
	}

	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.collection,
		Wait:           qdrant.PtrOf(true),
		Points:         pts,
	})
	if err != nil {
		return models.NewError(models.KindStore, "qdrant.upsert", err)
	}
	return nil
}

func (s *Store) Query(ctx context.Context, vector []float32, filter map[string]string, topK int) ([]models.SearchResult, error) {
	if topK <= 0 {
		return nil, nil
	}
	limit := uint64(topK)
	resp, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.collection,
		Query:          qdrant.NewQuery(vector...),
		Filter:         toFilter(filter),
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, models.NewError(models.KindStore, "qdrant.query", err)
	}

	out := make([]models.SearchResult, 0, len(resp))
	for _, r := range resp {
		res := models.SearchResult{Metadata: map[string]string{}, Score: float64(r.Score)}
		for key, v := range r.Payload {
			val := payloadString(v)
			switch key {
			case textKey:
				res.Content = val
			case chunkIDKey:
				res.ID = val
			default:
				res.Metadata[key] = val
			}
		}
		out = append(out, res)
	}
	return out, nil
}

func (s *Store) Delete(ctx context.Context, filter map[string]string) (int, error) {
	const op = "qdrant.delete"
	if len(filter) == 0 {
		return 0, models.Errorf(models.KindStore, op, "delete requires a non-empty filter")
	}
	n, err := s.Count(ctx, filter)
	if err != nil || n == 0 {
		return 0, err
	}
	_, err = s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.collection,
		Wait:           qdrant.PtrOf(true),
		Points:         qdrant.NewPointsSelectorFilter(toFilter(filter)),
	})
	if err != nil {
		return 0, models.NewError(models.KindStore, op, err)
	}
	return n, nil
}

func (s *Store) Count(ctx context.Context, filter map[string]string) (int, error) {
	n, err := s.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: s.collection,
		Filter:         toFilter(filter),
		Exact:          qdrant.PtrOf(true),
	})
	if err != nil {
		return 0, models.NewError(models.KindStore, "qdrant.count", err)
	}
	return int(n), nil
}

func (s *Store) Close() error {
	return s.client.Close()
}

func toFilter(filter map[string]string) *qdrant.Filter {
	if len(filter) == 0 {
		return nil
	}
	f := &qdrant.Filter{Must: make([]*qdrant.Condition, 0, len(filter))}
	for key, v := range filter {
		f.Must = append(f.Must, qdrant.NewMatch(key, v))
	}
	return f
}

func payloadString(v *qdrant.Value) string {
	switch val := v.Kind.(type) {
	case *qdrant.Value_StringValue:
		return val.StringValue
	case *qdrant.Value_IntegerValue:
		return strconv.FormatInt(val.IntegerValue, 10)
	case *qdrant.Value_DoubleValue:
		return strconv.FormatFloat(val.DoubleValue, 'f', -1, 64)
	case *qdrant.Value_BoolValue:
		return strconv.FormatBool(val.BoolValue)
	}
	return ""
}
