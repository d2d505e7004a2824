package vector

import (
	"context"
	"fmt"
	"time"

	"github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/keepalive"
)

// QdrantProvider stores vectors in a Qdrant server. Use it when the
// dataset outgrows the in-process store or multiple instances share an
// index.
type QdrantProvider struct {
	client *qdrant.Client
}

// QdrantConfig holds connection settings for a Qdrant server.
type QdrantConfig struct {
	Host   string
	Port   int
	APIKey string
	UseTLS bool
}

// NewQdrantProvider connects to a Qdrant server over gRPC.
func NewQdrantProvider(cfg QdrantConfig) (*QdrantProvider, error) {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 6334
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
		GrpcOptions: []grpc.DialOption{
			grpc.WithKeepaliveParams(keepalive.ClientParameters{
				Time:    30 * time.Second,
				Timeout: 10 * time.Second,
			}),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create qdrant client: %w", err)
	}

	return &QdrantProvider{client: client}, nil
}

// ensureCollection creates the collection on first use. The vector size
// is taken from the first upserted vector.
func (p *QdrantProvider) ensureCollection(ctx context.Context, collection string, vectorSize int) error {
	exists, err := p.client.CollectionExists(ctx, collection)
	if err != nil {
		return fmt.Errorf("failed to check collection existence: %w", err)
	}
	if exists {
		return nil
	}

	err = p.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(vectorSize),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("failed to create collection %q: %w", collection, err)
	}
	return nil
}

func (p *QdrantProvider) Upsert(ctx context.Context, collection, id string, vector []float32, content string, metadata map[string]string) error {
	if err := p.ensureCollection(ctx, collection, len(vector)); err != nil {
		return err
	}

	payload := make(map[string]*qdrant.Value, len(metadata)+1)
	contentVal, err := qdrant.NewValue(content)
	if err != nil {
		return fmt.Errorf("failed to convert content: %w", err)
	}
	payload["content"] = contentVal
	for k, v := range metadata {
		val, err := qdrant.NewValue(v)
		if err != nil {
			return fmt.Errorf("failed to convert metadata value for key %s: %w", k, err)
		}
		payload[k] = val
	}

	_, err = p.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: collection,
		Points: []*qdrant.PointStruct{
			{
				Id:      qdrant.NewID(id),
				Vectors: qdrant.NewVectors(vector...),
				Payload: payload,
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to upsert point: %w", err)
	}
	return nil
}

func (p *QdrantProvider) Search(ctx context.Context, collection string, vector []float32, topK int) ([]Result, error) {
	exists, err := p.client.CollectionExists(ctx, collection)
	if err != nil {
		return nil, fmt.Errorf("failed to check collection existence: %w", err)
	}
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrCollectionNotFound, collection)
	}

	resp, err := p.client.GetPointsClient().Search(ctx, &qdrant.SearchPoints{
		CollectionName: collection,
		Vector:         vector,
		Limit:          uint64(topK),
		WithPayload:    qdrant.NewWithPayload(true),
		WithVectors:    qdrant.NewWithVectors(true),
	})
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	out := make([]Result, 0, len(resp.GetResult()))
	for _, point := range resp.GetResult() {
		r := Result{
			ID:         pointID(point.GetId()),
			Similarity: point.GetScore(),
		}
		r.Content, r.Metadata = decodePayload(point.GetPayload())
		r.Vector = denseVector(point.GetVectors())
		out = append(out, r)
	}
	return out, nil
}

func (p *QdrantProvider) Get(ctx context.Context, collection, id string) (*Result, error) {
	exists, err := p.client.CollectionExists(ctx, collection)
	if err != nil {
		return nil, fmt.Errorf("failed to check collection existence: %w", err)
	}
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrCollectionNotFound, collection)
	}

	points, err := p.client.Get(ctx, &qdrant.GetPoints{
		CollectionName: collection,
		Ids:            []*qdrant.PointId{qdrant.NewID(id)},
		WithPayload:    qdrant.NewWithPayload(true),
		WithVectors:    qdrant.NewWithVectors(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get point: %w", err)
	}
	if len(points) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrEntryNotFound, id)
	}

	point := points[0]
	r := &Result{ID: pointID(point.GetId())}
	r.Content, r.Metadata = decodePayload(point.GetPayload())
	r.Vector = denseVector(point.GetVectors())
	return r, nil
}

func (p *QdrantProvider) ListCollections(ctx context.Context) ([]string, error) {
	names, err := p.client.ListCollections(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list collections: %w", err)
	}
	return names, nil
}

func (p *QdrantProvider) Count(ctx context.Context, collection string) (int, error) {
	exists, err := p.client.CollectionExists(ctx, collection)
	if err != nil {
		return 0, fmt.Errorf("failed to check collection existence: %w", err)
	}
	if !exists {
		return 0, fmt.Errorf("%w: %s", ErrCollectionNotFound, collection)
	}

	count, err := p.client.Count(ctx, &qdrant.CountPoints{CollectionName: collection})
	if err != nil {
		return 0, fmt.Errorf("failed to count points: %w", err)
	}
	return int(count), nil
}

func (p *QdrantProvider) DeleteCollection(ctx context.Context, collection string) error {
	if err := p.client.DeleteCollection(ctx, collection); err != nil {
		return fmt.Errorf("failed to delete collection: %w", err)
	}
	return nil
}

func (p *QdrantProvider) Name() string {
	return "qdrant"
}

func (p *QdrantProvider) Close() error {
	return p.client.Close()
}

// decodePayload splits the stored payload into the rendered content and
// the string metadata.
func decodePayload(payload map[string]*qdrant.Value) (string, map[string]string) {
	content := ""
	metadata := make(map[string]string, len(payload))
	for k, v := range payload {
		s := v.GetStringValue()
		if k == "content" {
			content = s
			continue
		}
		metadata[k] = s
	}
	return content, metadata
}

func denseVector(vectors *qdrant.VectorsOutput) []float32 {
	if vectors == nil {
		return nil
	}
	vo := vectors.GetVector()
	if vo == nil {
		return nil
	}
	if dense, ok := vo.Vector.(*qdrant.VectorOutput_Dense); ok && dense.Dense != nil {
		return dense.Dense.Data
	}
	return nil
}

func pointID(id *qdrant.PointId) string {
	if id == nil {
		return ""
	}
	if uuid := id.GetUuid(); uuid != "" {
		return uuid
	}
	return fmt.Sprintf("%d", id.GetNum())
}

var _ Provider = (*QdrantProvider)(nil)
