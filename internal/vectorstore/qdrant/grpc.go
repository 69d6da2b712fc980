package qdrant

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	qc "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"rag-knowledge-platform/internal/vectorstore"
	"rag-knowledge-platform/models"
)

// GRPCStore uses the official Qdrant gRPC client. Errors carry the gRPC
// status code in StatusCode.
type GRPCStore struct {
	client     *qc.Client
	addr       string
	collection string
	timeout    time.Duration
}

func NewGRPCStore(cfg Config) (*GRPCStore, error) {
	host, port := parseHostPort(cfg.GRPCAddr, "localhost", 6334)
	client, err := qc.NewClient(&qc.Config{
		Host:   host,
		Port:   port,
		APIKey: cfg.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant grpc client: %w", err)
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}
	return &GRPCStore{client: client, addr: cfg.GRPCAddr, collection: cfg.Collection, timeout: timeout}, nil
}

// call bounds one store operation.
func (s *GRPCStore) call(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

func parseHostPort(addr string, defaultHost string, defaultPort int) (string, int) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return defaultHost, defaultPort
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return host, defaultPort
	}
	return host, port
}

func (s *GRPCStore) Close() error {
	return s.client.Close()
}

func (s *GRPCStore) wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	st, _ := status.FromError(err)
	vErr := &vectorstore.Error{Op: op, URL: s.addr + "/" + s.collection, StatusCode: int(st.Code()), Body: st.Message(), Err: err}
	if st.Code() == codes.NotFound {
		vErr.Err = fmt.Errorf("%w: %v", vectorstore.ErrCollectionNotFound, err)
	}
	return vErr
}

func (s *GRPCStore) EnsureCollection(ctx context.Context, dim int) error {
	if dim <= 0 {
		return fmt.Errorf("invalid dimension %d", dim)
	}
	ctx, cancel := s.call(ctx)
	defer cancel()
	exists, err := s.client.CollectionExists(ctx, s.collection)
	if err != nil {
		return s.wrap("collection_exists", err)
	}
	if exists {
		info, err := s.client.GetCollectionInfo(ctx, s.collection)
		if err != nil {
			return s.wrap("get_collection", err)
		}
		size := int(info.GetConfig().GetParams().GetVectorsConfig().GetParams().GetSize())
		if size != dim {
			return &vectorstore.Error{
				Op:  "ensure_collection",
				URL: s.addr + "/" + s.collection,
				Err: fmt.Errorf("%w: collection %s has size %d, embeddings have %d", vectorstore.ErrDimensionMismatch, s.collection, size, dim),
			}
		}
		return nil
	}

	err = s.client.CreateCollection(ctx, &qc.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: qc.NewVectorsConfig(&qc.VectorParams{
			Size:     uint64(dim),
			Distance: qc.Distance_Cosine,
		}),
	})
	if err != nil {
		return s.wrap("create_collection", err)
	}
	wait := true
	_, err = s.client.CreateFieldIndex(ctx, &qc.CreateFieldIndexCollection{
		CollectionName: s.collection,
		Wait:           &wait,
		FieldName:      "documentId",
		FieldType:      qc.FieldType_FieldTypeKeyword.Enum(),
	})
	return s.wrap("create_index", err)
}

func payloadMap(p vectorstore.Payload) map[string]any {
	m := map[string]any{
		"chunkId":    p.ChunkID,
		"documentId": p.DocumentID,
		"title":      p.Title,
		"sourceType": string(p.SourceType),
		"chunkIndex": p.ChunkIndex,
		"content":    p.Content,
		"createdAt":  p.CreatedAt,
	}
	if p.PageNumber > 0 {
		m["pageNumber"] = p.PageNumber
	}
	if p.SlideNumber > 0 {
		m["slideNumber"] = p.SlideNumber
	}
	return m
}

func payloadFrom(values map[string]*qc.Value) vectorstore.Payload {
	str := func(k string) string { return values[k].GetStringValue() }
	num := func(k string) int { return int(values[k].GetIntegerValue()) }
	return vectorstore.Payload{
		ChunkID:     str("chunkId"),
		DocumentID:  str("documentId"),
		Title:       str("title"),
		SourceType:  models.SourceType(str("sourceType")),
		ChunkIndex:  num("chunkIndex"),
		PageNumber:  num("pageNumber"),
		SlideNumber: num("slideNumber"),
		Content:     str("content"),
		CreatedAt:   str("createdAt"),
	}
}

func (s *GRPCStore) Upsert(ctx context.Context, points []vectorstore.Point) error {
	if len(points) == 0 {
		return nil
	}
	ctx, cancel := s.call(ctx)
	defer cancel()
	structs := make([]*qc.PointStruct, len(points))
	for i, p := range points {
		structs[i] = &qc.PointStruct{
			Id:      qc.NewIDUUID(p.ID),
			Vectors: qc.NewVectors(p.Vector...),
			Payload: qc.NewValueMap(payloadMap(p.Payload)),
		}
	}
	wait := true
	_, err := s.client.Upsert(ctx, &qc.UpsertPoints{
		CollectionName: s.collection,
		Wait:           &wait,
		Points:         structs,
	})
	return s.wrap("upsert", err)
}

func (s *GRPCStore) Search(ctx context.Context, vector []float32, k int, filter vectorstore.Filter) ([]vectorstore.SearchResult, error) {
	ctx, cancel := s.call(ctx)
	defer cancel()
	if k <= 0 {
		k = 5
	}
	limit := uint64(k)
	query := &qc.QueryPoints{
		CollectionName: s.collection,
		Query:          qc.NewQuery(vector...),
		Limit:          &limit,
		WithPayload:    qc.NewWithPayload(true),
	}
	if len(filter.DocumentIDs) > 0 {
		query.Filter = &qc.Filter{
			Must: []*qc.Condition{qc.NewMatchKeywords("documentId", filter.DocumentIDs...)},
		}
	}

	points, err := s.client.Query(ctx, query)
	if err != nil {
		return nil, s.wrap("search", err)
	}
	results := make([]vectorstore.SearchResult, 0, len(points))
	for _, p := range points {
		results = append(results, vectorstore.SearchResult{
			ID:      p.GetId().GetUuid(),
			Score:   float64(p.GetScore()),
			Payload: payloadFrom(p.GetPayload()),
		})
	}
	return results, nil
}

func (s *GRPCStore) DeleteByDocument(ctx context.Context, documentID string) error {
	ctx, cancel := s.call(ctx)
	defer cancel()
	exists, err := s.client.CollectionExists(ctx, s.collection)
	if err != nil {
		return s.wrap("collection_exists", err)
	}
	if !exists {
		return nil
	}
	wait := true
	_, err = s.client.Delete(ctx, &qc.DeletePoints{
		CollectionName: s.collection,
		Wait:           &wait,
		Points: qc.NewPointsSelectorFilter(&qc.Filter{
			Must: []*qc.Condition{qc.NewMatch("documentId", documentID)},
		}),
	})
	return s.wrap("delete", err)
}

func (s *GRPCStore) Health(ctx context.Context) error {
	ctx, cancel := s.call(ctx)
	defer cancel()
	_, err := s.client.HealthCheck(ctx)
	return s.wrap("health", err)
}
