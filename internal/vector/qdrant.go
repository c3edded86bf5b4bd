package vector

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	pb "github.com/qdrant/go-client/qdrant"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
)

// keyPayload is the payload field that carries the document key of a point.
const keyPayload = "source"

// pointsAPI is the subset of pb.PointsClient used by QdrantIndex.
type pointsAPI interface {
	Upsert(ctx context.Context, in *pb.UpsertPoints, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
	Delete(ctx context.Context, in *pb.DeletePoints, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
	Search(ctx context.Context, in *pb.SearchPoints, opts ...grpc.CallOption) (*pb.SearchResponse, error)
	Count(ctx context.Context, in *pb.CountPoints, opts ...grpc.CallOption) (*pb.CountResponse, error)
}

// collectionsAPI is the subset of pb.CollectionsClient used by QdrantIndex.
type collectionsAPI interface {
	List(ctx context.Context, in *pb.ListCollectionsRequest, opts ...grpc.CallOption) (*pb.ListCollectionsResponse, error)
	Create(ctx context.Context, in *pb.CreateCollection, opts ...grpc.CallOption) (*pb.CollectionOperationResponse, error)
	Delete(ctx context.Context, in *pb.DeleteCollection, opts ...grpc.CallOption) (*pb.CollectionOperationResponse, error)
}

// QdrantIndex stores vectors in a Qdrant collection over gRPC. Point ids are
// name-based UUIDs derived from the document key, so re-adding a document
// overwrites its point. The key itself travels in the point payload.
type QdrantIndex struct {
	conn        *grpc.ClientConn
	points      pointsAPI
	collections collectionsAPI
	collection  string
	dimensions  int
	logger      *zap.Logger
}

// NewQdrantIndex connects to Qdrant at addr and makes sure the collection exists.
func NewQdrantIndex(ctx context.Context, addr, collection string, dimensions int, logger *zap.Logger) (*QdrantIndex, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("dial qdrant %s: %w", addr, err)
	}
	q := newQdrantIndex(pb.NewPointsClient(conn), pb.NewCollectionsClient(conn), collection, dimensions, logger)
	q.conn = conn
	if err := q.ensureCollection(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	return q, nil
}

func newQdrantIndex(points pointsAPI, collections collectionsAPI, collection string, dimensions int, logger *zap.Logger) *QdrantIndex {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &QdrantIndex{
		points:      points,
		collections: collections,
		collection:  collection,
		dimensions:  dimensions,
		logger:      logger,
	}
}

// PointID returns the Qdrant point id for a document key.
func PointID(key string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("stackprep:"+key)).String()
}

func (q *QdrantIndex) ensureCollection(ctx context.Context) error {
	list, err := q.collections.List(ctx, &pb.ListCollectionsRequest{})
	if err != nil {
		return fmt.Errorf("list collections: %w", err)
	}
	for _, c := range list.GetCollections() {
		if c.GetName() == q.collection {
			return nil
		}
	}
	_, err = q.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: q.collection,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     uint64(q.dimensions),
					Distance: pb.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("create collection %s: %w", q.collection, err)
	}
	q.logger.Info("created qdrant collection", zap.String("collection", q.collection), zap.Int("dimensions", q.dimensions))
	return nil
}

// Add upserts one point per id.
func (q *QdrantIndex) Add(ctx context.Context, ids []string, vectors [][]float32) error {
	if len(ids) != len(vectors) {
		return fmt.Errorf("ids and vectors length mismatch")
	}
	if len(ids) == 0 {
		return nil
	}
	points := make([]*pb.PointStruct, len(ids))
	for i, id := range ids {
		if len(vectors[i]) != q.dimensions {
			return fmt.Errorf("vector dimension mismatch: got %d, expected %d", len(vectors[i]), q.dimensions)
		}
		points[i] = &pb.PointStruct{
			Id: &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: PointID(id)}},
			Vectors: &pb.Vectors{
				VectorsOptions: &pb.Vectors_Vector{Vector: &pb.Vector{Data: vectors[i]}},
			},
			Payload: map[string]*pb.Value{
				keyPayload: {Kind: &pb.Value_StringValue{StringValue: id}},
			},
		}
	}
	wait := true
	_, err := q.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: q.collection,
		Wait:           &wait,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("upsert %d points: %w", len(points), err)
	}
	return nil
}

// Search returns the k nearest points by cosine similarity.
func (q *QdrantIndex) Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error) {
	if len(query) != q.dimensions {
		return nil, fmt.Errorf("query dimension mismatch: got %d, expected %d", len(query), q.dimensions)
	}
	if k <= 0 {
		return nil, nil
	}
	resp, err := q.points.Search(ctx, &pb.SearchPoints{
		CollectionName: q.collection,
		Vector:         query,
		Limit:          uint64(k),
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	})
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	results := make([]*VectorResult, 0, len(resp.GetResult()))
	for _, r := range resp.GetResult() {
		key := r.GetPayload()[keyPayload].GetStringValue()
		if key == "" {
			q.logger.Warn("qdrant point without document key", zap.String("point", r.GetId().GetUuid()))
			continue
		}
		results = append(results, &VectorResult{ID: key, Score: float64(r.GetScore())})
	}
	return results, nil
}

// Remove deletes the points of the given document keys.
func (q *QdrantIndex) Remove(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	pointIDs := make([]*pb.PointId, len(ids))
	for i, id := range ids {
		pointIDs[i] = &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: PointID(id)}}
	}
	wait := true
	_, err := q.points.Delete(ctx, &pb.DeletePoints{
		CollectionName: q.collection,
		Wait:           &wait,
		Points: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Points{Points: &pb.PointsIdsList{Ids: pointIDs}},
		},
	})
	if err != nil {
		return fmt.Errorf("delete %d points: %w", len(ids), err)
	}
	return nil
}

// Reset drops and recreates the collection.
func (q *QdrantIndex) Reset(ctx context.Context) error {
	_, err := q.collections.Delete(ctx, &pb.DeleteCollection{CollectionName: q.collection})
	if err != nil && status.Code(err) != codes.NotFound {
		return fmt.Errorf("delete collection %s: %w", q.collection, err)
	}
	return q.ensureCollection(ctx)
}

// Count returns the exact number of points in the collection.
func (q *QdrantIndex) Count(ctx context.Context) (int, error) {
	exact := true
	resp, err := q.points.Count(ctx, &pb.CountPoints{CollectionName: q.collection, Exact: &exact})
	if err != nil {
		return 0, fmt.Errorf("count points: %w", err)
	}
	return int(resp.GetResult().GetCount()), nil
}

// Save is a no-op; Qdrant persists on its own.
func (q *QdrantIndex) Save(string) error { return nil }

// Load is a no-op; Qdrant persists on its own.
func (q *QdrantIndex) Load(string) error { return nil }

// Close closes the gRPC connection.
func (q *QdrantIndex) Close() error {
	if q.conn == nil {
		return nil
	}
	return q.conn.Close()
}
