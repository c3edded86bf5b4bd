package vector

import (
	"context"
	"errors"
	"testing"

	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type mockPoints struct {
	upserted  *pb.UpsertPoints
	deleted   *pb.DeletePoints
	searchReq *pb.SearchPoints
	search    *pb.SearchResponse
	count     uint64
	err       error
}

func (m *mockPoints) Upsert(_ context.Context, in *pb.UpsertPoints, _ ...grpc.CallOption) (*pb.PointsOperationResponse, error) {
	m.upserted = in
	return &pb.PointsOperationResponse{}, m.err
}

func (m *mockPoints) Delete(_ context.Context, in *pb.DeletePoints, _ ...grpc.CallOption) (*pb.PointsOperationResponse, error) {
	m.deleted = in
	return &pb.PointsOperationResponse{}, m.err
}

func (m *mockPoints) Search(_ context.Context, in *pb.SearchPoints, _ ...grpc.CallOption) (*pb.SearchResponse, error) {
	m.searchReq = in
	return m.search, m.err
}

func (m *mockPoints) Count(_ context.Context, _ *pb.CountPoints, _ ...grpc.CallOption) (*pb.CountResponse, error) {
	return &pb.CountResponse{Result: &pb.CountResult{Count: m.count}}, m.err
}

type mockCollections struct {
	names     []string
	created   *pb.CreateCollection
	deleted   bool
	deleteErr error
}

func (m *mockCollections) List(_ context.Context, _ *pb.ListCollectionsRequest, _ ...grpc.CallOption) (*pb.ListCollectionsResponse, error) {
	resp := &pb.ListCollectionsResponse{}
	for _, n := range m.names {
		resp.Collections = append(resp.Collections, &pb.CollectionDescription{Name: n})
	}
	return resp, nil
}

func (m *mockCollections) Create(_ context.Context, in *pb.CreateCollection, _ ...grpc.CallOption) (*pb.CollectionOperationResponse, error) {
	m.created = in
	m.names = append(m.names, in.CollectionName)
	return &pb.CollectionOperationResponse{Result: true}, nil
}

func (m *mockCollections) Delete(_ context.Context, in *pb.DeleteCollection, _ ...grpc.CallOption) (*pb.CollectionOperationResponse, error) {
	if m.deleteErr != nil {
		return nil, m.deleteErr
	}
	m.deleted = true
	m.names = nil
	return &pb.CollectionOperationResponse{Result: true}, nil
}

func TestQdrantIndex_ensureCollection(t *testing.T) {
	cols := &mockCollections{}
	q := newQdrantIndex(&mockPoints{}, cols, "docs", 4, nil)
	if err := q.ensureCollection(context.Background()); err != nil {
		t.Fatal(err)
	}
	if cols.created == nil {
		t.Fatal("expected collection to be created")
	}
	params := cols.created.GetVectorsConfig().GetParams()
	if params.GetSize() != 4 || params.GetDistance() != pb.Distance_Cosine {
		t.Errorf("params = %v", params)
	}

	cols.created = nil
	if err := q.ensureCollection(context.Background()); err != nil {
		t.Fatal(err)
	}
	if cols.created != nil {
		t.Error("existing collection should not be recreated")
	}
}

func TestQdrantIndex_Add(t *testing.T) {
	pts := &mockPoints{}
	q := newQdrantIndex(pts, &mockCollections{}, "docs", 2, nil)
	err := q.Add(context.Background(), []string{"2", "7"}, [][]float32{{1, 0}, {0, 1}})
	if err != nil {
		t.Fatal(err)
	}
	if len(pts.upserted.GetPoints()) != 2 {
		t.Fatalf("upserted %d points", len(pts.upserted.GetPoints()))
	}
	p := pts.upserted.GetPoints()[0]
	if p.GetId().GetUuid() != PointID("2") {
		t.Errorf("point id = %s", p.GetId().GetUuid())
	}
	if p.GetPayload()[keyPayload].GetStringValue() != "2" {
		t.Error("payload should carry the document key")
	}
	if err := q.Add(context.Background(), []string{"x"}, [][]float32{{1}}); err == nil {
		t.Error("expected dimension error")
	}
}

func TestPointID_deterministic(t *testing.T) {
	if PointID("42") != PointID("42") {
		t.Error("point id should be stable")
	}
	if PointID("42") == PointID("43") {
		t.Error("different keys should map to different points")
	}
}

func TestQdrantIndex_Search(t *testing.T) {
	pts := &mockPoints{search: &pb.SearchResponse{Result: []*pb.ScoredPoint{
		{
			Id:      &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: PointID("2")}},
			Score:   0.9,
			Payload: map[string]*pb.Value{keyPayload: {Kind: &pb.Value_StringValue{StringValue: "2"}}},
		},
		{
			Id:    &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: "orphan"}},
			Score: 0.5,
		},
	}}}
	q := newQdrantIndex(pts, &mockCollections{}, "docs", 2, nil)
	res, err := q.Search(context.Background(), []float32{1, 0}, 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(res) != 1 || res[0].ID != "2" {
		t.Errorf("results = %+v", res)
	}
	if pts.searchReq.GetLimit() != 5 || pts.searchReq.GetCollectionName() != "docs" {
		t.Errorf("request = %v", pts.searchReq)
	}
}

func TestQdrantIndex_RemoveCountReset(t *testing.T) {
	pts := &mockPoints{count: 12}
	cols := &mockCollections{names: []string{"docs"}}
	q := newQdrantIndex(pts, cols, "docs", 2, nil)
	ctx := context.Background()

	if err := q.Remove(ctx, []string{"2"}); err != nil {
		t.Fatal(err)
	}
	ids := pts.deleted.GetPoints().GetPoints().GetIds()
	if len(ids) != 1 || ids[0].GetUuid() != PointID("2") {
		t.Errorf("deleted = %v", ids)
	}

	if n, err := q.Count(ctx); err != nil || n != 12 {
		t.Errorf("Count = %d, %v", n, err)
	}

	if err := q.Reset(ctx); err != nil {
		t.Fatal(err)
	}
	if !cols.deleted || cols.created == nil {
		t.Error("Reset should drop and recreate the collection")
	}

	cols.deleteErr = status.Error(codes.NotFound, "missing")
	if err := q.Reset(ctx); err != nil {
		t.Errorf("Reset of a missing collection: %v", err)
	}
	cols.deleteErr = errors.New("unavailable")
	if err := q.Reset(ctx); err == nil {
		t.Error("expected error")
	}
}

func TestQdrantIndex_errors(t *testing.T) {
	pts := &mockPoints{err: errors.New("down")}
	q := newQdrantIndex(pts, &mockCollections{}, "docs", 2, nil)
	if _, err := q.Search(context.Background(), []float32{1, 0}, 1); err == nil {
		t.Error("expected search error")
	}
	if err := q.Add(context.Background(), []string{"1"}, [][]float32{{1, 0}}); err == nil {
		t.Error("expected upsert error")
	}
	if err := q.Close(); err != nil {
		t.Errorf("Close without connection: %v", err)
	}
}
