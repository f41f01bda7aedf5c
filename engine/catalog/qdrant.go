package catalog

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/WessleyAI/reddit-etl/engine/domain"
)

// scrollPage is the number of points fetched per Scroll call.
const scrollPage = 256

// pointNamespace seeds the name-derived point ids.
var pointNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("reddit-etl/subreddit"))

// PointID returns the deterministic Qdrant point id for a subreddit name.
func PointID(name string) string {
	return uuid.NewSHA1(pointNamespace, []byte(name)).String()
}

type pointsAPI interface {
	Upsert(ctx context.Context, in *pb.UpsertPoints, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
	Count(ctx context.Context, in *pb.CountPoints, opts ...grpc.CallOption) (*pb.CountResponse, error)
	Scroll(ctx context.Context, in *pb.ScrollPoints, opts ...grpc.CallOption) (*pb.ScrollResponse, error)
	Delete(ctx context.Context, in *pb.DeletePoints, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
}

type collectionsAPI interface {
	List(ctx context.Context, in *pb.ListCollectionsRequest, opts ...grpc.CallOption) (*pb.ListCollectionsResponse, error)
	Create(ctx context.Context, in *pb.CreateCollection, opts ...grpc.CallOption) (*pb.CollectionOperationResponse, error)
}

// QdrantStore keeps the catalog in a Qdrant collection, one point per
// subreddit. Re-inserting a name overwrites its point. Ranking does not use
// Qdrant search; ScanAll pulls every vector back.
type QdrantStore struct {
	conn        *grpc.ClientConn
	points      pointsAPI
	collections collectionsAPI
	collection  string

	mu     sync.Mutex
	exists bool
}

var _ Store = (*QdrantStore)(nil)

// NewQdrantStore dials Qdrant's gRPC port at addr.
func NewQdrantStore(addr, collection string) (*QdrantStore, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("catalog: dial qdrant %s: %w", addr, err)
	}
	s := newQdrantStore(pb.NewPointsClient(conn), pb.NewCollectionsClient(conn), collection)
	s.conn = conn
	return s, nil
}

func newQdrantStore(points pointsAPI, collections collectionsAPI, collection string) *QdrantStore {
	return &QdrantStore{points: points, collections: collections, collection: collection}
}

// Close closes the gRPC connection, if any.
func (s *QdrantStore) Close() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Close()
}

func (s *QdrantStore) collectionExists(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.exists {
		return true, nil
	}
	list, err := s.collections.List(ctx, &pb.ListCollectionsRequest{})
	if err != nil {
		return false, fmt.Errorf("catalog: list collections: %w", err)
	}
	for _, c := range list.GetCollections() {
		if c.GetName() == s.collection {
			s.exists = true
			return true, nil
		}
	}
	return false, nil
}

// EnsureCollection creates a cosine collection of the given dimensionality
// when it does not exist yet.
func (s *QdrantStore) EnsureCollection(ctx context.Context, dims int) error {
	ok, err := s.collectionExists(ctx)
	if err != nil || ok {
		return err
	}
	if dims <= 0 {
		return fmt.Errorf("catalog: create collection %s: invalid dimension %d", s.collection, dims)
	}
	_, err = s.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     uint64(dims),
					Distance: pb.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("catalog: create collection %s: %w", s.collection, err)
	}
	s.mu.Lock()
	s.exists = true
	s.mu.Unlock()
	return nil
}

// Count returns the exact number of points; a missing collection counts as
// empty.
func (s *QdrantStore) Count(ctx context.Context) (int64, error) {
	ok, err := s.collectionExists(ctx)
	if err != nil || !ok {
		return 0, err
	}
	exact := true
	resp, err := s.points.Count(ctx, &pb.CountPoints{CollectionName: s.collection, Exact: &exact})
	if err != nil {
		return 0, fmt.Errorf("catalog: count: %w", err)
	}
	return int64(resp.GetResult().GetCount()), nil
}

// BulkInsert upserts records, creating the collection from the first
// record's dimensionality if needed.
func (s *QdrantStore) BulkInsert(ctx context.Context, records []domain.SubredditRecord) error {
	if len(records) == 0 {
		return nil
	}
	if err := s.EnsureCollection(ctx, len(records[0].Embedding)); err != nil {
		return err
	}

	points := make([]*pb.PointStruct, len(records))
	for i, r := range records {
		points[i] = &pb.PointStruct{
			Id: &pb.PointId{
				PointIdOptions: &pb.PointId_Uuid{Uuid: PointID(r.Name)},
			},
			Vectors: &pb.Vectors{
				VectorsOptions: &pb.Vectors_Vector{
					Vector: &pb.Vector{Data: r.Embedding},
				},
			},
			Payload: map[string]*pb.Value{
				fieldName:        {Kind: &pb.Value_StringValue{StringValue: r.Name}},
				fieldSubscribers: {Kind: &pb.Value_IntegerValue{IntegerValue: r.Subscribers}},
			},
		}
	}

	wait := true
	_, err := s.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: s.collection,
		Wait:           &wait,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("catalog: upsert %d points: %w", len(records), err)
	}
	return nil
}

// Delete removes the points for names. A missing collection holds nothing
// to delete.
func (s *QdrantStore) Delete(ctx context.Context, names []string) error {
	if len(names) == 0 {
		return nil
	}
	ok, err := s.collectionExists(ctx)
	if err != nil || !ok {
		return err
	}
	ids := make([]*pb.PointId, len(names))
	for i, n := range names {
		ids[i] = &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: PointID(n)}}
	}
	wait := true
	_, err = s.points.Delete(ctx, &pb.DeletePoints{
		CollectionName: s.collection,
		Wait:           &wait,
		Points: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Points{
				Points: &pb.PointsIdsList{Ids: ids},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("catalog: delete %d points: %w", len(names), err)
	}
	return nil
}

// ScanAll scrolls through every point with its vector, in point id order.
func (s *QdrantStore) ScanAll(ctx context.Context) ([]domain.SubredditRecord, error) {
	ok, err := s.collectionExists(ctx)
	if err != nil || !ok {
		return nil, err
	}

	var (
		out    []domain.SubredditRecord
		offset *pb.PointId
		limit  = uint32(scrollPage)
	)
	for {
		resp, err := s.points.Scroll(ctx, &pb.ScrollPoints{
			CollectionName: s.collection,
			Offset:         offset,
			Limit:          &limit,
			WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
			WithVectors:    &pb.WithVectorsSelector{SelectorOptions: &pb.WithVectorsSelector_Enable{Enable: true}},
		})
		if err != nil {
			return nil, fmt.Errorf("catalog: scroll: %w", err)
		}
		for _, p := range resp.GetResult() {
			out = append(out, pointRecord(p))
		}
		offset = resp.GetNextPageOffset()
		if offset == nil {
			return out, nil
		}
	}
}

func pointRecord(p *pb.RetrievedPoint) domain.SubredditRecord {
	payload := p.GetPayload()
	r := domain.SubredditRecord{
		Name:        payload[fieldName].GetStringValue(),
		Subscribers: payload[fieldSubscribers].GetIntegerValue(),
	}
	v := p.GetVectors().GetVector()
	r.Embedding = v.GetData()
	if len(r.Embedding) == 0 {
		r.Embedding = v.GetDense().GetData()
	}
	return r
}
