package vectorstore

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/pagelens/pagelens/pkg/log"
)

const connectTimeout = 30 * time.Second

// QdrantStore persists vectors in a qdrant collection over gRPC with
// cosine distance. Application vector ids are not UUIDs, so point ids
// are derived deterministically via uuid.NewSHA1 and the original id
// travels in the payload.
type QdrantStore struct {
	points         pb.PointsClient
	conn           *grpc.ClientConn
	collectionName string
	vectorSize     uint64
}

type QdrantOptions struct {
	Host       string
	Port       int
	Collection string
	VectorSize int
}

func NewQdrantStore(opts QdrantOptions) (*QdrantStore, error) {
	addr := fmt.Sprintf("%s:%d", opts.Host, opts.Port)

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	conn, err := grpc.DialContext(ctx, addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to qdrant at %s: %w", addr, err)
	}

	store := &QdrantStore{
		points:         pb.NewPointsClient(conn),
		conn:           conn,
		collectionName: opts.Collection,
		vectorSize:     uint64(opts.VectorSize),
	}

	if err := store.ensureCollection(ctx, pb.NewCollectionsClient(conn)); err != nil {
		conn.Close()
		return nil, err
	}
	return store, nil
}

func (s *QdrantStore) ensureCollection(ctx context.Context, client pb.CollectionsClient) error {
	listResp, err := client.List(ctx, &pb.ListCollectionsRequest{})
	if err != nil {
		return fmt.Errorf("failed to list collections: %w", err)
	}

	for _, col := range listResp.Collections {
		if col.Name == s.collectionName {
			info, err := client.Get(ctx, &pb.GetCollectionInfoRequest{
				CollectionName: s.collectionName,
			})
			if err == nil && info.Result != nil && info.Result.Config != nil && info.Result.Config.Params != nil {
				if vc := info.Result.Config.Params.GetVectorsConfig(); vc != nil {
					if params := vc.GetParams(); params != nil && params.Size != s.vectorSize {
						return fmt.Errorf("collection %s has vector size %d, expected %d",
							s.collectionName, params.Size, s.vectorSize)
					}
				}
			}
			return nil
		}
	}

	_, err = client.Create(ctx, &pb.CreateCollection{
		CollectionName: s.collectionName,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     s.vectorSize,
					Distance: pb.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}
	log.Info("created qdrant collection", "collection", s.collectionName, "size", s.vectorSize)
	return nil
}

func pointID(id string) *pb.PointId {
	return &pb.PointId{
		PointIdOptions: &pb.PointId_Uuid{
			Uuid: uuid.NewSHA1(uuid.NameSpaceOID, []byte(id)).String(),
		},
	}
}

func (s *QdrantStore) Upsert(ctx context.Context, items []Item) error {
	if len(items) == 0 {
		return nil
	}

	points := make([]*pb.PointStruct, 0, len(items))
	for _, item := range items {
		payload := map[string]*pb.Value{
			"vector_id": {Kind: &pb.Value_StringValue{StringValue: item.ID}},
		}
		for k, v := range item.Metadata {
			payload[k] = &pb.Value{Kind: &pb.Value_StringValue{StringValue: v}}
		}

		points = append(points, &pb.PointStruct{
			Id: pointID(item.ID),
			Vectors: &pb.Vectors{
				VectorsOptions: &pb.Vectors_Vector{
					Vector: &pb.Vector{Data: item.Vector},
				},
			},
			Payload: payload,
		})
	}

	_, err := s.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: s.collectionName,
		Points:         points,
		Wait:           &waitTrue,
	})
	if err != nil {
		return fmt.Errorf("failed to upsert points: %w", err)
	}
	return nil
}

func (s *QdrantStore) Search(ctx context.Context, vector []float32, topK int, filter map[string]string) ([]Hit, error) {
	searchResp, err := s.points.Search(ctx, &pb.SearchPoints{
		CollectionName: s.collectionName,
		Vector:         vector,
		Limit:          uint64(topK),
		Filter:         payloadFilter(filter),
		WithPayload: &pb.WithPayloadSelector{
			SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant search failed: %w", err)
	}

	hits := make([]Hit, 0, len(searchResp.Result))
	for _, point := range searchResp.Result {
		hit := Hit{Score: float64(point.Score), Metadata: make(map[string]string)}
		if hit.Score < 0 {
			hit.Score = 0
		}
		for k, v := range point.Payload {
			if k == "vector_id" {
				hit.ID = v.GetStringValue()
				continue
			}
			hit.Metadata[k] = v.GetStringValue()
		}
		if hit.ID == "" {
			// Point written by something else, not resolvable.
			continue
		}
		hits = append(hits, hit)
	}
	return hits, nil
}

func payloadFilter(filter map[string]string) *pb.Filter {
	if len(filter) == 0 {
		return nil
	}
	must := make([]*pb.Condition, 0, len(filter))
	for k, v := range filter {
		must = append(must, &pb.Condition{
			ConditionOneOf: &pb.Condition_Field{
				Field: &pb.FieldCondition{
					Key:   k,
					Match: &pb.Match{MatchValue: &pb.Match_Keyword{Keyword: v}},
				},
			},
		})
	}
	return &pb.Filter{Must: must}
}

func (s *QdrantStore) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	pointIds := make([]*pb.PointId, 0, len(ids))
	for _, id := range ids {
		pointIds = append(pointIds, pointID(id))
	}

	_, err := s.points.Delete(ctx, &pb.DeletePoints{
		CollectionName: s.collectionName,
		Points: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Points{
				Points: &pb.PointsIdsList{Ids: pointIds},
			},
		},
		Wait: &waitTrue,
	})
	if err != nil {
		return fmt.Errorf("failed to delete points: %w", err)
	}
	return nil
}

func (s *QdrantStore) Close() error {
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

var waitTrue = true
