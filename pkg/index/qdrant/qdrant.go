// Package qdrant implements the index.Store interface against a Qdrant
// instance over gRPC.
package qdrant

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/praxishq/praxis/pkg/index"
)

const (
	payloadKey         = "key"
	payloadName        = "name"
	payloadNamespace   = "namespace"
	payloadHash        = "hash"
	payloadDescription = "description"

	scrollPageSize = 256
)

type Store struct {
	collection  string
	embedder    index.Embedder
	client      pb.PointsClient
	collections pb.CollectionsClient
}

// New connects to a Qdrant instance and returns a Store over one collection.
func New(addr, collection string, embedder index.Embedder) (*Store, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("did not connect: %v", err)
	}

	return &Store{
		collection:  collection,
		embedder:    embedder,
		client:      pb.NewPointsClient(conn),
		collections: pb.NewCollectionsClient(conn),
	}, nil
}

// EnsureCollection creates the backing collection if it doesn't exist.
func (s *Store) EnsureCollection(ctx context.Context, vectorSize uint64) error {
	_, err := s.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     vectorSize,
					Distance: pb.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}
	return nil
}

// Get returns all entries in a namespace by scrolling the collection with a
// namespace payload filter.
func (s *Store) Get(ctx context.Context, namespace string) ([]index.Entry, error) {
	var (
		entries []index.Entry
		offset  *pb.PointId
	)
	limit := uint32(scrollPageSize)

	for {
		resp, err := s.client.Scroll(ctx, &pb.ScrollPoints{
			CollectionName: s.collection,
			Filter:         namespaceFilter(namespace),
			Limit:          &limit,
			Offset:         offset,
			WithPayload: &pb.WithPayloadSelector{
				SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true},
			},
		})
		if err != nil {
			return nil, fmt.Errorf("failed to scroll points: %w", err)
		}

		for _, p := range resp.Result {
			entries = append(entries, entryFromPayload(p.Payload))
		}

		if resp.NextPageOffset == nil {
			return entries, nil
		}
		offset = resp.NextPageOffset
	}
}

// Upsert embeds each entry's description and writes the points. Point ids
// are derived deterministically from the composite key so re-upserting the
// same tool replaces its point.
func (s *Store) Upsert(ctx context.Context, namespace string, entries []index.Entry) error {
	points := make([]*pb.PointStruct, 0, len(entries))
	for _, e := range entries {
		vector, err := s.embedder.Embed(ctx, e.Description)
		if err != nil {
			return fmt.Errorf("failed to embed %q: %w", e.Key, err)
		}

		points = append(points, &pb.PointStruct{
			Id: pointID(e.Key),
			Vectors: &pb.Vectors{
				VectorsOptions: &pb.Vectors_Vector{
					Vector: &pb.Vector{Data: vector},
				},
			},
			Payload: map[string]*pb.Value{
				payloadKey:         stringValue(e.Key),
				payloadName:        stringValue(e.Name),
				payloadNamespace:   stringValue(namespace),
				payloadHash:        stringValue(e.Hash),
				payloadDescription: stringValue(e.Description),
			},
		})
	}

	_, err := s.client.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: s.collection,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("failed to upsert points: %w", err)
	}
	return nil
}

// Delete removes entries by composite key.
func (s *Store) Delete(ctx context.Context, _ string, keys []string) error {
	ids := make([]*pb.PointId, 0, len(keys))
	for _, key := range keys {
		ids = append(ids, pointID(key))
	}

	_, err := s.client.Delete(ctx, &pb.DeletePoints{
		CollectionName: s.collection,
		Points: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Points{
				Points: &pb.PointsIdsList{Ids: ids},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to delete points: %w", err)
	}
	return nil
}

// Search embeds the query and returns composite keys ranked by similarity,
// restricted to one namespace.
func (s *Store) Search(ctx context.Context, query, namespace string, limit int) ([]string, error) {
	vector, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	resp, err := s.client.Search(ctx, &pb.SearchPoints{
		CollectionName: s.collection,
		Vector:         vector,
		Filter:         namespaceFilter(namespace),
		Limit:          uint64(limit),
		WithPayload: &pb.WithPayloadSelector{
			SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to search points: %w", err)
	}

	keys := make([]string, 0, len(resp.Result))
	for _, r := range resp.Result {
		if v, ok := r.Payload[payloadKey]; ok {
			if kv, ok := v.GetKind().(*pb.Value_StringValue); ok {
				keys = append(keys, kv.StringValue)
			}
		}
	}
	return keys, nil
}

func namespaceFilter(namespace string) *pb.Filter {
	return &pb.Filter{
		Must: []*pb.Condition{{
			ConditionOneOf: &pb.Condition_Field{
				Field: &pb.FieldCondition{
					Key: payloadNamespace,
					Match: &pb.Match{
						MatchValue: &pb.Match_Keyword{Keyword: namespace},
					},
				},
			},
		}},
	}
}

func entryFromPayload(payload map[string]*pb.Value) index.Entry {
	get := func(k string) string {
		if v, ok := payload[k]; ok {
			if kv, ok := v.GetKind().(*pb.Value_StringValue); ok {
				return kv.StringValue
			}
		}
		return ""
	}
	return index.Entry{
		Key:         get(payloadKey),
		Namespace:   get(payloadNamespace),
		Name:        get(payloadName),
		Hash:        get(payloadHash),
		Description: get(payloadDescription),
	}
}

// pointID derives a stable UUID from the composite key so the same tool
// always maps to the same point.
func pointID(key string) *pb.PointId {
	return &pb.PointId{
		PointIdOptions: &pb.PointId_Uuid{
			Uuid: uuid.NewSHA1(uuid.NameSpaceURL, []byte(key)).String(),
		},
	}
}

func stringValue(s string) *pb.Value {
	return &pb.Value{Kind: &pb.Value_StringValue{StringValue: s}}
}
