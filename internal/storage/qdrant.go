/**
 * Qdrant Fragment Index
 *
 * Stores one vector per cleaned Markdown fragment so converted documents
 * can be searched region by region. Uses Qdrant's native gRPC API.
 */

package storage

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	qdrant "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/adverant/nexus/pdf2md/internal/logging"
)

// DefaultVectorSize matches VoyageAI voyage-3.
const DefaultVectorSize = 1024

// QdrantClient handles the fragment vector index
type QdrantClient struct {
	client           qdrant.PointsClient
	collectionClient qdrant.CollectionsClient
	conn             *grpc.ClientConn
	collectionName   string
	vectorSize       int
	logger           *logging.Logger
}

// FragmentPoint is one indexed fragment.
type FragmentPoint struct {
	ID     string    `json:"id"`
	Vector []float32 `json:"-"`
	JobID  string    `json:"jobId"`
	Page   int       `json:"page"`
	Region int       `json:"region"`
	Type   string    `json:"type"`
	Text   string    `json:"text"`
	// Score is set on search results only.
	Score float32 `json:"score,omitempty"`
}

// NewQdrantClient connects to Qdrant and ensures the collection exists.
func NewQdrantClient(ctx context.Context, address, collectionName string, vectorSize int) (*QdrantClient, error) {
	if address == "" {
		return nil, fmt.Errorf("qdrant address is required")
	}
	if collectionName == "" {
		return nil, fmt.Errorf("collection name is required")
	}
	if vectorSize <= 0 {
		vectorSize = DefaultVectorSize
	}

	conn, err := grpc.Dial(address, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Qdrant: %w", err)
	}

	qc := &QdrantClient{
		client:           qdrant.NewPointsClient(conn),
		collectionClient: qdrant.NewCollectionsClient(conn),
		conn:             conn,
		collectionName:   collectionName,
		vectorSize:       vectorSize,
		logger:           logging.NewLogger("QdrantClient"),
	}

	if err := qc.ensureCollection(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ensure collection: %w", err)
	}

	return qc, nil
}

func (q *QdrantClient) ensureCollection(ctx context.Context) error {
	listResp, err := q.collectionClient.List(ctx, &qdrant.ListCollectionsRequest{})
	if err != nil {
		return fmt.Errorf("failed to list collections: %w", err)
	}
	for _, col := range listResp.Collections {
		if col.Name == q.collectionName {
			return nil
		}
	}

	_, err = q.collectionClient.Create(ctx, &qdrant.CreateCollection{
		CollectionName: q.collectionName,
		VectorsConfig: &qdrant.VectorsConfig{
			Config: &qdrant.VectorsConfig_Params{
				Params: &qdrant.VectorParams{
					Size:     uint64(q.vectorSize),
					Distance: qdrant.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}

	q.logger.Info("Created fragment collection", "collection", q.collectionName, "size", q.vectorSize)
	return nil
}

// UpsertFragments stores fragment vectors. Points without an ID get one.
func (q *QdrantClient) UpsertFragments(ctx context.Context, points []*FragmentPoint) error {
	if len(points) == 0 {
		return nil
	}

	structs := make([]*qdrant.PointStruct, 0, len(points))
	for _, p := range points {
		if len(p.Vector) != q.vectorSize {
			return fmt.Errorf("invalid vector dimensions for region %d: expected %d, got %d", p.Region, q.vectorSize, len(p.Vector))
		}
		if p.ID == "" {
			p.ID = uuid.New().String()
		}
		structs = append(structs, &qdrant.PointStruct{
			Id: pointID(p.ID),
			Vectors: &qdrant.Vectors{
				VectorsOptions: &qdrant.Vectors_Vector{
					Vector: &qdrant.Vector{Data: p.Vector},
				},
			},
			Payload: map[string]*qdrant.Value{
				"job_id": stringValue(p.JobID),
				"page":   intValue(p.Page),
				"region": intValue(p.Region),
				"type":   stringValue(p.Type),
				"text":   stringValue(p.Text),
			},
		})
	}

	_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: q.collectionName,
		Points:         structs,
	})
	if err != nil {
		return fmt.Errorf("failed to upsert fragments: %w", err)
	}
	return nil
}

// SearchFragments returns the fragments nearest to queryVector. A non-empty
// jobID restricts the search to one document.
func (q *QdrantClient) SearchFragments(ctx context.Context, queryVector []float32, limit int, jobID string) ([]*FragmentPoint, error) {
	if len(queryVector) != q.vectorSize {
		return nil, fmt.Errorf("invalid query vector dimensions: expected %d, got %d", q.vectorSize, len(queryVector))
	}
	if limit <= 0 {
		limit = 10
	}

	req := &qdrant.SearchPoints{
		CollectionName: q.collectionName,
		Vector:         queryVector,
		Limit:          uint64(limit),
		WithPayload: &qdrant.WithPayloadSelector{
			SelectorOptions: &qdrant.WithPayloadSelector_Enable{Enable: true},
		},
	}
	if jobID != "" {
		req.Filter = jobFilter(jobID)
	}

	results, err := q.client.Search(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to search fragments: %w", err)
	}

	points := make([]*FragmentPoint, 0, len(results.Result))
	for _, r := range results.Result {
		p := fragmentFromPayload(r.Payload)
		if r.Id != nil {
			p.ID = r.Id.GetUuid()
		}
		p.Score = r.Score
		points = append(points, p)
	}
	return points, nil
}

// DeleteJob removes every fragment indexed for jobID.
func (q *QdrantClient) DeleteJob(ctx context.Context, jobID string) error {
	if jobID == "" {
		return fmt.Errorf("job ID is required")
	}
	_, err := q.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: q.collectionName,
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Filter{Filter: jobFilter(jobID)},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to delete fragments for job %s: %w", jobID, err)
	}
	return nil
}

// GetCollectionInfo returns collection statistics
func (q *QdrantClient) GetCollectionInfo(ctx context.Context) (map[string]interface{}, error) {
	info, err := q.collectionClient.Get(ctx, &qdrant.GetCollectionInfoRequest{
		CollectionName: q.collectionName,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get collection info: %w", err)
	}

	return map[string]interface{}{
		"collection_name": q.collectionName,
		"points_count":    info.Result.GetPointsCount(),
		"indexed_vectors": info.Result.GetIndexedVectorsCount(),
		"status":          info.Result.GetStatus().String(),
	}, nil
}

// Close closes the Qdrant client connection
func (q *QdrantClient) Close() error {
	if q.conn != nil {
		return q.conn.Close()
	}
	return nil
}

func pointID(id string) *qdrant.PointId {
	return &qdrant.PointId{PointIdOptions: &qdrant.PointId_Uuid{Uuid: id}}
}

func stringValue(s string) *qdrant.Value {
	return &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: s}}
}

func intValue(n int) *qdrant.Value {
	return &qdrant.Value{Kind: &qdrant.Value_IntegerValue{IntegerValue: int64(n)}}
}

func jobFilter(jobID string) *qdrant.Filter {
	return &qdrant.Filter{
		Must: []*qdrant.Condition{{
			ConditionOneOf: &qdrant.Condition_Field{
				Field: &qdrant.FieldCondition{
					Key: "job_id",
					Match: &qdrant.Match{
						MatchValue: &qdrant.Match_Keyword{Keyword: jobID},
					},
				},
			},
		}},
	}
}

func fragmentFromPayload(payload map[string]*qdrant.Value) *FragmentPoint {
	p := &FragmentPoint{}
	for k, v := range payload {
		switch k {
		case "job_id":
			p.JobID = v.GetStringValue()
		case "page":
			p.Page = int(v.GetIntegerValue())
		case "region":
			p.Region = int(v.GetIntegerValue())
		case "type":
			p.Type = v.GetStringValue()
		case "text":
			p.Text = v.GetStringValue()
		}
	}
	return p
}
