package vector

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"

	"github.com/urdimbre/urdimbre-go/internal/config"
	qerr "github.com/urdimbre/urdimbre-go/internal/errors"
	"github.com/urdimbre/urdimbre-go/internal/models"
)

// QdrantIndex implements Index over a Qdrant collection shared by all
// projects; tenancy is enforced by a mandatory project_id payload filter on
// every read and delete.
type QdrantIndex struct {
	client     *qdrant.Client
	collection string
	vectorDim  uint64
	scoreFloor float64
	logger     *slog.Logger
}

// NewQdrantIndex connects to Qdrant and verifies the collection. Fails fast
// on connectivity problems like every other adapter.
func NewQdrantIndex(ctx context.Context, cfg config.QdrantConfig) (*QdrantIndex, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to qdrant: %w", err)
	}

	idx := &QdrantIndex{
		client:     client,
		collection: cfg.Collection,
		vectorDim:  uint64(cfg.VectorDim),
		scoreFloor: cfg.AnchorScoreFloor,
		logger:     slog.Default().With("component", "qdrant"),
	}
	if err := idx.EnsureCollection(ctx); err != nil {
		client.Close()
		return nil, err
	}
	idx.logger.Info("qdrant index ready", "collection", cfg.Collection, "dim", cfg.VectorDim)
	return idx, nil
}

// Close releases the underlying gRPC connection.
func (q *QdrantIndex) Close() error {
	return q.client.Close()
}

// HealthCheck verifies the collection is reachable.
func (q *QdrantIndex) HealthCheck(ctx context.Context) error {
	exists, err := q.client.CollectionExists(ctx, q.collection)
	if err != nil {
		return fmt.Errorf("qdrant health check failed: %w", err)
	}
	if !exists {
		return qerr.Consistencyf("collection %q missing", q.collection)
	}
	return nil
}

// EnsureCollection creates the fragments collection if absent.
func (q *QdrantIndex) EnsureCollection(ctx context.Context) error {
	exists, err := q.client.CollectionExists(ctx, q.collection)
	if err != nil {
		return fmt.Errorf("check collection %q: %w", q.collection, err)
	}
	if exists {
		return nil
	}
	err = q.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: q.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     q.vectorDim,
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("create collection %q: %w", q.collection, err)
	}
	q.logger.Info("collection created", "collection", q.collection)
	return nil
}

// pointID derives a stable UUID from the tenant-scoped fragment key so
// re-ingesting overwrites instead of duplicating.
func pointID(projectID, fragmentID string) *qdrant.PointId {
	u := uuid.NewSHA1(uuid.NameSpaceOID, []byte(projectID+"/"+fragmentID))
	return qdrant.NewIDUUID(u.String())
}

// Upsert writes a batch of points. On failure the batch splits in half and
// retries down to single points, so one poisoned vector cannot sink a whole
// interview.
func (q *QdrantIndex) Upsert(ctx context.Context, points []Point) error {
	if len(points) == 0 {
		return nil
	}
	start := time.Now()
	if err := q.upsertBatch(ctx, points); err != nil {
		return err
	}
	q.logger.Info("vectors upserted", "points", len(points), "latency", time.Since(start))
	return nil
}

func (q *QdrantIndex) upsertBatch(ctx context.Context, points []Point) error {
	structs := make([]*qdrant.PointStruct, 0, len(points))
	for _, p := range points {
		if len(p.Vector) != int(q.vectorDim) {
			return qerr.Validationf("fragment %s has vector of length %d, collection expects %d",
				p.FragmentID, len(p.Vector), q.vectorDim)
		}
		structs = append(structs, &qdrant.PointStruct{
			Id:      pointID(p.ProjectID, p.FragmentID),
			Vectors: qdrant.NewVectors(p.Vector...),
			Payload: qdrant.NewValueMap(map[string]any{
				"fragment_id": p.FragmentID,
				"project_id":  p.ProjectID,
				"archivo":     p.Archivo,
				"par_idx":     int64(p.ParIdx),
				"speaker":     p.Speaker,
				"text":        p.Text,
			}),
		})
	}

	_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: q.collection,
		Points:         structs,
		Wait:           qdrant.PtrOf(true),
	})
	if err == nil {
		return nil
	}
	if len(points) == 1 {
		return qerr.Transient(fmt.Sprintf("upsert point %s", points[0].FragmentID), err)
	}

	// Split and retry each half; narrows the failure to the offending point.
	mid := len(points) / 2
	q.logger.Warn("upsert batch failed, splitting", "size", len(points), "error", err)
	if err := q.upsertBatch(ctx, points[:mid]); err != nil {
		return err
	}
	return q.upsertBatch(ctx, points[mid:])
}

// tenantFilter builds the mandatory per-query filter: project isolation,
// interviewer exclusion and optional scoping.
func (q *QdrantIndex) tenantFilter(projectID, archivo string, includeInterviewer bool, excludeIDs []string) *qdrant.Filter {
	f := &qdrant.Filter{
		Must: []*qdrant.Condition{qdrant.NewMatch("project_id", projectID)},
	}
	if archivo != "" {
		f.Must = append(f.Must, qdrant.NewMatch("archivo", archivo))
	}
	if !includeInterviewer {
		f.MustNot = append(f.MustNot, qdrant.NewMatch("speaker", models.SpeakerInterviewer))
	}
	if len(excludeIDs) > 0 {
		ids := make([]*qdrant.PointId, 0, len(excludeIDs))
		for _, id := range excludeIDs {
			ids = append(ids, pointID(projectID, id))
		}
		f.MustNot = append(f.MustNot, qdrant.NewHasID(ids...))
	}
	return f
}

// Search runs a plain kNN query under the tenant filter.
func (q *QdrantIndex) Search(ctx context.Context, p SearchParams) ([]Result, error) {
	if p.ProjectID == "" {
		return nil, qerr.TenantRequired("project_id")
	}
	if p.Limit <= 0 {
		p.Limit = 10
	}
	hits, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: q.collection,
		Query:          qdrant.NewQuery(p.Vector...),
		Filter:         q.tenantFilter(p.ProjectID, p.Archivo, p.IncludeInterviewer, p.ExcludeIDs),
		Limit:          qdrant.PtrOf(uint64(p.Limit)),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, qerr.Transient("qdrant search", err)
	}
	return q.toResults(hits, 0), nil
}

// Discover runs context-steered discovery. With both positive and negative
// examples it uses the native discovery API; with positives only it falls
// back to a centroid query, optionally blended with the target. The returned
// bool reports which path produced the hits, so callers can label provenance
// honestly. Hits under the anchor score floor are dropped on the fallback
// path only, where scores are cosine.
func (q *QdrantIndex) Discover(ctx context.Context, p DiscoverParams) ([]Result, bool, error) {
	if p.ProjectID == "" {
		return nil, false, qerr.TenantRequired("project_id")
	}
	if len(p.Positives) == 0 {
		return nil, false, qerr.Validation("discovery requires at least one positive example")
	}
	if p.Limit <= 0 {
		p.Limit = 10
	}
	filter := q.tenantFilter(p.ProjectID, "", p.IncludeInterviewer, p.ExcludeIDs)

	if len(p.Negatives) == 0 {
		res, err := q.discoverFallback(ctx, p, filter)
		return res, false, err
	}

	pairs := buildContextPairs(p.Positives, p.Negatives)
	input := &qdrant.DiscoverInput{
		Context: &qdrant.ContextInput{},
	}
	if p.Target != nil {
		input.Target = qdrant.NewVectorInput(p.Target...)
	}
	for _, pair := range pairs {
		neg := pair.negative
		if neg == nil {
			// Surplus positives pair against the negative centroid.
			neg = MeanVector(p.Negatives)
		}
		input.Context.Pairs = append(input.Context.Pairs, &qdrant.ContextInputPair{
			Positive: qdrant.NewVectorInput(pair.positive...),
			Negative: qdrant.NewVectorInput(neg...),
		})
	}

	hits, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: q.collection,
		Query:          qdrant.NewQueryDiscover(input),
		Filter:         filter,
		Limit:          qdrant.PtrOf(uint64(p.Limit)),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		q.logger.Warn("native discovery failed, using fallback query", "error", err)
		res, ferr := q.discoverFallback(ctx, p, filter)
		return res, false, ferr
	}
	// Native discovery scores are rank-only, not similarities; the floor
	// applies to the fallback path where scores are cosine.
	return q.toResults(hits, 0), true, nil
}

func (q *QdrantIndex) discoverFallback(ctx context.Context, p DiscoverParams, filter *qdrant.Filter) ([]Result, error) {
	query := BlendWithTarget(FallbackQuery(p.Positives, p.Negatives), p.Target)
	if query == nil {
		return nil, qerr.Validation("fallback discovery produced no query vector")
	}
	hits, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: q.collection,
		Query:          qdrant.NewQuery(query...),
		Filter:         filter,
		Limit:          qdrant.PtrOf(uint64(p.Limit)),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, qerr.Transient("qdrant fallback discovery", err)
	}
	return q.toResults(hits, q.scoreFloor), nil
}

func (q *QdrantIndex) toResults(hits []*qdrant.ScoredPoint, floor float64) []Result {
	out := make([]Result, 0, len(hits))
	for _, h := range hits {
		score := float64(h.Score)
		if floor > 0 && score < floor {
			continue
		}
		payload := h.Payload
		r := Result{Score: score}
		if v, ok := payload["fragment_id"]; ok {
			r.FragmentID = v.GetStringValue()
		}
		if v, ok := payload["archivo"]; ok {
			r.Archivo = v.GetStringValue()
		}
		if v, ok := payload["par_idx"]; ok {
			r.ParIdx = int(v.GetIntegerValue())
		}
		if v, ok := payload["speaker"]; ok {
			r.Speaker = v.GetStringValue()
		}
		if v, ok := payload["text"]; ok {
			r.Text = v.GetStringValue()
		}
		out = append(out, r)
	}
	return out
}

// ListFragmentIDs scrolls every point of one tenant; the tri-store verifier
// compares this against the relational anchor.
func (q *QdrantIndex) ListFragmentIDs(ctx context.Context, projectID string) ([]string, error) {
	if projectID == "" {
		return nil, qerr.TenantRequired("project_id")
	}
	filter := &qdrant.Filter{
		Must: []*qdrant.Condition{qdrant.NewMatch("project_id", projectID)},
	}

	var ids []string
	seen := map[string]bool{}
	var offset *qdrant.PointId
	for {
		points, err := q.client.Scroll(ctx, &qdrant.ScrollPoints{
			CollectionName: q.collection,
			Filter:         filter,
			Limit:          qdrant.PtrOf(uint32(256)),
			Offset:         offset,
			WithPayload:    qdrant.NewWithPayloadInclude("fragment_id"),
		})
		if err != nil {
			return nil, qerr.Transient("qdrant scroll", err)
		}
		if len(points) == 0 {
			break
		}
		for _, p := range points {
			if v, ok := p.Payload["fragment_id"]; ok {
				id := v.GetStringValue()
				if !seen[id] {
					seen[id] = true
					ids = append(ids, id)
				}
			}
		}
		if len(points) < 256 {
			break
		}
		offset = points[len(points)-1].Id
	}
	return ids, nil
}

// DeleteByProject removes every point of one tenant.
func (q *QdrantIndex) DeleteByProject(ctx context.Context, projectID string) error {
	if projectID == "" {
		return qerr.TenantRequired("project_id")
	}
	_, err := q.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: q.collection,
		Points: qdrant.NewPointsSelectorFilter(&qdrant.Filter{
			Must: []*qdrant.Condition{qdrant.NewMatch("project_id", projectID)},
		}),
	})
	if err != nil {
		return qerr.Transient("delete project vectors", err)
	}
	return nil
}

// DeleteFragment removes one point by its derived id.
func (q *QdrantIndex) DeleteFragment(ctx context.Context, projectID, fragmentID string) error {
	if projectID == "" {
		return qerr.TenantRequired("project_id")
	}
	_, err := q.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: q.collection,
		Points:         qdrant.NewPointsSelector(pointID(projectID, fragmentID)),
	})
	if err != nil {
		return qerr.Transient("delete fragment vector", err)
	}
	return nil
}
