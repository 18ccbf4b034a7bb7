package feedback

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"log/slog"
	"math"

	"github.com/ospa-ai/relay/pkg/databases"
	"github.com/ospa-ai/relay/pkg/embedders"
)

var collectionProperties = []databases.Property{
	{Name: "agent_name", DataType: []string{"text"}},
	{Name: "observation_name", DataType: []string{"text"}},
	{Name: "observation_content", DataType: []string{"text"}},
	{Name: "action_name", DataType: []string{"text"}},
	{Name: "action_content", DataType: []string{"text"}},
	{Name: "state_name", DataType: []string{"text"}},
}

var searchFields = []string{
	"agent_name",
	"observation_name",
	"observation_content",
	"action_name",
	"action_content",
	"state_name",
}

// Store is the feedback service over one Weaviate instance. A nil embedder
// falls back to deterministic hash embeddings, which keeps dedup working
// without an embedding provider.
type Store struct {
	db        *databases.WeaviateClient
	embedder  embedders.Embedder
	dimension int
}

func NewStore(db *databases.WeaviateClient, embedder embedders.Embedder, dimension int) *Store {
	if dimension <= 0 {
		dimension = 1024
	}
	if embedder != nil {
		dimension = embedder.Dimension()
	}
	return &Store{db: db, embedder: embedder, dimension: dimension}
}

// EnsureCollection creates the agent's collection if missing.
func (s *Store) EnsureCollection(ctx context.Context, agentName string) error {
	return s.db.CreateCollection(ctx, CollectionName(agentName), collectionProperties)
}

// Upsert embeds the feedback tags and writes the object.
func (s *Store) Upsert(ctx context.Context, agentName string, fb Feedback) error {
	if err := s.EnsureCollection(ctx, agentName); err != nil {
		return err
	}

	vector := s.embed(ctx, fb.Tags())
	_, err := s.db.UpsertObject(ctx, databases.Object{
		Class: CollectionName(agentName),
		Properties: map[string]interface{}{
			"agent_name":          agentName,
			"observation_name":    fb.ObservationName,
			"observation_content": fb.ObservationContent,
			"action_name":         fb.ActionName,
			"action_content":      fb.ActionContent,
			"state_name":          fb.StateName,
		},
		Vector: vector,
	})
	return err
}

// Query embeds queryText and returns up to topK similar feedbacks,
// deduplicated by (observation_name, action_name, state_name). topK <= 0
// returns nothing.
func (s *Store) Query(ctx context.Context, agentName, queryText string, topK int) ([]Feedback, error) {
	if topK <= 0 {
		return nil, nil
	}

	exists, err := s.db.CollectionExists(ctx, CollectionName(agentName))
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, nil
	}

	vector := s.embed(ctx, queryText)
	hits, err := s.db.SearchByVector(ctx, CollectionName(agentName), vector, searchFields, topK)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var out []Feedback
	for _, hit := range hits {
		fb := feedbackFromProperties(hit)
		key := fb.dedupKey()
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, fb)
	}
	return out, nil
}

// List pages through the agent's stored feedbacks.
func (s *Store) List(ctx context.Context, agentName string, offset, limit int) ([]Feedback, error) {
	objects, err := s.db.ListObjects(ctx, CollectionName(agentName), offset, limit)
	if err != nil {
		return nil, err
	}
	out := make([]Feedback, 0, len(objects))
	for _, obj := range objects {
		out = append(out, feedbackFromProperties(obj.Properties))
	}
	return out, nil
}

// DeleteCollection removes the agent's collection entirely.
func (s *Store) DeleteCollection(ctx context.Context, agentName string) error {
	return s.db.DeleteCollection(ctx, CollectionName(agentName))
}

func (s *Store) embed(ctx context.Context, text string) []float32 {
	if s.embedder != nil {
		vector, err := s.embedder.EmbedText(ctx, text)
		if err == nil && len(vector) > 0 {
			return vector
		}
		slog.Warn("embedding failed, using hash fallback", "error", err)
	}
	return HashEmbedding(text, s.dimension)
}

func feedbackFromProperties(props map[string]interface{}) Feedback {
	str := func(key string) string {
		if v, ok := props[key].(string); ok {
			return v
		}
		return ""
	}
	return Feedback{
		ObservationName:    str("observation_name"),
		ObservationContent: str("observation_content"),
		ActionName:         str("action_name"),
		ActionContent:      str("action_content"),
		StateName:          str("state_name"),
	}
}

// HashEmbedding derives a deterministic unit-scaled vector from text. It
// carries no semantics but keeps identical texts at distance zero.
func HashEmbedding(text string, dimension int) []float32 {
	vector := make([]float32, dimension)
	digest := sha256.Sum256([]byte(text))

	seed := digest[:]
	for i := 0; i < dimension; i++ {
		if i > 0 && i%8 == 0 {
			next := sha256.Sum256(seed)
			seed = next[:]
		}
		bits := binary.BigEndian.Uint32(seed[(i%8)*4 : (i%8)*4+4])
		vector[i] = float32(bits%2000)/1000.0 - 1.0
	}

	var norm float64
	for _, v := range vector {
		norm += float64(v) * float64(v)
	}
	norm = math.Sqrt(norm)
	if norm > 0 {
		for i := range vector {
			vector[i] = float32(float64(vector[i]) / norm)
		}
	}
	return vector
}
