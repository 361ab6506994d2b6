package knowledge

import (
	"context"
	"sort"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/clinic-ai-engine/pkg/logging"
)

const docsKeyPrefix = "kb:docs:"

// Retriever returns tenant-scoped knowledge snippets relevant to a query.
// The contract degrades instead of erroring: on a miss, an empty corpus, or a
// store failure the retriever returns a small fixed default set so the
// conversation always has something to lean on.
type Retriever interface {
	Retrieve(ctx context.Context, tenantID, query string, limit int) ([]string, error)
}

// defaultSnippets is the degraded answer set when a tenant has no matching
// knowledge.
var defaultSnippets = []string{
	"Consultations are available for all treatments; the clinic will confirm pricing in person.",
	"Appointments can be rescheduled up to 24 hours in advance at no charge.",
	"A licensed provider reviews every treatment plan before it is performed.",
}

// RedisRetriever serves knowledge snippets from per-tenant Redis lists with
// naive keyword overlap scoring. The ranking algorithm is deliberately simple;
// a smarter ranker can replace this implementation behind the same contract.
type RedisRetriever struct {
	client *redis.Client
	logger *logging.Logger
}

// NewRedisRetriever creates a Redis-backed retriever.
func NewRedisRetriever(client *redis.Client, logger *logging.Logger) *RedisRetriever {
	if client == nil {
		panic("knowledge: redis client cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &RedisRetriever{client: client, logger: logger}
}

func docsKey(tenantID string) string {
	return docsKeyPrefix + tenantID
}

// AppendDocuments pushes snippets onto the tenant's corpus.
func (r *RedisRetriever) AppendDocuments(ctx context.Context, tenantID string, docs []string) error {
	if len(docs) == 0 {
		return nil
	}
	args := make([]interface{}, len(docs))
	for i, d := range docs {
		args[i] = d
	}
	return r.client.RPush(ctx, docsKey(tenantID), args...).Err()
}

// Retrieve scores the tenant's snippets against the query and returns the
// top matches, falling back to the default set when nothing scores.
func (r *RedisRetriever) Retrieve(ctx context.Context, tenantID, query string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 3
	}

	docs, err := r.client.LRange(ctx, docsKey(tenantID), 0, -1).Result()
	if err != nil {
		r.logger.Warn("knowledge store unavailable, serving defaults", "error", err, "tenant_id", tenantID)
		return clampDefaults(limit), nil
	}

	scored := scoreDocs(docs, query)
	if len(scored) == 0 {
		return clampDefaults(limit), nil
	}
	if len(scored) > limit {
		scored = scored[:limit]
	}
	return scored, nil
}

type scoredDoc struct {
	doc   string
	score int
	index int
}

func scoreDocs(docs []string, query string) []string {
	terms := tokenize(query)
	if len(terms) == 0 {
		return nil
	}

	var scored []scoredDoc
	for i, doc := range docs {
		lower := strings.ToLower(doc)
		score := 0
		for term := range terms {
			if strings.Contains(lower, term) {
				score++
			}
		}
		if score > 0 {
			scored = append(scored, scoredDoc{doc: doc, score: score, index: i})
		}
	}

	sort.Slice(scored, func(i, j int) bool {
		if scored[i].score != scored[j].score {
			return scored[i].score > scored[j].score
		}
		return scored[i].index < scored[j].index
	})

	out := make([]string, len(scored))
	for i, s := range scored {
		out[i] = s.doc
	}
	return out
}

func tokenize(query string) map[string]struct{} {
	terms := make(map[string]struct{})
	for _, word := range strings.Fields(strings.ToLower(query)) {
		word = strings.Trim(word, ".,!?;:\"'")
		if len(word) < 3 {
			continue
		}
		terms[word] = struct{}{}
	}
	return terms
}

func clampDefaults(limit int) []string {
	if limit >= len(defaultSnippets) {
		out := make([]string, len(defaultSnippets))
		copy(out, defaultSnippets)
		return out
	}
	out := make([]string, limit)
	copy(out, defaultSnippets[:limit])
	return out
}
