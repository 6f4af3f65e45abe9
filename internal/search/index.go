// Package search maintains a token index over user records in Redis, kept
// consistent with the record store by write-through indexing.
package search

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ErrUnavailable is returned when the index backend cannot be reached. It is
// distinct from an empty result: "no matches" is a successful search.
var ErrUnavailable = errors.New("search index unavailable")

// Index is a Redis-backed inverted index. Each token maps to the set of
// record ids containing it, and each record id maps back to its tokens so a
// reindex can drop stale entries.
type Index struct {
	rdb *redis.Client
	ns  string
	log *zap.Logger
}

func New(rdb *redis.Client, namespace string, log *zap.Logger) *Index {
	if namespace == "" {
		namespace = "directory"
	}
	return &Index{
		rdb: rdb,
		ns:  namespace,
		log: log.With(zap.String("module", "search")),
	}
}

// Index (re)indexes the searchable text of a record. Safe to call again for
// the same id; stale tokens from the previous text are removed first.
func (i *Index) Index(ctx context.Context, id int64, text string) error {
	docKey := i.docKey(id)

	stale, err := i.rdb.SMembers(ctx, docKey).Result()
	if err != nil {
		return i.unavailable("read doc tokens", err)
	}

	tokens := Tokenize(text)
	member := strconv.FormatInt(id, 10)

	pipe := i.rdb.TxPipeline()
	for _, token := range stale {
		pipe.SRem(ctx, i.tokenKey(token), member)
	}
	pipe.Del(ctx, docKey)
	for _, token := range tokens {
		pipe.SAdd(ctx, docKey, token)
		pipe.SAdd(ctx, i.tokenKey(token), member)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return i.unavailable("write doc tokens", err)
	}
	return nil
}

// Remove drops a record from the index entirely.
func (i *Index) Remove(ctx context.Context, id int64) error {
	docKey := i.docKey(id)

	tokens, err := i.rdb.SMembers(ctx, docKey).Result()
	if err != nil {
		return i.unavailable("read doc tokens", err)
	}

	member := strconv.FormatInt(id, 10)
	pipe := i.rdb.TxPipeline()
	for _, token := range tokens {
		pipe.SRem(ctx, i.tokenKey(token), member)
	}
	pipe.Del(ctx, docKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return i.unavailable("remove doc tokens", err)
	}
	return nil
}

// Search resolves query text to record ids ranked by how many query tokens
// each record matched, ties broken by id ascending. An unreachable backend
// returns ErrUnavailable rather than an empty result.
func (i *Index) Search(ctx context.Context, query string) ([]int64, error) {
	tokens := Tokenize(query)
	if len(tokens) == 0 {
		return []int64{}, nil
	}

	hits := make(map[int64]int)
	for _, token := range tokens {
		members, err := i.rdb.SMembers(ctx, i.tokenKey(token)).Result()
		if err != nil {
			return nil, i.unavailable("read token set", err)
		}
		for _, member := range members {
			id, err := strconv.ParseInt(member, 10, 64)
			if err != nil {
				continue
			}
			hits[id]++
		}
	}

	ids := make([]int64, 0, len(hits))
	for id := range hits {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(a, b int) bool {
		if hits[ids[a]] != hits[ids[b]] {
			return hits[ids[a]] > hits[ids[b]]
		}
		return ids[a] < ids[b]
	})
	return ids, nil
}

func (i *Index) tokenKey(token string) string {
	return i.ns + ":token:" + token
}

func (i *Index) docKey(id int64) string {
	return i.ns + ":doc:" + strconv.FormatInt(id, 10)
}

func (i *Index) unavailable(op string, err error) error {
	i.log.Warn("search index backend error",
		zap.String("op", op),
		zap.Error(err),
	)
	return fmt.Errorf("%w: %s: %v", ErrUnavailable, op, err)
}
