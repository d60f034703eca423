// SPDX-License-Identifier: AGPL-3.0-only
package loader

import (
	"context"
	"time"

	"github.com/fluffyriot/streakfeed/internal/store"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/graph-gophers/dataloader"
)

type contextKey string

const key = contextKey("dataloaders")

// Loaders batches per-request lookups so a feed page costs one store
// round trip per concern instead of one per post.
type Loaders struct {
	ReplyCountByPostID *dataloader.Loader
}

// Middleware installs fresh loaders on each request context. Loaders
// must not outlive a request, their caches are never invalidated.
func Middleware(posts store.PostStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		batchFn := func(ctx context.Context, keys dataloader.Keys) []*dataloader.Result {
			results := make([]*dataloader.Result, len(keys))

			ids := make([]uuid.UUID, 0, len(keys))
			for _, k := range keys {
				id, err := uuid.Parse(k.String())
				if err != nil {
					continue
				}
				ids = append(ids, id)
			}

			counts, err := posts.ReplyCountsByPostIDs(ctx, ids)
			if err != nil {
				for i := range results {
					results[i] = &dataloader.Result{Error: err}
				}
				return results
			}

			for i, k := range keys {
				id, err := uuid.Parse(k.String())
				if err != nil {
					results[i] = &dataloader.Result{Error: err}
					continue
				}
				results[i] = &dataloader.Result{Data: counts[id]}
			}
			return results
		}

		loaders := Loaders{
			ReplyCountByPostID: dataloader.NewBatchedLoader(batchFn, dataloader.WithWait(time.Millisecond*1)),
		}

		ctx := context.WithValue(c.Request.Context(), key, &loaders)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// For extracts the request's loaders, nil when the middleware did not run.
func For(ctx context.Context) *Loaders {
	l, _ := ctx.Value(key).(*Loaders)
	return l
}

// ReplyCount resolves one post's reply count through the batch loader.
func (l *Loaders) ReplyCount(ctx context.Context, postID uuid.UUID) (int, error) {
	thunk := l.ReplyCountByPostID.Load(ctx, dataloader.StringKey(postID.String()))
	v, err := thunk()
	if err != nil {
		return 0, err
	}
	n, _ := v.(int)
	return n, nil
}
