package middleware

import (
	"context"
	"net/http"

	"github.com/pharmatrace/batchcore/internal/batchloader"
	"github.com/pharmatrace/batchcore/internal/repository"
)

type ctxKey string

const batchLoaderKey ctxKey = "batchLoader"

// DataLoaderMiddleware attaches a per-request batch loader to the context
func DataLoaderMiddleware(repo repository.BatchRepository) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			loader := batchloader.NewBatchLoader(repo)

			ctx := context.WithValue(r.Context(), batchLoaderKey, loader)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// BatchLoaderFromContext retrieves the batch loader from context
func BatchLoaderFromContext(ctx context.Context) *batchloader.BatchLoader {
	if l, ok := ctx.Value(batchLoaderKey).(*batchloader.BatchLoader); ok {
		return l
	}
	return nil
}
