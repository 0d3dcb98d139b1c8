package middleware

import (
	"net/http"

	"github.com/rpattn/datalab/internal/repository"
	"github.com/rpattn/datalab/internal/sourceloader"
)

type ctxKey string

// DataLoaderMiddleware attaches a fresh source loader to the request context
func DataLoaderMiddleware(repos repository.Repositories) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			loader := sourceloader.New(repos)
			ctx := sourceloader.WithLoader(r.Context(), loader)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
