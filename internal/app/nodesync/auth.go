package nodesync

import (
	"context"
	"crypto/subtle"
	"net/http"

	"github.com/Zerostate-IO/powerblockade/internal/app/domain"
	"github.com/Zerostate-IO/powerblockade/internal/app/storage"
)

// NodeKeyHeader is the fixed header every node-sync endpoint (except health
// and metrics) requires, per §4.F/§6.
const NodeKeyHeader = "X-PowerBlockade-Node-Key"

type nodeContextKey struct{}

// nodeFromContext returns the authenticated Node bound by authMiddleware.
func nodeFromContext(ctx context.Context) (domain.Node, bool) {
	n, ok := ctx.Value(nodeContextKey{}).(domain.Node)
	return n, ok
}

// authMiddleware resolves the caller's key to a Node by comparing it against
// every node's key with crypto/subtle.ConstantTimeCompare rather than an
// equality lookup, so a mismatch takes the same time regardless of how many
// leading bytes matched. Missing or
// invalid keys get a bare 401 with no body, so failure carries no signal
// about which part of the check failed.
func authMiddleware(store storage.Store) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get(NodeKeyHeader)
			if key == "" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			nodes, err := store.ListNodes(r.Context())
			if err != nil {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			var node domain.Node
			matched := 0
			for _, n := range nodes {
				if subtle.ConstantTimeCompare([]byte(key), []byte(n.APIKey)) == 1 {
					node, matched = n, 1
				}
			}
			if matched != 1 {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			ctx := context.WithValue(r.Context(), nodeContextKey{}, node)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
