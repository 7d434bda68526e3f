package transport

import "net/http"

// requireBearer wraps next with the shared-secret check spec.md §6
// requires on mutating and gossip endpoints: "Authorization: Bearer
// {hash_seed.0:016x}-{hash_seed.1:016x}". Grounded on
// internal/middleware/rbac.go's "pull identity off the request, reject
// with a JSON 401" shape, collapsed from per-user RBAC permission
// lookups to a single shared token comparison — this system has no
// concept of users or sessions, only one pre-shared bearer value.
func (s *Server) requireBearer(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != s.bearer {
			respondError(w, errNotAuthorized)
			return
		}
		next(w, r)
	}
}
