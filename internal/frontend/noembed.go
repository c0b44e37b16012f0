//go:build !embed

package frontend

import "net/http"

// Handler returns nil when the binary was built without the embed tag;
// the server then runs API-only (or serves a directory in dev mode).
func Handler() http.Handler {
	return nil
}
