package identity

import "net/http"

// ExtractToken pulls the voice JWT from the upgrade request: the `token`
// query parameter first (spec §6: "Token provided as ?token=… on the
// upgrade URL"), falling back to a Bearer Authorization header for plain
// HTTP requests.
func ExtractToken(r *http.Request) string {
	if tok := r.URL.Query().Get("token"); tok != "" {
		return tok
	}
	const prefix = "Bearer "
	if auth := r.Header.Get("Authorization"); len(auth) > len(prefix) && auth[:len(prefix)] == prefix {
		return auth[len(prefix):]
	}
	return ""
}
