package security

import (
	"crypto/subtle"
	"net/http"
)

// BasicAuth guards operator endpoints such as pprof. An empty User disables
// the check.
type BasicAuth struct {
	User  string
	Pass  string
	Realm string
}

func (b BasicAuth) Middleware(next http.Handler) http.Handler {
	if b.User == "" {
		return next
	}
	realm := b.Realm
	if realm == "" {
		realm = "restricted"
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		// Both comparisons run so timing does not reveal which one failed.
		userOK := subtle.ConstantTimeCompare([]byte(user), []byte(b.User))
		passOK := subtle.ConstantTimeCompare([]byte(pass), []byte(b.Pass))
		if !ok || userOK&passOK != 1 {
			w.Header().Set("WWW-Authenticate", `Basic realm="`+realm+`"`)
			http.Error(w, "unauthorised", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}
