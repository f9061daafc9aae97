package provider

import (
	"net/http"
	"net/http/httptest"
	"net/url"
)

// redirectTransport rewrites every outgoing request's scheme and host to
// point at a local httptest.Server, leaving the path and query untouched.
// Adapters hard-code their upstream URLs (matching the teacher's direct
// http.Client.Do calls), so this is the seam tests use to substitute a
// fake server without changing production code.
type redirectTransport struct {
	target *url.URL
}

func redirectingClient(ts *httptest.Server) *http.Client {
	u, _ := url.Parse(ts.URL)
	return &http.Client{Transport: &redirectTransport{target: u}}
}

func (rt *redirectTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.URL.Scheme = rt.target.Scheme
	req.URL.Host = rt.target.Host
	req.Host = rt.target.Host
	return http.DefaultTransport.RoundTrip(req)
}

// httptestMux builds a ServeMux that serves a fixed response body on each
// registered path, ignoring query parameters (the adapters under test
// compose the full query string themselves).
func httptestMux(byPath map[string]string) http.Handler {
	mux := http.NewServeMux()
	for path, body := range byPath {
		body := body
		mux.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(body))
		})
	}
	return mux
}
