// SPDX-License-Identifier: MIT

package gateway

import "net/http"

// The interactive documentation assets are maintained outside this service;
// the gateway serves a minimal landing page and spec stub in their place.

const docsHTML = `<!doctype html>
<html>
<head><title>gitgud.zip API</title></head>
<body>
<h1>gitgud.zip API</h1>
<p>Machine-readable specification: <a href="/docs/json">/docs/json</a></p>
</body>
</html>
`

const docsSpec = `{
  "openapi": "3.0.3",
  "info": {"title": "gitgud.zip gateway", "version": "1.0.0"},
  "paths": {
    "/session": {"post": {"summary": "Issue a session"}},
    "/contact": {"post": {"summary": "Submit a contact request"}},
    "/healthz": {"get": {"summary": "Liveness probe"}},
    "/internal/status": {"get": {"summary": "Runtime status"}}
  }
}
`

func (s *AppState) handleDocsHTML(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(docsHTML))
}

func (s *AppState) handleDocsSpec(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(docsSpec))
}
