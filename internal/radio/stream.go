// SPDX-License-Identifier: MIT

package radio

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/stasaberg/gitgud-edge/internal/apierr"
)

// fetchUpstream issues a GET against an upstream stream URL with the proxy
// timeout, passing through only the named request headers.
func (s *AppState) fetchUpstream(r *http.Request, targetURL string, headerNames []string) (*http.Response, error) {
	ctx, cancel := context.WithTimeout(r.Context(), s.Config.Proxy.Timeout)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, targetURL, nil)
	if err != nil {
		cancel()
		return nil, apierr.ServiceUnavailable("Failed to reach stream URL.")
	}
	for _, name := range headerNames {
		if value := r.Header.Get(name); value != "" {
			req.Header.Set(name, value)
		}
	}

	response, err := http.DefaultClient.Do(req)
	if err != nil {
		cancel()
		if ctx.Err() == context.DeadlineExceeded {
			return nil, apierr.ServiceUnavailable("Stream request timed out")
		}
		return nil, apierr.ServiceUnavailable("Failed to reach stream URL.")
	}
	// The cancel travels with the body: closing the response releases it.
	response.Body = &cancelOnCloseBody{ReadCloser: response.Body, cancel: cancel}
	return response, nil
}

type cancelOnCloseBody struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *cancelOnCloseBody) Close() error {
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}

// forwardStreamResponse streams the upstream body to the client, dropping
// hop-by-hop framing headers.
func forwardStreamResponse(w http.ResponseWriter, response *http.Response) {
	for name, values := range response.Header {
		if strings.EqualFold(name, "Transfer-Encoding") {
			continue
		}
		w.Header()[name] = values
	}
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(response.StatusCode)
	_, _ = io.Copy(w, response.Body)
}

func writePlaylist(w http.ResponseWriter, playlist string) {
	w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(playlist))
}

// parseSegmentSource decodes and parses the rewritten segment source URL.
func parseSegmentSource(source string) (*url.URL, error) {
	decoded, err := url.QueryUnescape(source)
	if err != nil {
		return nil, apierr.BadRequest("Invalid segment URL provided.")
	}
	target, err := url.Parse(decoded)
	if err != nil || target.Host == "" {
		return nil, apierr.BadRequest("Invalid segment URL provided.")
	}
	return target, nil
}

// checkSegmentOrigin requires the segment target to share the station's
// declared stream origin and to use https.
func checkSegmentOrigin(streamURL string, target *url.URL) error {
	origin, err := url.Parse(streamURL)
	if err != nil {
		return apierr.Forbidden("Segment URL is not permitted.")
	}
	if !strings.EqualFold(origin.Scheme, target.Scheme) ||
		!strings.EqualFold(origin.Host, target.Host) {
		return apierr.Forbidden("Segment URL is not permitted.")
	}
	if target.Scheme != "https" {
		return apierr.Forbidden("Stream segments must use HTTPS.")
	}
	return nil
}
