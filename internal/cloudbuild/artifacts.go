package cloudbuild

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// ArtifactIndex queries the build service for already-published output.
type ArtifactIndex struct {
	server     string
	httpClient *http.Client
}

// NewArtifactIndex returns an index for the build service at server. A nil
// httpClient uses a client with a 50s timeout.
func NewArtifactIndex(server string, httpClient *http.Client) *ArtifactIndex {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 50 * time.Second}
	}
	return &ArtifactIndex{server: strings.TrimRight(server, "/"), httpClient: httpClient}
}

// Exists reports whether artifacts for name@version are already stored.
// The service answers GET /oss?prefix=<name>@<version>/ with a JSON array
// of objects, optionally wrapped as {"data": [...]}.
func (a *ArtifactIndex) Exists(ctx context.Context, name, version string) (bool, error) {
	q := url.Values{}
	q.Set("prefix", name+"@"+version+"/")
	urlStr := a.server + "/oss?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, urlStr, nil)
	if err != nil {
		return false, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("artifact lookup failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10*1024*1024))
	if err != nil {
		return false, fmt.Errorf("failed to read artifact lookup response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return false, fmt.Errorf("artifact lookup: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		return false, nil
	}
	if !gjson.ValidBytes(body) {
		return false, fmt.Errorf("artifact lookup: invalid JSON response")
	}

	list := gjson.ParseBytes(body)
	if !list.IsArray() {
		list = list.Get("data")
	}
	return list.IsArray() && len(list.Array()) > 0, nil
}
