// internal/browser/cdp.go
package browser

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	json "github.com/json-iterator/go"
)

// ErrBrowserUnreachable is returned when nothing answers on the CDP endpoint.
var ErrBrowserUnreachable = errors.New("browser DevTools endpoint is unreachable")

// VersionInfo is the payload of GET /json/version.
type VersionInfo struct {
	Browser              string `json:"Browser"`
	ProtocolVersion      string `json:"Protocol-Version"`
	WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
}

// TargetInfo is one entry of GET /json/list.
type TargetInfo struct {
	ID    string `json:"id"`
	Type  string `json:"type"`
	Title string `json:"title"`
	URL   string `json:"url"`
}

// Probe fetches the DevTools version document from cdpURL.
func Probe(ctx context.Context, client *http.Client, cdpURL string) (*VersionInfo, error) {
	var info VersionInfo
	if err := getJSON(ctx, client, endpoint(cdpURL, "/json/version"), &info); err != nil {
		return nil, err
	}
	if info.WebSocketDebuggerURL == "" {
		return nil, fmt.Errorf("%w: no webSocketDebuggerUrl in /json/version response", ErrBrowserUnreachable)
	}
	return &info, nil
}

// PageTargets lists the open page targets (tabs), in the browser's order.
func PageTargets(ctx context.Context, client *http.Client, cdpURL string) ([]TargetInfo, error) {
	var all []TargetInfo
	if err := getJSON(ctx, client, endpoint(cdpURL, "/json/list"), &all); err != nil {
		return nil, err
	}
	pages := make([]TargetInfo, 0, len(all))
	for _, t := range all {
		if t.Type == "page" {
			pages = append(pages, t)
		}
	}
	return pages, nil
}

func endpoint(cdpURL, path string) string {
	return strings.TrimSuffix(cdpURL, "/") + path
}

func getJSON(ctx context.Context, client *http.Client, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to build request for %s: %w", url, err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBrowserUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: %s returned status %d", ErrBrowserUnreachable, url, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s: %w", url, err)
	}
	return nil
}
