package api

import (
	"fmt"
	"net/url"
	"strings"
)

func parseBaseURL(baseURL string) (*url.URL, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, fmt.Errorf("base URL cannot be empty")
	}
	u, err := url.Parse(strings.TrimSuffix(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("base URL %q: scheme must be http or https", baseURL)
	}
	return u, nil
}

// buildEndpointURL keeps any path prefix of the base URL (the crew server
// may sit behind a reverse proxy) and drops its query.
func buildEndpointURL(base *url.URL, path string) string {
	u := base.JoinPath(path)
	u.RawQuery = ""
	u.Fragment = ""
	return u.String()
}
