package storage

import (
	"context"
	"net/url"
	"strings"
)

// Resolver turns a stored attachment key into a URL a client can fetch.
type Resolver interface {
	URL(ctx context.Context, key string) (string, error)
}

// StaticResolver joins keys onto a public base URL such as a CDN origin.
type StaticResolver struct {
	BaseURL string
}

func (s StaticResolver) URL(_ context.Context, key string) (string, error) {
	if strings.HasPrefix(key, "http://") || strings.HasPrefix(key, "https://") {
		return key, nil
	}
	if s.BaseURL == "" {
		return "/" + strings.TrimPrefix(key, "/"), nil
	}
	return url.JoinPath(s.BaseURL, key)
}
