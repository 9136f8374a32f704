package cache

import (
	"net/http"
	"sort"
	"strings"
)

const keySeparator = "|"

// KeyGenerator derives a cache key from a request.
type KeyGenerator interface {
	GenerateKey(r *http.Request) string
}

// KeyConfig controls which request attributes contribute to the key.
// The method, path and User-Agent are always part of it.
type KeyConfig struct {
	IncludeQuery bool
	Headers      []string
}

type keyGenerator struct {
	includeQuery bool
	headers      []string
}

// NewKeyGenerator creates a KeyGenerator. A nil config yields the default
// method + path + user-agent key.
func NewKeyGenerator(cfg *KeyConfig) KeyGenerator {
	kg := &keyGenerator{}
	if cfg == nil {
		return kg
	}

	kg.includeQuery = cfg.IncludeQuery
	for _, h := range cfg.Headers {
		kg.headers = append(kg.headers, http.CanonicalHeaderKey(h))
	}
	sort.Strings(kg.headers)

	return kg
}

// DefaultKeyGenerator returns the method + path + user-agent generator.
func DefaultKeyGenerator() KeyGenerator {
	return &keyGenerator{}
}

// GenerateKey builds the key.
func (kg *keyGenerator) GenerateKey(r *http.Request) string {
	var b strings.Builder
	b.WriteString(r.Method)
	b.WriteString(keySeparator)
	b.WriteString(r.URL.Path)
	b.WriteString(keySeparator)
	b.WriteString(r.UserAgent())

	if kg.includeQuery && r.URL.RawQuery != "" {
		b.WriteString(keySeparator)
		// Encode sorts by key so equivalent queries share an entry.
		b.WriteString(r.URL.Query().Encode())
	}

	for _, h := range kg.headers {
		b.WriteString(keySeparator)
		b.WriteString(h)
		b.WriteByte('=')
		b.WriteString(r.Header.Get(h))
	}

	return b.String()
}
