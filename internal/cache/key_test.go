package cache

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeyGenerator_Default(t *testing.T) {
	kg := DefaultKeyGenerator()

	r1 := httptest.NewRequest("GET", "/users/1?b=2&a=1", nil)
	r1.Header.Set("User-Agent", "curl/8")
	r2 := httptest.NewRequest("GET", "/users/1?other=1", nil)
	r2.Header.Set("User-Agent", "curl/8")
	r3 := httptest.NewRequest("GET", "/users/1", nil)
	r3.Header.Set("User-Agent", "firefox")

	assert.Equal(t, "GET|/users/1|curl/8", kg.GenerateKey(r1))
	assert.Equal(t, kg.GenerateKey(r1), kg.GenerateKey(r2), "query is ignored by default")
	assert.NotEqual(t, kg.GenerateKey(r1), kg.GenerateKey(r3))
}

func TestKeyGenerator_Configured(t *testing.T) {
	kg := NewKeyGenerator(&KeyConfig{IncludeQuery: true, Headers: []string{"accept-language"}})

	r1 := httptest.NewRequest("GET", "/items?b=2&a=1", nil)
	r1.Header.Set("Accept-Language", "en")
	r2 := httptest.NewRequest("GET", "/items?a=1&b=2", nil)
	r2.Header.Set("Accept-Language", "en")
	r3 := httptest.NewRequest("GET", "/items?a=1&b=2", nil)
	r3.Header.Set("Accept-Language", "de")

	assert.Equal(t, kg.GenerateKey(r1), kg.GenerateKey(r2))
	assert.NotEqual(t, kg.GenerateKey(r2), kg.GenerateKey(r3))
	assert.Contains(t, kg.GenerateKey(r1), "Accept-Language=en")
}
