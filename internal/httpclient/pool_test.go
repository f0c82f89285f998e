package httpclient

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateProxy_AcceptsKnownSchemes(t *testing.T) {
	for _, u := range []string{"", "http://proxy:8080", "https://proxy:8443", "socks5://proxy:1080", "socks5h://proxy:1080"} {
		assert.NoError(t, ValidateProxy(u), u)
	}
}

func TestValidateProxy_RejectsBadSchemeOrHost(t *testing.T) {
	err := ValidateProxy("ftp://proxy:21")
	require.Error(t, err)
	assert.IsType(t, &ErrInvalidScheme{}, err)

	err = ValidateProxy("http://")
	require.Error(t, err)

	err = ValidateProxy("://not-a-url")
	require.Error(t, err)
}

func TestPool_GetClientCachesByProxyAndTimeout(t *testing.T) {
	p := NewPool()

	c1 := p.GetClient(5000)
	c2 := p.GetClient(5000)
	assert.Same(t, c1, c2, "same timeout and proxy must reuse the client")

	c3 := p.GetClient(10000)
	assert.NotSame(t, c1, c3, "different timeout must produce a distinct client")
}

func TestPool_ApplyProxyAffectsSubsequentClients(t *testing.T) {
	p := NewPool()

	before := p.GetClient(5000)

	require.NoError(t, p.ApplyProxy("http://localhost:9999"))
	after := p.GetClient(5000)

	assert.NotSame(t, before, after)

	require.Error(t, p.ApplyProxy("bogus://host"))
}
