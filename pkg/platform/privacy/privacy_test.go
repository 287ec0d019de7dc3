package privacy

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAnonymizeIP(t *testing.T) {
	assert.Equal(t, "203.0.113.0/24", AnonymizeIP("203.0.113.77"))
	assert.Equal(t, "2001:db8:abcd::/48", AnonymizeIP("2001:db8:abcd:12::1"))
	assert.Equal(t, "invalid", AnonymizeIP("not-an-ip"))
	assert.Equal(t, "", AnonymizeIP(""))
}

func TestHashIP(t *testing.T) {
	a := HashIP("salt", "203.0.113.77")
	assert.Len(t, a, 64)
	assert.Equal(t, a, HashIP("salt", "203.0.113.77"))
	assert.NotEqual(t, a, HashIP("other", "203.0.113.77"))
	assert.Empty(t, HashIP("salt", ""))
}

func TestDigest_SeparatesParts(t *testing.T) {
	assert.NotEqual(t, Digest("k", "ab", "c"), Digest("k", "a", "bc"))
}
