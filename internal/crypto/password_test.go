package crypto

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashPassword(t *testing.T) {
	hash, err := HashPassword("correct horse battery staple")
	require.NoError(t, err)

	assert.NotEqual(t, "correct horse battery staple", hash)
	assert.True(t, strings.HasPrefix(hash, "$2a$"), "hash %q is not a bcrypt hash", hash)

	// bcrypt salts per hash, so the same password never hashes twice to the
	// same value.
	again, err := HashPassword("correct horse battery staple")
	require.NoError(t, err)
	assert.NotEqual(t, hash, again)
}

func TestVerifyPassword(t *testing.T) {
	hash, err := HashPassword("s3cret")
	require.NoError(t, err)

	assert.True(t, VerifyPassword("s3cret", hash))
	assert.False(t, VerifyPassword("S3cret", hash))
	assert.False(t, VerifyPassword("", hash))
	assert.False(t, VerifyPassword("s3cret", "not-a-bcrypt-hash"))
}
