package auth

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"fgcmatch/pkg/backend"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "session.bin")
	fs, err := NewFileStore(path, "correct horse")
	require.NoError(t, err)

	s, err := fs.Load()
	require.NoError(t, err)
	assert.Nil(t, s)

	in := &backend.Session{AccessToken: "at", RefreshToken: "refresh-token-in-plaintext", ExpiresAt: 42, User: backend.User{ID: "u1"}}
	require.NoError(t, fs.Save(in))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "refresh-token-in-plaintext")

	out, err := fs.Load()
	require.NoError(t, err)
	assert.Equal(t, in.RefreshToken, out.RefreshToken)
	assert.Equal(t, "u1", out.User.ID)

	wrong, err := NewFileStore(path, "battery staple")
	require.NoError(t, err)
	_, err = wrong.Load()
	assert.True(t, errors.Is(err, ErrBadPassphrase))

	require.NoError(t, fs.Clear())
	s, err = fs.Load()
	require.NoError(t, err)
	assert.Nil(t, s)
}

func TestFileStoreRequiresPassphrase(t *testing.T) {
	_, err := NewFileStore("x", "")
	assert.Error(t, err)
}

func TestParseAccessToken(t *testing.T) {
	sign := func(secret string, claims jwt.MapClaims) string {
		tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
		require.NoError(t, err)
		return tok
	}
	good := sign("s3cret", jwt.MapClaims{"sub": "u1", "email": "a@b.c", "app_metadata": map[string]string{"role": "admin"}})

	c, err := ParseAccessToken("s3cret", good)
	require.NoError(t, err)
	assert.Equal(t, "u1", c.Subject)
	assert.True(t, c.IsAdmin())

	_, err = ParseAccessToken("other", good)
	assert.True(t, errors.Is(err, ErrInvalidToken))

	c, err = ParseAccessToken("", good)
	require.NoError(t, err)
	assert.Equal(t, "a@b.c", c.Email)

	_, err = ParseAccessToken("", sign("s3cret", jwt.MapClaims{"email": "x"}))
	assert.True(t, errors.Is(err, ErrInvalidToken))
	_, err = ParseAccessToken("", "not-a-token")
	assert.Error(t, err)
}
