package cloudinary

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublicIDFromURL(t *testing.T) {
	cases := map[string]string{
		"https://res.cloudinary.com/demo/image/upload/v1712345678/fgcmatch/avatars/u1.png":                   "fgcmatch/avatars/u1",
		"https://res.cloudinary.com/demo/image/upload/q_auto,f_auto,w_200,c_fill/v17/fgcmatch/support/a.jpg": "fgcmatch/support/a",
		"https://res.cloudinary.com/demo/image/upload/q_auto,f_auto,w_800,c_fill/sample":                     "sample",
		"https://res.cloudinary.com/demo/image/upload/sample.webp":                                           "sample",
	}
	for in, want := range cases {
		got, err := PublicIDFromURL(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := PublicIDFromURL("https://example.com/avatar.png")
	assert.Error(t, err)
}

func TestBuildOptimizedImageURL(t *testing.T) {
	assert.Equal(t, "https://res.cloudinary.com/demo/image/upload/q_auto,f_auto,w_800,c_fill/x",
		BuildOptimizedImageURL("demo", "x", 0))
	assert.Equal(t, "https://res.cloudinary.com/demo/image/upload/q_auto,f_auto,w_200,c_fill/x",
		BuildOptimizedImageURL("demo", "x", ThumbWidth))
}
