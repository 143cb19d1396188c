package session

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidID(t *testing.T) {
	valid := []string{
		"abc",
		"viewer-123",
		"a.b_c-d",
		"X",
		strings.Repeat("a", 128),
	}
	for _, id := range valid {
		assert.True(t, ValidID(id), "id %q", id)
	}

	invalid := []string{
		"",
		"has space",
		"slash/inside",
		"per%cent",
		"semi;colon",
		"ütf8",
		strings.Repeat("a", 129),
		"new\nline",
	}
	for _, id := range invalid {
		assert.False(t, ValidID(id), "id %q", id)
	}
}

func TestNewRedisStoreBadURL(t *testing.T) {
	_, err := NewRedisStore("not a url", 0, nil)
	assert.Error(t, err)

	_, err = NewRedisStore("redis://localhost:6379/0", 0, nil)
	assert.NoError(t, err)
}
