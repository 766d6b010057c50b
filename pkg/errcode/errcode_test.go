package errcode

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodeOf(t *testing.T) {
	err := New(NotFound, "document not found")
	assert.Equal(t, NotFound, CodeOf(err))
	assert.True(t, HasCode(err, NotFound))
	assert.False(t, HasCode(err, Locked))

	// Codes survive wrapping with fmt.Errorf.
	wrapped := fmt.Errorf("loading document: %w", err)
	assert.Equal(t, NotFound, CodeOf(wrapped))

	assert.Equal(t, Code(""), CodeOf(errors.New("plain")))
	assert.Equal(t, Code(""), CodeOf(nil))
}

func TestWrapExposesCause(t *testing.T) {
	cause := errors.New("row locked")
	err := Wrap(Conflict, "content changed", cause)

	assert.True(t, errors.Is(err, cause))
	assert.Contains(t, err.Error(), "CONFLICT")
	assert.Contains(t, err.Error(), "row locked")
}

func TestWithDetail(t *testing.T) {
	err := New(Locked, "version is locked").
		WithDetail("holder", "ada.author").
		WithDetail("expires_at", "soon")

	require.NotNil(t, err.Details)
	assert.Equal(t, "ada.author", err.Details["holder"])

	assert.Equal(t, "ada.author", DetailsOf(err)["holder"])
	assert.Nil(t, DetailsOf(errors.New("plain")))

	// Details are reachable through wrapping too.
	wrapped := fmt.Errorf("acquire: %w", err)
	assert.Equal(t, "ada.author", DetailsOf(wrapped)["holder"])
}
