package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDataURI(t *testing.T) {
	d, err := ParseDataURI("data:image/png;base64,iVBORw0KGgo=")
	require.NoError(t, err)
	assert.Equal(t, "image/png", d.MediaType)
	assert.Equal(t, "iVBORw0KGgo=", d.Data)
	assert.Equal(t, "data:image/png;base64,iVBORw0KGgo=", d.String())

	for _, bad := range []string{
		"",
		"image/png;base64,abc",
		"data:image/png,abc",
		"data:;base64,abc",
		"data:image/png;base64,",
		"data:image/png;charset=x;base64,abc",
	} {
		_, err := ParseDataURI(bad)
		assert.ErrorIs(t, err, ErrMalformedDataURI, bad)
	}
}

func TestProviderCatalog(t *testing.T) {
	assert.True(t, ProviderOpenAI.Valid())
	assert.False(t, Provider("gemini").Valid())
	assert.Equal(t, "gpt-3.5-turbo", ProviderOpenAI.DefaultModel())
	assert.Equal(t, "claude-3-5-sonnet-20241022", ProviderAnthropic.DefaultModel())
	assert.True(t, ValidModel(ProviderAnthropic, "claude-3-opus-20240229"))
	assert.False(t, ValidModel(ProviderOpenAI, "claude-3-opus-20240229"))

	p, err := ParseProvider(" Anthropic ")
	require.NoError(t, err)
	assert.Equal(t, ProviderAnthropic, p)
	_, err = ParseProvider("other")
	assert.Error(t, err)
}

func TestCloneMessagesIsDeep(t *testing.T) {
	orig := []Message{{ID: "1", Role: RoleUser, Images: []string{"a"}}}
	cp := CloneMessages(orig)
	cp[0].Images[0] = "b"
	cp[0].Content = "changed"
	assert.Equal(t, "a", orig[0].Images[0])
	assert.Empty(t, orig[0].Content)
	assert.NotNil(t, CloneMessages(nil))
}
