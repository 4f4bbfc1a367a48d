package runner

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractFormatAcceptsWellFormedJSON(t *testing.T) {
	raw := "```json\n{\"title\": \"Intro to vector DBs\", \"body\": \"text\"}\n```"
	got := extractFormat("blog", raw)
	assert.JSONEq(t, `{"title": "Intro to vector DBs", "body": "text"}`, got)
}

func TestExtractFormatRepairsBlogOnly(t *testing.T) {
	malformed := `{'title': "Intro", 'body': "text",}`

	got := extractFormat("blog", malformed)
	assert.JSONEq(t, `{"title": "Intro", "body": "text"}`, got)

	// Non-blog formats never repair, per spec step 7c.
	gotSocial := extractFormat("social", malformed)
	assert.Equal(t, malformed, gotSocial)
}

func TestExtractFormatFallsBackWhenRepairFails(t *testing.T) {
	hopeless := "not json at all"
	got := extractFormat("blog", hopeless)
	assert.Equal(t, hopeless, got)
}

func TestExtractFormatPassesThroughUnscopedFormats(t *testing.T) {
	got := extractFormat("voiceover_audio", "  some text  ")
	assert.Equal(t, "some text", got)
}

func TestValidateSchemaRejectsMissingRequiredField(t *testing.T) {
	assert.False(t, validateSchema("blog", `{"title": "x"}`))
	assert.True(t, validateSchema("blog", `{"title": "x", "body": "y"}`))
	assert.False(t, validateSchema("social", `{"platform": "x", "post": ""}`))
	assert.False(t, validateSchema("video", `{"scenes": []}`))
}
