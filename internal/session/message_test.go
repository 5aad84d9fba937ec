package session

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageRoundTripText(t *testing.T) {
	in := `{"role":"user","content":"hello there"}`
	var msg Message
	require.NoError(t, json.Unmarshal([]byte(in), &msg))
	assert.Equal(t, "user", msg.Role)
	assert.Equal(t, "hello there", msg.Content.PlainText())

	out, err := json.Marshal(msg)
	require.NoError(t, err)
	assert.JSONEq(t, in, string(out))
}

func TestMessageRoundTripNullContent(t *testing.T) {
	in := `{"role":"assistant","content":null,"tool_calls":[{"id":"call_1","type":"function","function":{"name":"lookup","arguments":"{\"q\":\"x\"}"}}]}`
	var msg Message
	require.NoError(t, json.Unmarshal([]byte(in), &msg))
	assert.True(t, msg.Content.IsZero())
	assert.NotEmpty(t, msg.ToolCalls)

	out, err := json.Marshal(msg)
	require.NoError(t, err)
	assert.JSONEq(t, in, string(out))
}

func TestMessageRoundTripBlocks(t *testing.T) {
	// The image_url block carries fields the gateway does not model; they
	// must survive the round trip byte for byte.
	in := `{"role":"user","content":[{"type":"text","text":"look at this"},{"type":"image_url","image_url":{"url":"https://example.com/a.png","detail":"high"}}]}`
	var msg Message
	require.NoError(t, json.Unmarshal([]byte(in), &msg))

	out, err := json.Marshal(msg)
	require.NoError(t, err)
	assert.JSONEq(t, in, string(out))
}

func TestMessageRejectsBadContent(t *testing.T) {
	var msg Message
	err := json.Unmarshal([]byte(`{"role":"user","content":42}`), &msg)
	assert.Error(t, err)
}

func TestContentPlainText(t *testing.T) {
	assert.Equal(t, "hi", Text("hi").PlainText())
	assert.Equal(t, "", Content{}.PlainText())

	blocks := Blocks(TextBlock("first"), TextBlock("second"))
	assert.Equal(t, "first\nsecond", blocks.PlainText())
}

func TestContentPlainTextNonTextBlock(t *testing.T) {
	var msg Message
	in := `{"role":"user","content":[{"type":"text","text":"see image"},{"type":"image_url","image_url":{"url":"u"}}]}`
	require.NoError(t, json.Unmarshal([]byte(in), &msg))

	flat := msg.Content.PlainText()
	assert.Contains(t, flat, "see image")
	assert.Contains(t, flat, "image_url")
}
