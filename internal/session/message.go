// Package session models per-session conversation state: chat messages,
// history merging with a bounded window, and the store keys under which a
// session lives.
package session

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Message is a single chat turn in OpenAI chat-completions shape.
// Fields beyond the typed ones (e.g. assistant tool_calls) are carried
// verbatim so round-tripping through the gateway is lossless.
type Message struct {
	Role       string          `json:"role"`
	Content    Content         `json:"content"`
	Name       string          `json:"name,omitempty"`
	ToolCallID string          `json:"tool_call_id,omitempty"`
	ToolCalls  json.RawMessage `json:"tool_calls,omitempty"`
}

type contentKind int

const (
	contentEmpty contentKind = iota
	contentText
	contentBlocks
)

// Content is the message payload: either plain text or a sequence of typed
// blocks. The two forms are kept distinct so serialization round-trips and
// flattening to plain text is explicit.
type Content struct {
	kind   contentKind
	text   string
	blocks []Block
}

// Text builds plain-text content.
func Text(s string) Content {
	return Content{kind: contentText, text: s}
}

// Blocks builds block-structured content.
func Blocks(blocks ...Block) Content {
	return Content{kind: contentBlocks, blocks: blocks}
}

// IsZero reports whether the content is absent (JSON null).
func (c Content) IsZero() bool { return c.kind == contentEmpty }

func (c *Content) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*c = Content{}
		return nil
	}
	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*c = Content{kind: contentText, text: s}
		return nil
	case '[':
		var blocks []Block
		if err := json.Unmarshal(data, &blocks); err != nil {
			return err
		}
		*c = Content{kind: contentBlocks, blocks: blocks}
		return nil
	default:
		return fmt.Errorf("content must be a string or an array of blocks")
	}
}

func (c Content) MarshalJSON() ([]byte, error) {
	switch c.kind {
	case contentText:
		return json.Marshal(c.text)
	case contentBlocks:
		return json.Marshal(c.blocks)
	default:
		return []byte("null"), nil
	}
}

// PlainText flattens the content to a single string for token counting.
// Text blocks contribute their text; other block types contribute their raw
// JSON so tool calls still weigh in.
func (c Content) PlainText() string {
	switch c.kind {
	case contentText:
		return c.text
	case contentBlocks:
		parts := make([]string, 0, len(c.blocks))
		for _, b := range c.blocks {
			if b.Text != "" {
				parts = append(parts, b.Text)
				continue
			}
			if len(b.raw) > 0 {
				parts = append(parts, string(b.raw))
			}
		}
		return strings.Join(parts, "\n")
	default:
		return ""
	}
}

// Block is one typed element of structured content. The original JSON is
// preserved so unknown block shapes survive a round trip.
type Block struct {
	Type string
	Text string
	raw  json.RawMessage
}

// TextBlock builds a plain text block.
func TextBlock(text string) Block {
	return Block{Type: "text", Text: text}
}

func (b *Block) UnmarshalJSON(data []byte) error {
	b.raw = append(json.RawMessage(nil), data...)
	var probe struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return err
	}
	b.Type = probe.Type
	b.Text = probe.Text
	return nil
}

func (b Block) MarshalJSON() ([]byte, error) {
	if len(b.raw) > 0 {
		return b.raw, nil
	}
	return json.Marshal(struct {
		Type string `json:"type"`
		Text string `json:"text,omitempty"`
	}{b.Type, b.Text})
}
