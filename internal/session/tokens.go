package session

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
	"github.com/rs/zerolog/log"
)

// fallbackCharsPerToken approximates tokens from byte length when the
// tokenizer is unavailable (e.g. encoding files not cached locally).
const fallbackCharsPerToken = 4

var (
	encoderOnce sync.Once
	encoder     *tiktoken.Tiktoken
)

// EstimateTokens approximates the token count of a message sequence by
// flattening each message to plain text and encoding with cl100k_base.
// It is a fallback for responses that carry no usage object; exact counts
// are the upstream tokenizer's job.
func EstimateTokens(msgs []Message) int {
	total := 0
	for _, m := range msgs {
		text := m.Role + "\n" + m.Content.PlainText()
		total += estimateText(text)
	}
	return total
}

func estimateText(text string) int {
	encoderOnce.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			log.Debug().Err(err).Msg("tokenizer unavailable, using char heuristic")
			return
		}
		encoder = enc
	})
	if encoder != nil {
		return len(encoder.Encode(text, nil, nil))
	}
	return len(text) / fallbackCharsPerToken
}
