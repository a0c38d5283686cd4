package chunk

import (
	"errors"
	"strings"

	"github.com/echoform/transcribe-chat-back/internal/domain"
)

// ErrInvalidOverlap is returned when overlap is not strictly less than size.
var ErrInvalidOverlap = errors.New("chunk overlap must be strictly less than chunk size")

// Chunker splits text into overlapping rune windows. Consecutive chunks
// overlap by exactly the configured amount (the last may be shorter), so
// dropping the leading overlap from every chunk after the first and
// concatenating reconstructs the input exactly. Splitting is pure and
// deterministic, which is what makes transcript re-ingestion idempotent.
type Chunker struct {
	size    int
	overlap int
}

func New(size, overlap int) (*Chunker, error) {
	if size <= 0 {
		return nil, errors.New("chunk size must be positive")
	}
	if overlap < 0 || overlap >= size {
		return nil, ErrInvalidOverlap
	}
	return &Chunker{size: size, overlap: overlap}, nil
}

// Split returns the overlapping windows of text. Empty input yields nil.
func (c *Chunker) Split(text string) []string {
	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}

	step := c.size - c.overlap
	chunks := make([]string, 0, (len(runes)+step-1)/step)
	for start := 0; ; start += step {
		end := start + c.size
		if end >= len(runes) {
			chunks = append(chunks, string(runes[start:]))
			break
		}
		chunks = append(chunks, string(runes[start:end]))
	}
	return chunks
}

// SpeakerTurn is a run of consecutive utterances by one speaker, collapsed
// into a single text so a chunk never merges two speakers' words without
// attribution.
type SpeakerTurn struct {
	Speaker string
	Text    string
}

// GroupTurns merges consecutive same-speaker utterances into turns,
// skipping utterances with no text.
func GroupTurns(utterances []domain.Utterance) []SpeakerTurn {
	turns := make([]SpeakerTurn, 0, len(utterances))
	for _, utterance := range utterances {
		text := strings.TrimSpace(utterance.Text)
		if text == "" {
			continue
		}
		if n := len(turns); n > 0 && turns[n-1].Speaker == utterance.Speaker {
			turns[n-1].Text += " " + text
			continue
		}
		turns = append(turns, SpeakerTurn{Speaker: utterance.Speaker, Text: text})
	}
	return turns
}
