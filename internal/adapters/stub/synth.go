package stub

import (
	"context"

	"github.com/dkeye/Beacon/internal/languages"
)

// Synthesizer returns the utterance bytes prefixed by the language as fake audio.
type Synthesizer struct{}

func (Synthesizer) Synthesize(ctx context.Context, text string, lang languages.Code) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if text == "" {
		return nil, nil
	}
	return []byte(string(lang) + ":" + text), nil
}
