package stub

import (
	"context"
	"strings"
	"time"

	"github.com/dkeye/Beacon/internal/languages"
)

// Translator returns dictionary hits or "[FR] text" style markers.
type Translator struct {
	// Delay simulates network latency and honors ctx.
	Delay time.Duration
	// Dictionary maps target language then source text to the translation.
	Dictionary map[languages.Code]map[string]string
}

func (t *Translator) Translate(ctx context.Context, text string, source, target languages.Code) (string, error) {
	if source == target {
		return text, nil
	}
	if t.Delay > 0 {
		select {
		case <-time.After(t.Delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if out, ok := t.Dictionary[target][text]; ok {
		return out, nil
	}
	return Mark(target, text), nil
}

// Mark renders untranslated text tagged with its intended language.
func Mark(lang languages.Code, text string) string {
	return "[" + strings.ToUpper(string(lang)) + "] " + text
}
