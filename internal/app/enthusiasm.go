package app

import (
	"fmt"
	"strings"
	"unicode"

	goahocorasick "github.com/anknown/ahocorasick"
)

var DefaultEnthusiasmKeywords = []string{"great", "awesome", "amazing"}

// Enthusiasm detects cheerful keywords in chat lines, case-insensitively.
type Enthusiasm struct {
	matcher *goahocorasick.Machine
}

func NewEnthusiasm(keywords []string) (*Enthusiasm, error) {
	patterns := make([][]rune, 0, len(keywords))
	for _, kw := range keywords {
		kw = strings.TrimSpace(kw)
		if kw == "" {
			continue
		}
		patterns = append(patterns, lowerRunes(kw))
	}
	if len(patterns) == 0 {
		return nil, fmt.Errorf("enthusiasm: no keywords")
	}

	m := new(goahocorasick.Machine)
	if err := m.Build(patterns); err != nil {
		return nil, fmt.Errorf("enthusiasm: build matcher: %w", err)
	}
	return &Enthusiasm{matcher: m}, nil
}

// Match reports whether text contains any keyword.
func (e *Enthusiasm) Match(text string) bool {
	content := lowerRunes(text)
	if len(content) == 0 {
		return false
	}
	return len(e.matcher.MultiPatternSearch(content, true)) > 0
}

// Celebration is the system line sent after an enthusiastic message.
func Celebration(username string) string {
	return fmt.Sprintf("🎉 %s is feeling enthusiastic!", username)
}

func lowerRunes(s string) []rune {
	out := []rune(s)
	for i, r := range out {
		out[i] = unicode.ToLower(r)
	}
	return out
}
