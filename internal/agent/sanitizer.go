package agent

import (
	"fmt"
	"regexp"
)

// invisibleChars matches the same zero-width/RTL-override code points the
// skill scanner flags in skill content (internal/skills.scanner.go) --
// here they're stripped outright rather than merely warned about, since
// tool output is untrusted data re-entering the conversation, not a
// document a human curates.
var invisibleChars = regexp.MustCompile(`[\x{200B}\x{200C}\x{200D}\x{FEFF}\x{00AD}\x{202A}-\x{202E}\x{2066}-\x{2069}]`)

// maxToolOutputBytes bounds how much of a single tool result is fed back
// to the model. A tool that returns gigabytes of log output would
// otherwise blow the context window on the next turn.
const maxToolOutputBytes = 64 * 1024

// Sanitizer pre-processes tool output before it is appended to the
// conversation as a Tool ChatMessage: it strips invisible/bidi-override
// characters a tool's output might carry (a fetched web page, a file read
// from disk) and truncates oversized output.
type Sanitizer struct {
	maxBytes int
}

// NewSanitizer returns a Sanitizer with the default output size cap.
func NewSanitizer() *Sanitizer {
	return &Sanitizer{maxBytes: maxToolOutputBytes}
}

// Sanitize strips invisible characters and truncates content, returning
// the cleaned text.
func (s *Sanitizer) Sanitize(content string) string {
	cleaned := invisibleChars.ReplaceAllString(content, "")
	max := s.maxBytes
	if max <= 0 {
		max = maxToolOutputBytes
	}
	if len(cleaned) <= max {
		return cleaned
	}
	return cleaned[:max] + fmt.Sprintf("\n... [truncated, %d bytes omitted]", len(cleaned)-max)
}
