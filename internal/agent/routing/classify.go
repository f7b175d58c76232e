package routing

import (
	"regexp"
	"strings"

	"github.com/ironclaw/ironclaw/internal/agent"
)

// Classification is the SmartRouter's verdict on the complexity of the last
// user message.
type Classification int

const (
	Simple Classification = iota
	Moderate
	Complex
)

func (c Classification) String() string {
	switch c {
	case Simple:
		return "Simple"
	case Complex:
		return "Complex"
	default:
		return "Moderate"
	}
}

var (
	codeFenceRegex = regexp.MustCompile("```")
	complexKeywords = regexp.MustCompile(`(?i)\b(implement|refactor|debug)\b`)
	greetingRegex   = regexp.MustCompile(`(?i)^(hi|hello|hey|yo|good morning|good evening|thanks|thank you)\b`)
)

// ClassifyConfig holds the thresholds the classifier reads, configurable per
// deployment rather than hardcoded.
type ClassifyConfig struct {
	ComplexMinChars int
	SimpleMaxChars  int
}

func DefaultClassifyConfig() ClassifyConfig {
	return ClassifyConfig{ComplexMinChars: 600, SimpleMaxChars: 40}
}

// Classify implements the keyword/code-block/length heuristic:
// a code fence or an implement/refactor/debug keyword always means Complex,
// as does a message at or beyond ComplexMinChars; otherwise a short greeting
// or an empty message is Simple and everything else is Moderate.
func Classify(req *agent.CompletionRequest, cfg ClassifyConfig) Classification {
	content := strings.TrimSpace(lastUserContent(req))

	if codeFenceRegex.MatchString(content) {
		return Complex
	}
	if complexKeywords.MatchString(content) {
		return Complex
	}
	if len(content) >= cfg.ComplexMinChars {
		return Complex
	}
	if len(content) <= cfg.SimpleMaxChars && greetingRegex.MatchString(content) {
		return Simple
	}
	if content == "" {
		return Simple
	}
	return Moderate
}

func lastUserContent(req *agent.CompletionRequest) string {
	if req == nil {
		return ""
	}
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == agent.RoleUser {
			return req.Messages[i].Content
		}
	}
	if len(req.Messages) == 0 {
		return ""
	}
	return req.Messages[len(req.Messages)-1].Content
}

// uncertaintyPatterns are the cascade-trigger substrings; match
// is case-insensitive and also fires on an empty response.
var uncertaintyPatterns = []string{
	"i'm not sure",
	"i am not sure",
	"i don't know",
	"i do not know",
	"i'm uncertain",
	"unable to determine",
}

// looksUncertain reports whether a cheap-tier response should be escalated.
func looksUncertain(content string) bool {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return true
	}
	lower := strings.ToLower(trimmed)
	for _, p := range uncertaintyPatterns {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}
