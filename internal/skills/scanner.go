package skills

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/cloudflare/ahocorasick"
)

// ScanCategory classifies what a SkillScanWarning detected.
type ScanCategory string

const (
	CategoryToolInvocation           ScanCategory = "tool_invocation"
	CategoryDataExfiltration         ScanCategory = "data_exfiltration"
	CategoryMetaManipulation         ScanCategory = "meta_manipulation"
	CategoryAuthorityEscalation      ScanCategory = "authority_escalation"
	CategoryInvisibleText            ScanCategory = "invisible_text"
	CategoryTagEscape                ScanCategory = "tag_escape"
	CategorySuspiciousHttpDeclaration ScanCategory = "suspicious_http_declaration"
)

// Severity ranks a SkillScanWarning. Ordered low to high so sorting by
// severity descending puts Critical first.
type Severity int

const (
	SeverityLow Severity = iota
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityCritical:
		return "critical"
	case SeverityHigh:
		return "high"
	case SeverityMedium:
		return "medium"
	default:
		return "low"
	}
}

// SkillScanWarning is one finding from a scan.
type SkillScanWarning struct {
	Category    ScanCategory
	Severity    Severity
	Description string
	MatchedText string
}

// SkillScanResult is the outcome of scanning a skill's prompt content.
type SkillScanResult struct {
	Warnings []SkillScanWarning
	Blocked  bool
	Summary  string
}

// IsClean reports whether no issues were found.
func (r *SkillScanResult) IsClean() bool { return len(r.Warnings) == 0 }

type patternEntry struct {
	pattern     string
	category    ScanCategory
	severity    Severity
	description string
}

type regexEntry struct {
	re          *regexp.Regexp
	category    ScanCategory
	severity    Severity
	description string
}

// literalPatterns is the Aho-Corasick literal set: phrases that are near
// unambiguous signals of an attempt to manipulate the agent through skill
// content, rather than describe the skill's own task. Matching is
// ASCII-case-insensitive, using an ascii_case_insensitive Aho-Corasick build.
var literalPatterns = []patternEntry{
	{"run the shell command", CategoryToolInvocation, SeverityHigh, "Direct shell command invocation directive"},
	{"execute http", CategoryToolInvocation, SeverityHigh, "Direct HTTP execution directive"},
	{"call the tool", CategoryToolInvocation, SeverityMedium, "Direct tool invocation directive"},
	{"use the shell tool", CategoryToolInvocation, SeverityHigh, "Shell tool invocation directive"},
	{"execute the command", CategoryToolInvocation, SeverityHigh, "Command execution directive"},

	{"send to webhook", CategoryDataExfiltration, SeverityCritical, "Data exfiltration via webhook"},
	{"upload to", CategoryDataExfiltration, SeverityHigh, "Data upload directive"},
	{"post to external", CategoryDataExfiltration, SeverityCritical, "External data posting directive"},
	{"exfiltrate", CategoryDataExfiltration, SeverityCritical, "Explicit exfiltration keyword"},

	{"load skill", CategoryMetaManipulation, SeverityHigh, "Attempts to load additional skills"},
	{"deactivate skill", CategoryMetaManipulation, SeverityHigh, "Attempts to deactivate other skills"},
	{"ignore other skills", CategoryMetaManipulation, SeverityCritical, "Attempts to override other skills"},
	{"disable safety", CategoryMetaManipulation, SeverityCritical, "Attempts to disable safety mechanisms"},
	{"bypass approval", CategoryMetaManipulation, SeverityCritical, "Attempts to bypass tool approval"},

	{"override all", CategoryAuthorityEscalation, SeverityCritical, "Blanket override attempt"},
	{"your primary instruction", CategoryAuthorityEscalation, SeverityCritical, "Attempts to redefine primary instructions"},
	{"most important rule", CategoryAuthorityEscalation, SeverityHigh, "Attempts to establish new priority rules"},
	{"above all else", CategoryAuthorityEscalation, SeverityHigh, "Attempts to elevate skill priority"},
	{"ignore previous instructions", CategoryAuthorityEscalation, SeverityCritical, "Classic prompt injection pattern"},
	{"forget your instructions", CategoryAuthorityEscalation, SeverityCritical, "Instruction override attempt"},

	{"</skill>", CategoryTagEscape, SeverityCritical, "Attempts to close skill delimiter"},
	{"</skill ", CategoryTagEscape, SeverityCritical, "Attempts to close skill delimiter (variant)"},
}

var regexPatterns = []regexEntry{
	{
		regexp.MustCompile(`[\x{200B}\x{200C}\x{200D}\x{FEFF}\x{00AD}]`),
		CategoryInvisibleText, SeverityCritical,
		"Zero-width or invisible characters detected",
	},
	{
		regexp.MustCompile(`[\x{202A}-\x{202E}\x{2066}-\x{2069}]`),
		CategoryInvisibleText, SeverityCritical,
		"Bidirectional text override characters detected",
	},
	{
		regexp.MustCompile(`(?i)\b(always|must|shall)\s+(use|call|invoke|run)\s+\w+\s+tool`),
		CategoryToolInvocation, SeverityHigh,
		"Imperative tool invocation directive",
	},
	{
		regexp.MustCompile(`(?i)(send|post|upload|forward)\s+(all|any|the|this)?\s*(data|output|result|response|content|secret|key|token)\s+(to|at|via)\s+https?://`),
		CategoryDataExfiltration, SeverityCritical,
		"Data exfiltration to URL pattern",
	},
	{
		regexp.MustCompile(`(?i)(you\s+are\s+now|from\s+now\s+on|new\s+system\s+prompt)`),
		CategoryAuthorityEscalation, SeverityCritical,
		"System prompt override attempt",
	},
	{
		regexp.MustCompile(`[a-zA-Z][\x{0400}-\x{04FF}\x{0370}-\x{03FF}\x{0530}-\x{058F}\x{2100}-\x{214F}]|[\x{0400}-\x{04FF}\x{0370}-\x{03FF}\x{0530}-\x{058F}\x{2100}-\x{214F}][a-zA-Z]`),
		CategoryInvisibleText, SeverityHigh,
		"Mixed-script characters in same word (potential homoglyph attack)",
	},
}

// exfilDomains are known data-collection / webhook-relay services; any HTTP
// endpoint declaration naming one of these (or a subdomain of one) is
// treated as a red flag regardless of the skill's stated reason.
var exfilDomains = []string{
	"webhook.site", "pipedream.net", "requestbin.com", "ngrok.io",
	"ngrok-free.app", "hookbin.com", "beeceptor.com", "requestcatcher.com",
	"mockbin.org", "postb.in",
}

var broadWildcards = map[string]bool{
	"*.*": true, "*.com": true, "*.net": true, "*.org": true, "*.io": true, "*": true,
}

// SkillScanner detects manipulation attempts in skill prompt content: tool
// invocation directives, data exfiltration phrasing, meta-manipulation of
// the skill system itself, authority escalation, invisible/homoglyph text,
// and attempts to break out of the skill's delimiter. Token-boundary
// bypass (splitting a trigger phrase across chunks) and semantic
// paraphrasing are not caught here; the tool attenuation layer in
// internal/agent is what actually bounds the blast radius of a skill the
// scanner misses.
type SkillScanner struct {
	matcher *ahocorasick.Matcher
}

// NewSkillScanner builds a scanner with the default detection patterns.
func NewSkillScanner() *SkillScanner {
	dict := make([]string, len(literalPatterns))
	for i, p := range literalPatterns {
		dict[i] = strings.ToLower(p.pattern)
	}
	return &SkillScanner{matcher: ahocorasick.NewStringMatcher(dict)}
}

// Scan inspects content for manipulation attempts.
func (s *SkillScanner) Scan(content string) *SkillScanResult {
	var warnings []SkillScanWarning

	lower := strings.ToLower(content)
	for _, idx := range s.matcher.Match([]byte(lower)) {
		entry := literalPatterns[idx]
		warnings = append(warnings, SkillScanWarning{
			Category:    entry.category,
			Severity:    entry.severity,
			Description: entry.description,
			MatchedText: entry.pattern,
		})
	}

	for _, entry := range regexPatterns {
		for _, m := range entry.re.FindAllString(content, -1) {
			warnings = append(warnings, SkillScanWarning{
				Category:    entry.category,
				Severity:    entry.severity,
				Description: entry.description,
				MatchedText: m,
			})
		}
	}

	sort.SliceStable(warnings, func(i, j int) bool {
		return warnings[i].Severity > warnings[j].Severity
	})

	blocked := false
	criticalCount := 0
	for _, w := range warnings {
		if w.Severity == SeverityCritical {
			blocked = true
			criticalCount++
		}
	}

	var summary string
	switch {
	case len(warnings) == 0:
		summary = "Clean: no issues detected"
	case blocked:
		summary = fmt.Sprintf("BLOCKED: %d critical issue(s) detected", criticalCount)
	default:
		summary = fmt.Sprintf("%d warning(s) detected", len(warnings))
	}

	return &SkillScanResult{Warnings: warnings, Blocked: blocked, Summary: summary}
}

// ScanHttpDeclaration inspects a skill's [http] manifest declaration for
// suspicious endpoints: known exfiltration domains, overly broad
// wildcards, and credentials scoped to hosts the endpoint list never
// mentions.
func (s *SkillScanner) ScanHttpDeclaration(http *SkillHttpDeclaration) []SkillScanWarning {
	if http == nil {
		return nil
	}
	var warnings []SkillScanWarning

	for _, endpoint := range http.Endpoints {
		hostLower := strings.ToLower(endpoint.Host)

		for _, exfil := range exfilDomains {
			if hostLower == exfil || strings.HasSuffix(hostLower, "."+exfil) {
				warnings = append(warnings, SkillScanWarning{
					Category:    CategorySuspiciousHttpDeclaration,
					Severity:    SeverityCritical,
					Description: fmt.Sprintf("Known data exfiltration domain in HTTP endpoints: %s", endpoint.Host),
					MatchedText: endpoint.Host,
				})
			}
		}

		if broadWildcards[hostLower] {
			warnings = append(warnings, SkillScanWarning{
				Category:    CategorySuspiciousHttpDeclaration,
				Severity:    SeverityCritical,
				Description: fmt.Sprintf("Overly broad wildcard in HTTP endpoints: %s", endpoint.Host),
				MatchedText: endpoint.Host,
			})
		}
	}

	declaredHosts := make([]string, len(http.Endpoints))
	for i, e := range http.Endpoints {
		declaredHosts[i] = e.Host
	}

	for credName, cred := range http.Credentials {
		for _, pattern := range cred.HostPatterns {
			matched := false
			for _, host := range declaredHosts {
				if host == pattern {
					matched = true
					break
				}
				if suffix, ok := strings.CutPrefix(pattern, "*."); ok && strings.HasSuffix(host, suffix) {
					matched = true
					break
				}
				if suffix, ok := strings.CutPrefix(host, "*."); ok && strings.HasSuffix(pattern, suffix) {
					matched = true
					break
				}
			}
			if !matched {
				warnings = append(warnings, SkillScanWarning{
					Category:    CategorySuspiciousHttpDeclaration,
					Severity:    SeverityHigh,
					Description: fmt.Sprintf("Credential '%s' targets host '%s' not in endpoint list", credName, pattern),
					MatchedText: pattern,
				})
			}
		}
	}

	return warnings
}
