package pipeline

import (
	"regexp"
	"strings"
)

// sqlErrorPatterns and stackTracePatterns are the fast pre-LLM
// indicators Verification checks before falling back to the coarse
// errorPatterns substring list, grounded on
// original_source/recon_gotham/src/recon_gotham/pipelines/verification_pipeline.py
// (its ERROR_PATTERNS keyword list: "sql", "syntax", "query",
// "database", "mysql", "postgres", "oracle", "stack trace", "null
// pointer", ...) and original_source/recon_gotham/src/recon_gotham/tools/page_analyzer.py
// (SQLi/XSS indicator checks in its analysis prompt).
var sqlErrorPatterns = []string{
	"sql syntax", "mysql_", "postgresql", "ora-[0-9]+", "sqlite",
	"syntax error at or near", "unclosed quotation mark",
	"quoted string not properly terminated", "invalid column name",
	"table or view does not exist", "ambiguous column name",
}

var stackTracePatterns = []string{
	"at java.", "at org.", "at com.", "traceback (most recent call last)",
	"file \"/", "exception in thread", "stack trace:",
}

// containsSQLError reports whether body carries a database error
// signature specific enough to outweigh a generic errorPatterns hit.
func containsSQLError(body string) bool {
	lower := strings.ToLower(body)
	for _, p := range sqlErrorPatterns {
		if matched, _ := regexp.MatchString(p, lower); matched {
			return true
		}
	}
	return false
}

// containsStackTrace reports whether body looks like a leaked
// interpreter/runtime stack trace.
func containsStackTrace(body string) bool {
	lower := strings.ToLower(body)
	for _, p := range stackTracePatterns {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

// bodySimilarity scores two response bodies 0.0-1.0 by the fraction
// of characters that match at the same position, falling back to a
// flat 0.3 when the lengths differ by more than half — cheap enough
// to run on every candidate without an LLM call.
func bodySimilarity(a, b string) float64 {
	if a == b {
		return 1.0
	}
	lenA, lenB := len(a), len(b)
	if lenA == 0 || lenB == 0 {
		return 0.0
	}
	avgLen := float64(lenA+lenB) / 2.0
	diff := lenA - lenB
	if diff < 0 {
		diff = -diff
	}
	if float64(diff)/avgLen > 0.5 {
		return 0.3
	}
	minLen := lenA
	if lenB < minLen {
		minLen = lenB
	}
	common := 0
	for i := 0; i < minLen; i++ {
		if a[i] == b[i] {
			common++
		}
	}
	return float64(common) / avgLen
}
