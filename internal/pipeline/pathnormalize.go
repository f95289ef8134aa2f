package pipeline

import (
	"net/url"
	"regexp"
	"strings"
)

// pathContextRule matches a path shape and rewrites its variable
// segment to a stable {placeholder}, so two endpoints that only differ
// by a numeric id, UUID, or slug collapse to one ENDPOINT node instead
// of fragmenting the graph. Priority-ordered and tried from highest to
// lowest, grounded on
// original_source/services/recon-orchestrator/utils/url_normalizer.py.
type pathContextRule struct {
	path        *regexp.Regexp
	replacement string
	priority    int
}

var pathRules = []pathContextRule{
	{
		path:        regexp.MustCompile(`/[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}(/|$)`),
		replacement: "/{uuid}$1",
		priority:    110,
	},
	{
		path:        regexp.MustCompile(`/api/(v\d+/)?(users|orders|products|posts|comments|files|documents|messages|notifications|sessions)/(\d+)(/|$)`),
		replacement: "/api/$1$2/{id}$4",
		priority:    100,
	},
	{
		path:        regexp.MustCompile(`/api/(v\d+/)?(profiles|accounts|blogs|channels)/([^/]+)(/|$)`),
		replacement: "/api/$1$2/{username}$4",
		priority:    95,
	},
	{
		path:        regexp.MustCompile(`/(users?|profiles?|accounts?)/([^/]+)$`),
		replacement: "/$1/{username}",
		priority:    90,
	},
	{
		path:        regexp.MustCompile(`/(articles?|posts?|blog|news|tutorials)/([a-z0-9-]+-[a-z0-9-]+)(/|$)`),
		replacement: "/$1/{slug}$3",
		priority:    85,
	},
	{
		path:        regexp.MustCompile(`/(u|@|user)/([a-zA-Z0-9_-]{3,20})(/|$)`),
		replacement: "/$1/{username}$3",
		priority:    75,
	},
	{
		path:        regexp.MustCompile(`/(users?|orders?|items?|products?|files?|comments?|posts?|messages?|notifications?)/(\d+)(/|$)`),
		replacement: "/$1/{id}$3",
		priority:    80,
	},
	{
		path:        regexp.MustCompile(`/(archives?|calendar|schedule|reports?|log)/(\d{4}-\d{2}-\d{2})(/|$)`),
		replacement: "/$1/{date}$3",
		priority:    70,
	},
	{
		path:        regexp.MustCompile(`/([a-f0-9]{16,64})(/|$)`),
		replacement: "/{hash}$2",
		priority:    60,
	},
}

var sortedPathRules = sortRulesByPriority(pathRules)

func sortRulesByPriority(rules []pathContextRule) []pathContextRule {
	out := make([]pathContextRule, len(rules))
	copy(out, rules)
	for i := 0; i < len(out)-1; i++ {
		for j := i + 1; j < len(out); j++ {
			if out[i].priority < out[j].priority {
				out[i], out[j] = out[j], out[i]
			}
		}
	}
	return out
}

// staticPathSegments never get normalized: they are fixed site
// structure, not resource identifiers.
var staticPathSegments = map[string]bool{
	"images": true, "css": true, "js": true, "static": true, "assets": true, "public": true,
	"settings": true, "preferences": true, "config": true, "help": true, "about": true,
	"login": true, "logout": true, "register": true, "signup": true, "signin": true,
	"search": true, "docs": true, "documentation": true,
}

var staticFileExts = map[string]bool{
	"css": true, "js": true, "png": true, "jpg": true, "jpeg": true, "gif": true,
	"svg": true, "ico": true, "woff": true, "woff2": true, "ttf": true, "eot": true,
}

// normalizePath collapses a concrete URL path into a stable pattern
// (e.g. "/api/users/482" -> "/api/users/{id}") so endpoint dedup
// merges pagination/id variants of the same route instead of treating
// every observed id as a distinct ENDPOINT node.
func normalizePath(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	path := parsed.Path
	if path == "" {
		path = "/"
	}

	segments := strings.Split(strings.Trim(path, "/"), "/")
	if len(segments) > 0 {
		last := strings.ToLower(segments[len(segments)-1])
		if dot := strings.LastIndex(last, "."); dot >= 0 && staticFileExts[last[dot+1:]] {
			return path
		}
		for _, seg := range segments {
			if staticPathSegments[seg] {
				return path
			}
		}
	}
	for _, special := range []string{"me", "current", "self"} {
		for _, seg := range segments {
			if seg == special {
				return path
			}
		}
	}

	for _, rule := range sortedPathRules {
		if rule.path.MatchString(path) {
			normalized := rule.path.ReplaceAllString(path, rule.replacement)
			for strings.Contains(normalized, "//") {
				normalized = strings.ReplaceAll(normalized, "//", "/")
			}
			return normalized
		}
	}
	return path
}
