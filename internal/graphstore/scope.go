package graphstore

import "strings"

// InScope reports whether host is the mission's target domain or a
// subdomain of it. Grounded on
// original_source/recon_gotham/src/recon_gotham/pipelines/safety_net.py
// validate_scope, which requires the target domain as a substring and
// rejects the literal "example.com" hallucination pattern.
func InScope(host, targetDomain string) bool {
	host = strings.ToLower(strings.TrimSpace(host))
	target := strings.ToLower(strings.TrimSpace(targetDomain))
	if host == "" || target == "" {
		return false
	}
	if strings.Contains(host, "example.com") || strings.Contains(host, "example.org") {
		return false
	}
	return host == target || strings.HasSuffix(host, "."+target)
}

// scopedNodeTypes are the node kinds subject to the scope invariant
// (spec.md §3 invariant 2): their id's host component must be a
// suffix of the mission's target domain.
var scopedNodeTypes = map[NodeType]bool{
	NodeSubdomain:   true,
	NodeHTTPService: true,
	NodeEndpoint:    true,
}

// hostOf extracts the host-ish component from a node id of the form
// "type:host..." or "type:host/path". Node ids in this system always
// embed the host after the first colon (see pipeline node-id helpers).
func hostOf(id string) string {
	idx := strings.Index(id, ":")
	if idx < 0 {
		return id
	}
	rest := id[idx+1:]
	rest = strings.TrimPrefix(rest, "https://")
	rest = strings.TrimPrefix(rest, "http://")
	if slash := strings.IndexAny(rest, "/?"); slash >= 0 {
		rest = rest[:slash]
	}
	return rest
}

// exportAllowed reports whether a node survives exportSnapshot's scope
// filter (spec.md §4.2 "Scope filtering at export").
func exportAllowed(n Node, targetDomain string) bool {
	if strings.Contains(n.ID, "example.com") || strings.Contains(n.ID, "example.org") {
		return false
	}
	if !scopedNodeTypes[n.Type] {
		return true
	}
	if targetDomain == "" {
		return false
	}
	return InScope(hostOf(n.ID), targetDomain) || strings.Contains(n.ID, targetDomain)
}
