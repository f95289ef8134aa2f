package pipeline

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/tidwall/gjson"

	"github.com/BetterCallFirewall/Hackerecon/internal/graphstore"
	"github.com/BetterCallFirewall/Hackerecon/internal/reflection"
)

// missionDomains tracks each running mission's target domain so the
// reflection merge-back (which only receives a mission id, per
// reflection.MergeFunc's signature) can scope-filter its graph writes
// the same way every phase does. Populated by the orchestrator when a
// mission starts running.
var missionDomains sync.Map

// RegisterMissionDomain records the target domain a mission is
// scoped to, called once by the orchestrator at the start of Run.
func RegisterMissionDomain(missionID, domain string) {
	missionDomains.Store(missionID, domain)
}

func domainFor(missionID string) string {
	if v, ok := missionDomains.Load(missionID); ok {
		return v.(string)
	}
	return ""
}

// MissionForTargets reverse-looks-up the running mission whose target
// domain is a suffix-match of one of targets. Wired as the llm
// reasoner's MissionHint, since reflection.ScriptGenerator's Reasoner
// hook carries targets but no mission id.
func MissionForTargets(targets []string) string {
	var found string
	missionDomains.Range(func(k, v any) bool {
		domain, _ := v.(string)
		if domain == "" {
			return true
		}
		for _, t := range targets {
			if graphstore.InScope(t, domain) || strings.Contains(t, domain) {
				found, _ = k.(string)
				return false
			}
		}
		return true
	})
	return found
}

// NewReflectionMerge builds the MergeFunc the reflection loop calls
// with each recognized reflection-script stdout shape, turning it into
// graph writes on store. Grounded on
// original_source/services/recon-orchestrator/core/reflection.py's
// merge-back dispatch (one handler per script_type).
func NewReflectionMerge(store *graphstore.Store) reflection.MergeFunc {
	return func(ctx context.Context, missionID, scriptType, shape string, payload gjson.Result) {
		domain := domainFor(missionID)
		switch scriptType {
		case "dns_bruteforce":
			mergeDNSBruteforce(ctx, store, missionID, domain, payload)
		case "tech_fingerprint":
			mergeTechFingerprint(ctx, store, missionID, domain, payload)
		case "config_checker":
			mergeConfigChecker(ctx, store, missionID, domain, payload)
		case "port_check":
			mergePortCheck(ctx, store, missionID, domain, payload)
		case "header_analysis":
			mergeHeaderAnalysis(ctx, store, missionID, domain, payload)
		case "certificate_check":
			mergeCertificateCheck(ctx, store, missionID, domain, payload)
		}
	}
}

func mergeDNSBruteforce(ctx context.Context, store *graphstore.Store, missionID, domain string, payload gjson.Result) {
	var nodes []graphstore.Node
	payload.ForEach(func(_, host gjson.Result) bool {
		name := host.String()
		if name == "" {
			return true
		}
		nodes = append(nodes, graphstore.Node{
			ID: subdomainID(name), Type: graphstore.NodeSubdomain, MissionID: missionID,
			Properties: map[string]any{"name": name, "source": "reflection:dns_bruteforce"},
		})
		return true
	})
	if len(nodes) > 0 {
		_, _, _ = store.BatchUpsert(ctx, nodes, nil, domain)
	}
}

func mergeTechFingerprint(ctx context.Context, store *graphstore.Store, missionID, domain string, payload gjson.Result) {
	payload.ForEach(func(_, entry gjson.Result) bool {
		url := entry.Get("url").String()
		if url == "" {
			return true
		}
		props := map[string]any{}
		if server := entry.Get("server").String(); server != "" {
			props["reflection_server"] = server
		}
		if poweredBy := entry.Get("powered_by").String(); poweredBy != "" {
			props["reflection_powered_by"] = poweredBy
		}
		if len(props) == 0 {
			return true
		}
		_, _ = store.PatchNode(ctx, missionID, httpServiceID(url), props, []graphstore.EvidenceItem{
			graphstore.NewEvidence("tech_fingerprint", "reflection script fingerprint", fmt.Sprintf("%v", props)),
		})
		return true
	})
}

func mergeConfigChecker(ctx context.Context, store *graphstore.Store, missionID, domain string, payload gjson.Result) {
	var nodes []graphstore.Node
	payload.ForEach(func(_, entry gjson.Result) bool {
		rawURL := entry.Get("url").String()
		status := entry.Get("status").Int()
		path := pathOf(rawURL)
		if path == "" {
			return true
		}
		nodes = append(nodes, graphstore.Node{
			ID: endpointID(domain, normalizePath(path)), Type: graphstore.NodeEndpoint, MissionID: missionID,
			Properties: map[string]any{
				"path": normalizePath(path), "raw_path": path, "method": "GET",
				"category": "LEGACY", "confidence": 0.65, "origin": rawURL, "status_code": int(status),
				"source": "reflection:config_checker",
			},
			Evidence: []graphstore.EvidenceItem{graphstore.NewEvidence("config_exposure", "sensitive config file reachable", rawURL)},
		})
		return true
	})
	if len(nodes) > 0 {
		_, _, _ = store.BatchUpsert(ctx, nodes, nil, domain)
	}
}

func mergePortCheck(ctx context.Context, store *graphstore.Store, missionID, domain string, payload gjson.Result) {
	payload.ForEach(func(_, entry gjson.Result) bool {
		host := entry.Get("host").String()
		if host == "" {
			return true
		}
		var openPorts []int64
		entry.Get("open_ports").ForEach(func(_, p gjson.Result) bool {
			openPorts = append(openPorts, p.Int())
			return true
		})
		if len(openPorts) == 0 {
			return true
		}
		_, _ = store.PatchNode(ctx, missionID, subdomainID(host), map[string]any{"open_ports": openPorts}, nil)
		return true
	})
}

func mergeHeaderAnalysis(ctx context.Context, store *graphstore.Store, missionID, domain string, payload gjson.Result) {
	payload.ForEach(func(_, entry gjson.Result) bool {
		url := entry.Get("url").String()
		if url == "" {
			return true
		}
		var missing []string
		entry.Get("missing_security_headers").ForEach(func(_, h gjson.Result) bool {
			missing = append(missing, h.String())
			return true
		})
		if len(missing) == 0 {
			return true
		}
		_, _ = store.PatchNode(ctx, missionID, httpServiceID(url), map[string]any{"missing_security_headers": missing}, []graphstore.EvidenceItem{
			graphstore.NewEvidence("header_analysis", "missing security headers", fmt.Sprintf("%v", missing)),
		})
		return true
	})
}

func mergeCertificateCheck(ctx context.Context, store *graphstore.Store, missionID, domain string, payload gjson.Result) {
	payload.ForEach(func(_, entry gjson.Result) bool {
		host := entry.Get("host").String()
		if host == "" {
			return true
		}
		props := map[string]any{}
		if notAfter := entry.Get("not_after").String(); notAfter != "" {
			props["cert_not_after"] = notAfter
		}
		if issuer := entry.Get("issuer").String(); issuer != "" {
			props["cert_issuer"] = issuer
		}
		if len(props) == 0 {
			return true
		}
		_, _ = store.PatchNode(ctx, missionID, subdomainID(host), props, nil)
		return true
	})
}
