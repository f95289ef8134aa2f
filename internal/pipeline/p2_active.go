package pipeline

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/sync/errgroup"

	"github.com/BetterCallFirewall/Hackerecon/internal/graphstore"
	"github.com/BetterCallFirewall/Hackerecon/internal/tools"
)

// sensitivePaths is the fixed wordlist probed directly against every
// live HTTP service, spec.md §4.4.2 P2 step 4.
var sensitivePaths = []string{
	"/.env", "/.git/config", "/admin", "/api", "/robots.txt", "/graphql", "/swagger.json",
}

// ActiveRecon is Phase P2, spec.md §4.4.2.
func ActiveRecon(ctx context.Context, mc MissionContext) (PhaseResult, error) {
	result := PhaseResult{Counts: map[string]int{}}

	nodes, _ := mc.Store.QueryNodes(mc.MissionID, []graphstore.NodeType{graphstore.NodeSubdomain}, nil, 0, 0)
	var probeList []string
	for _, n := range nodes {
		host, _ := n.Properties["name"].(string)
		if host == "" {
			continue
		}
		probeList = append(probeList, "https://"+host, "http://"+host)
	}

	live := probeBatches(ctx, mc, probeList, &result)

	var liveURLs []string
	for _, entry := range live {
		liveURLs = append(liveURLs, entry.URL)
	}
	crawlTargets := capAt(liveURLs, 15)
	if len(crawlTargets) > 0 {
		crawlHTML(ctx, mc, crawlTargets, &result)
		mineJS(ctx, mc, crawlTargets, &result)
	}

	probeSensitivePaths(ctx, mc, liveURLs, &result)

	mc.Bus.EmitPhase(mc.MissionID, "ACTIVE_RECON", true, toAnyMap(result.Counts))
	return result, nil
}

func probeBatches(ctx context.Context, mc MissionContext, probeList []string, result *PhaseResult) []tools.HTTPProbeEntry {
	workers := mc.Settings.MaxWorkers
	if workers <= 0 {
		workers = 5
	}
	var mu sync.Mutex
	var live []tools.HTTPProbeEntry

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, batch := range chunk(probeList, 20) {
		batch := batch
		g.Go(func() error {
			raw, err := mc.Tools.Invoke(gctx, "active_recon", tools.HTTPProbe, tools.HTTPProbeArgs{URLs: batch, TimeoutSec: 10})
			if err != nil {
				mu.Lock()
				result.Errors = append(result.Errors, err.Error())
				mu.Unlock()
				return nil // tool failures are captured, not propagated (spec.md §4.4.1)
			}
			var probeRes tools.HTTPProbeResult
			_ = json.Unmarshal(raw, &probeRes)
			mc.Reflector.Reflect(gctx, mc.MissionID, tools.HTTPProbe, raw)

			var batchNodes []graphstore.Node
			var batchEdges []graphstore.Edge
			for _, entry := range probeRes.Results {
				if entry.StatusCode == 0 || entry.StatusCode >= 600 {
					continue
				}
				host := hostFromOrigin(entry.URL)
				if !graphstore.InScope(host, mc.Settings.TargetDomain) {
					continue
				}
				svcID := httpServiceID(entry.URL)
				batchNodes = append(batchNodes, graphstore.Node{
					ID: svcID, Type: graphstore.NodeHTTPService, MissionID: mc.MissionID,
					Properties: map[string]any{
						"url": entry.URL, "status_code": entry.StatusCode, "title": entry.Title,
						"technologies": entry.Technologies, "ip": entry.IP, "server": entry.Server,
					},
				})
				batchEdges = append(batchEdges, graphstore.Edge{
					Relation: graphstore.RelExposesHTTP, From: subdomainID(host), To: svcID, MissionID: mc.MissionID,
				})
				mu.Lock()
				live = append(live, entry)
				mu.Unlock()
			}
			if len(batchNodes) > 0 {
				if _, _, err := mc.Store.BatchUpsert(gctx, batchNodes, batchEdges, mc.Settings.TargetDomain); err != nil {
					mu.Lock()
					result.Errors = append(result.Errors, err.Error())
					mu.Unlock()
				}
			}
			return nil
		})
	}
	_ = g.Wait()
	result.Counts["http_services"] = len(live)
	return live
}

func crawlHTML(ctx context.Context, mc MissionContext, targets []string, result *PhaseResult) {
	raw, err := mc.Tools.Invoke(ctx, "active_recon", tools.HTMLCrawl, tools.HTMLCrawlArgs{URLs: targets})
	if err != nil {
		result.Errors = append(result.Errors, err.Error())
		return
	}
	var entries []tools.HTMLCrawlEntry
	_ = json.Unmarshal(raw, &entries)
	mc.Reflector.Reflect(ctx, mc.MissionID, tools.HTMLCrawl, raw)

	var nodes []graphstore.Node
	endpointCount := 0
	seen := map[string]bool{}
	for _, entry := range entries {
		host := hostFromOrigin(entry.URL)
		for _, link := range entry.Links {
			path := pathOf(link)
			if path == "" || path == "/" {
				continue
			}
			normPath := normalizePath(path)
			key := host + normPath
			if seen[key] {
				continue
			}
			seen[key] = true
			nodes = append(nodes, graphstore.Node{
				ID: endpointID(mc.Settings.TargetDomain, normPath), Type: graphstore.NodeEndpoint, MissionID: mc.MissionID,
				Properties: map[string]any{"path": normPath, "raw_path": path, "method": "GET", "category": "UNKNOWN", "confidence": 0.5, "origin": entry.URL},
			})
			endpointCount++
		}
		// Forms on the fetched page are also parsed directly with
		// goquery and appended to the tool's own form list, catching
		// forms the crawler's own parser missed.
		if extra := extractFormsFromLive(entry.URL); len(extra) > 0 {
			entry.Forms = append(entry.Forms, extra...)
		}
		for _, form := range entry.Forms {
			path := pathOf(form.Action)
			if path == "" {
				continue
			}
			normPath := normalizePath(path)
			method := strings.ToUpper(firstNonEmpty(form.Method, "GET"))
			nodes = append(nodes, graphstore.Node{
				ID: endpointID(mc.Settings.TargetDomain, normPath), Type: graphstore.NodeEndpoint, MissionID: mc.MissionID,
				Properties: map[string]any{"path": normPath, "raw_path": path, "method": method, "category": "UNKNOWN", "confidence": 0.7, "form_fields": form.Fields},
			})
		}
	}
	if len(nodes) > 0 {
		if _, _, err := mc.Store.BatchUpsert(ctx, nodes, nil, mc.Settings.TargetDomain); err != nil {
			result.Errors = append(result.Errors, err.Error())
		}
	}
	result.Counts["crawled_endpoints"] = endpointCount
}

// extractFormsFromLive fetches a page directly and parses its forms
// with goquery, grounded on the teacher's go.mod dependency on
// PuerkitoBio/goquery (otherwise unused in the teacher's unfinished
// cmd/main.go).
func extractFormsFromLive(pageURL string) []tools.HTMLForm {
	client := &http.Client{Timeout: 8 * time.Second}
	resp, err := client.Get(pageURL)
	if err != nil {
		return nil
	}
	defer resp.Body.Close()
	if !strings.Contains(resp.Header.Get("Content-Type"), "html") {
		return nil
	}
	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil
	}
	var forms []tools.HTMLForm
	doc.Find("form").Each(func(_ int, sel *goquery.Selection) {
		action, _ := sel.Attr("action")
		method, _ := sel.Attr("method")
		var fields []string
		sel.Find("input,textarea,select").Each(func(_ int, f *goquery.Selection) {
			if name, ok := f.Attr("name"); ok {
				fields = append(fields, name)
			}
		})
		forms = append(forms, tools.HTMLForm{Action: action, Method: method, Fields: fields})
	})
	return forms
}

func mineJS(ctx context.Context, mc MissionContext, targets []string, result *PhaseResult) {
	raw, err := mc.Tools.Invoke(ctx, "active_recon", tools.JSMine, tools.JSMineArgs{URLs: targets})
	if err != nil {
		result.Errors = append(result.Errors, err.Error())
		return
	}
	var entries []tools.JSMineEntry
	_ = json.Unmarshal(raw, &entries)
	mc.Reflector.Reflect(ctx, mc.MissionID, tools.JSMine, raw)

	var nodes []graphstore.Node
	var edges []graphstore.Edge
	secretCount := 0
	for _, entry := range entries {
		for _, jsURL := range entry.JS.JSFiles {
			jsID := jsFileID(jsURL)
			nodes = append(nodes, graphstore.Node{
				ID: jsID, Type: graphstore.NodeJSFile, MissionID: mc.MissionID,
				Properties: map[string]any{"url": jsURL},
			})
			edges = append(edges, graphstore.Edge{
				Relation: graphstore.RelLoadsJS, From: httpServiceID(entry.URL), To: jsID, MissionID: mc.MissionID,
			})
		}
		for _, ep := range entry.JS.Endpoints {
			normPath := normalizePath(ep.Path)
			epID := endpointID(mc.Settings.TargetDomain, normPath)
			nodes = append(nodes, graphstore.Node{
				ID: epID, Type: graphstore.NodeEndpoint, MissionID: mc.MissionID,
				Properties: map[string]any{"path": normPath, "raw_path": ep.Path, "method": firstNonEmpty(ep.Method, "GET"), "category": "UNKNOWN", "source": "js_mine"},
			})
		}
		for _, secret := range entry.JS.Secrets {
			sID := secretID(secret.SourceJS, graphstore.HashEvidence(secret.Value)[:12])
			ev := graphstore.NewEvidence("secret", secret.Kind, secret.Value)
			nodes = append(nodes, graphstore.Node{
				ID: sID, Type: graphstore.NodeSecret, MissionID: mc.MissionID,
				Properties: map[string]any{"kind": secret.Kind, "source_js": secret.SourceJS},
				Evidence:   []graphstore.EvidenceItem{ev},
			})
			edges = append(edges, graphstore.Edge{
				Relation: graphstore.RelContainsSecret, From: jsFileID(secret.SourceJS), To: sID, MissionID: mc.MissionID,
			})
			secretCount++
		}
	}
	if len(nodes) > 0 {
		if _, _, err := mc.Store.BatchUpsert(ctx, nodes, edges, mc.Settings.TargetDomain); err != nil {
			result.Errors = append(result.Errors, err.Error())
		}
	}
	result.Counts["secrets_found"] = secretCount
}

func probeSensitivePaths(ctx context.Context, mc MissionContext, liveURLs []string, result *PhaseResult) {
	client := &http.Client{Timeout: 6 * time.Second}
	var nodes []graphstore.Node
	found := 0
	for _, base := range liveURLs {
		for _, p := range sensitivePaths {
			target := strings.TrimRight(base, "/") + p
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
			if err != nil {
				continue
			}
			resp, err := client.Do(req)
			if err != nil {
				continue
			}
			resp.Body.Close()
			if resp.StatusCode < 400 {
				nodes = append(nodes, graphstore.Node{
					ID: endpointID(mc.Settings.TargetDomain, p), Type: graphstore.NodeEndpoint, MissionID: mc.MissionID,
					Properties: map[string]any{"path": p, "method": "GET", "category": "LEGACY", "origin": target, "status_code": resp.StatusCode},
				})
				found++
			}
		}
	}
	if len(nodes) > 0 {
		if _, _, err := mc.Store.BatchUpsert(ctx, nodes, nil, mc.Settings.TargetDomain); err != nil {
			result.Errors = append(result.Errors, err.Error())
		}
	}
	result.Counts["sensitive_paths_found"] = found
}


func chunk(xs []string, size int) [][]string {
	var out [][]string
	for i := 0; i < len(xs); i += size {
		end := i + size
		if end > len(xs) {
			end = len(xs)
		}
		out = append(out, xs[i:end])
	}
	return out
}

func capAt(xs []string, n int) []string {
	if len(xs) <= n {
		return xs
	}
	return xs[:n]
}

func pathOf(raw string) string {
	if raw == "" {
		return ""
	}
	if strings.HasPrefix(raw, "/") {
		return raw
	}
	host := hostFromOrigin(raw)
	if host == "" {
		return ""
	}
	idx := strings.Index(raw, host)
	if idx < 0 {
		return ""
	}
	rest := raw[idx+len(host):]
	if rest == "" {
		return "/"
	}
	return rest
}
