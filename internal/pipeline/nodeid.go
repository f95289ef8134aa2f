package pipeline

import "fmt"

// Node id conventions, grounded on
// original_source/services/recon-orchestrator/core/graph_client.py
// (add_subdomain/add_http_service/add_endpoint/add_hypothesis), which
// embed the host or path after a type prefix so the scope check can
// recover it (see graphstore.hostOf).

func subdomainID(host string) string       { return "subdomain:" + host }
func domainID(apex string) string          { return "domain:" + apex }
func httpServiceID(url string) string      { return "http_service:" + url }
func endpointID(targetDomain, path string) string {
	return fmt.Sprintf("endpoint:%s%s", targetDomain, path)
}
func parameterID(endpointID, name string) string { return fmt.Sprintf("parameter:%s:%s", endpointID, name) }
func ipID(ip string) string                      { return "ip_address:" + ip }
func dnsRecordID(host, recordType string) string { return fmt.Sprintf("dns_record:%s:%s", host, recordType) }
func asnID(asn string) string                    { return "asn:" + asn }
func jsFileID(url string) string                 { return "js_file:" + url }
func secretID(sourceJS, value string) string     { return fmt.Sprintf("secret:%s:%s", sourceJS, value) }
func hypothesisID(attackType, targetID string) string {
	return fmt.Sprintf("hypothesis:%s:%s", attackType, targetID)
}
func vulnerabilityID(endpointID, kind string) string { return fmt.Sprintf("vuln:%s:%s", endpointID, kind) }
func attackPathID(subdomain string, n int) string    { return fmt.Sprintf("attack_path:%s:%d", subdomain, n) }
func reportID(missionID, kind string) string         { return fmt.Sprintf("report:%s:%s", missionID, kind) }
