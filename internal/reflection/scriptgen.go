package reflection

import "fmt"

// Script is a generated, runnable script handed to the sandboxed
// executor. Interpreter names the binary the executor invokes
// ("sh" or "python3"); Body is the script text.
type Script struct {
	Type        string
	Interpreter string
	Body        string
}

// ScriptGenerator resolves a generate_script suggested action into a
// runnable Script, preferring a built-in template and otherwise
// deferring to an LLM reasoner (injected) or a placeholder stub.
// Grounded verbatim on reflection.py's ScriptGenerator class and its
// six template bodies.
type ScriptGenerator struct {
	// Reasoner, if set, is consulted for script types with no
	// built-in template (spec.md §4.5 "MAY defer to the reasoner").
	Reasoner func(scriptType string, targets []string) (Script, bool)
}

func NewScriptGenerator() *ScriptGenerator { return &ScriptGenerator{} }

// Generate resolves scriptType/targets into a Script.
func (g *ScriptGenerator) Generate(scriptType string, targets []string) Script {
	if builtin, ok := builtinTemplates[scriptType]; ok {
		return builtin(targets)
	}
	if g.Reasoner != nil {
		if s, ok := g.Reasoner(scriptType, targets); ok {
			return s
		}
	}
	return Script{
		Type:        scriptType,
		Interpreter: "sh",
		Body:        fmt.Sprintf("#!/bin/sh\necho '{\"status\":\"not_implemented\",\"script_type\":%q}'\n", scriptType),
	}
}

var builtinTemplates = map[string]func(targets []string) Script{
	"dns_bruteforce":     dnsBruteforceScript,
	"tech_fingerprint":   techFingerprintScript,
	"config_checker":     configCheckerScript,
	"port_check":         portCheckScript,
	"header_analysis":    headerAnalysisScript,
	"certificate_check":  certificateCheckScript,
}

func dnsBruteforceScript(targets []string) Script {
	domain := first(targets, "")
	body := fmt.Sprintf(`#!/bin/sh
set -e
DOMAIN=%q
WORDLIST="www mail ftp admin api dev staging test vpn portal"
FOUND="[]"
for w in $WORDLIST; do
  host="$w.$DOMAIN"
  if getent hosts "$host" >/dev/null 2>&1; then
    FOUND=$(echo "$FOUND" | python3 -c "import json,sys; d=json.load(sys.stdin); d.append('$host'); print(json.dumps(d))")
  fi
done
echo "{\"discovered\": $FOUND}"
`, domain)
	return Script{Type: "dns_bruteforce", Interpreter: "sh", Body: body}
}

func techFingerprintScript(targets []string) Script {
	body := fmt.Sprintf(`#!/usr/bin/env python3
import json, urllib.request

targets = %s
results = []
for url in targets:
    try:
        req = urllib.request.Request(url, headers={"User-Agent": "Mozilla/5.0"})
        with urllib.request.urlopen(req, timeout=10) as resp:
            headers = dict(resp.headers)
            results.append({"url": url, "server": headers.get("Server"), "powered_by": headers.get("X-Powered-By")})
    except Exception as e:
        results.append({"url": url, "error": str(e)[:200]})
print(json.dumps({"results": results}))
`, pyList(targets))
	return Script{Type: "tech_fingerprint", Interpreter: "python3", Body: body}
}

func configCheckerScript(targets []string) Script {
	body := fmt.Sprintf(`#!/usr/bin/env python3
import json, urllib.request

hosts = %s
paths = ["/.env", "/.git/config", "/config.php", "/wp-config.php.bak"]
findings = []
for host in hosts:
    for p in paths:
        url = host.rstrip("/") + p
        try:
            req = urllib.request.Request(url, headers={"User-Agent": "Mozilla/5.0"})
            with urllib.request.urlopen(req, timeout=8) as resp:
                if resp.status < 400:
                    findings.append({"url": url, "status": resp.status})
        except Exception:
            pass
print(json.dumps({"findings": findings}))
`, pyList(targets))
	return Script{Type: "config_checker", Interpreter: "python3", Body: body}
}

func portCheckScript(targets []string) Script {
	body := fmt.Sprintf(`#!/usr/bin/env python3
import json, socket

hosts = %s
ports = [21, 22, 25, 80, 443, 3306, 5432, 6379, 8080, 8443]
results = []
for host in hosts:
    open_ports = []
    for port in ports:
        s = socket.socket(socket.AF_INET, socket.SOCK_STREAM)
        s.settimeout(1.5)
        try:
            if s.connect_ex((host, port)) == 0:
                open_ports.append(port)
        except Exception:
            pass
        finally:
            s.close()
    results.append({"host": host, "open_ports": open_ports})
print(json.dumps({"results": results}))
`, pyList(targets))
	return Script{Type: "port_check", Interpreter: "python3", Body: body}
}

func headerAnalysisScript(targets []string) Script {
	body := fmt.Sprintf(`#!/usr/bin/env python3
import json, urllib.request

urls = %s
findings = []
security_headers = ["Content-Security-Policy", "X-Frame-Options", "Strict-Transport-Security", "X-Content-Type-Options"]
for url in urls:
    try:
        req = urllib.request.Request(url, headers={"User-Agent": "Mozilla/5.0"})
        with urllib.request.urlopen(req, timeout=8) as resp:
            headers = dict(resp.headers)
            missing = [h for h in security_headers if h not in headers]
            findings.append({"url": url, "missing_security_headers": missing})
    except Exception as e:
        findings.append({"url": url, "error": str(e)[:200]})
print(json.dumps({"findings": findings}))
`, pyList(targets))
	return Script{Type: "header_analysis", Interpreter: "python3", Body: body}
}

func certificateCheckScript(targets []string) Script {
	body := fmt.Sprintf(`#!/usr/bin/env python3
import json, ssl, socket
from datetime import datetime

hosts = %s
results = []
for host in hosts:
    try:
        ctx = ssl.create_default_context()
        with socket.create_connection((host, 443), timeout=8) as sock:
            with ctx.wrap_socket(sock, server_hostname=host) as ssock:
                cert = ssock.getpeercert()
                not_after = cert.get("notAfter")
                results.append({"host": host, "not_after": not_after, "issuer": cert.get("issuer")})
    except Exception as e:
        results.append({"host": host, "error": str(e)[:200]})
print(json.dumps({"results": results}))
`, pyList(targets))
	return Script{Type: "certificate_check", Interpreter: "python3", Body: body}
}

func first(xs []string, def string) string {
	if len(xs) > 0 {
		return xs[0]
	}
	return def
}

func pyList(xs []string) string {
	out := "["
	for i, x := range xs {
		if i > 0 {
			out += ", "
		}
		out += fmt.Sprintf("%q", x)
	}
	return out + "]"
}
