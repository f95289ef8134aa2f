package llm

import (
	"fmt"
	"strings"
)

// buildScriptPrompt asks for a POSIX-shell or python3 script with the
// same stdout contract the built-in templates use (a single JSON
// object on stdout, no other output), since the sandboxed executor
// enforces that contract regardless of who generated the script.
func buildScriptPrompt(scriptType string, targets []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are generating a reconnaissance enrichment script for a sandboxed executor.\n")
	fmt.Fprintf(&b, "Script type requested: %s\n", scriptType)
	fmt.Fprintf(&b, "Targets: %s\n\n", strings.Join(targets, ", "))
	b.WriteString("Requirements:\n")
	b.WriteString("- Output exactly one JSON object on stdout and nothing else.\n")
	b.WriteString("- The JSON object must have a top-level key named \"discovered\", \"results\", or \"findings\" holding an array.\n")
	b.WriteString("- The script must run to completion in under 30 seconds against all targets combined.\n")
	b.WriteString("- Use only sh or python3 standard library facilities; no network writes, only reads.\n")
	b.WriteString("- Never touch any host outside the given target list.\n")
	return b.String()
}

// buildNarrativePrompt asks for a short, additive analyst writeup of an
// already-scored attack path. The reasoner never assigns the score
// itself — that stays a deterministic heuristic per spec.md §9 — it
// only narrates what the heuristic already decided.
func buildNarrativePrompt(pathSummary string) string {
	var b strings.Builder
	b.WriteString("You are a red team lead annotating an already-ranked attack path for a report.\n")
	b.WriteString("The ranking and risk score below are final and were computed by deterministic rules; do not change or contradict them.\n")
	b.WriteString("Write 2-4 sentences of plain-language context an operator would want before pursuing this path: what makes it attractive, what could go wrong, what to check first.\n\n")
	b.WriteString("Attack path summary:\n")
	b.WriteString(pathSummary)
	b.WriteString("\n")
	return b.String()
}
