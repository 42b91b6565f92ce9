package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content-addressed identity.
// Version suffix enables future algorithm migration.
const (
	DomainSummary = "causal/summary/v1"
	DomainProgram = "causal/program/v1"
)

// hashWithDomain computes SHA-256 hash with domain separation.
// Format: SHA256(domain + 0x00 + data)
// The null byte (0x00) separator prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// SummaryDigest computes the content digest of an encoded summary.
// The digest covers the procedure key, engine version and payload, so two
// engines that disagree on semantics never share digests.
func SummaryDigest(proc ProcID, payload []byte) (string, error) {
	obj := map[string]any{
		"proc":           proc.Key(),
		"engine_version": EngineVersion,
		"payload":        string(payload),
	}
	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("SummaryDigest: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainSummary, canonical), nil
}

// ProgramDigest fingerprints a Provider's procedure set and graph shapes.
// Used to tag cache rows so a changed program never reads stale summaries.
func ProgramDigest(p Provider) (string, error) {
	procs := p.Procs()
	list := make([]any, 0, len(procs))
	for _, proc := range procs {
		g, _ := p.CFG(proc)
		nodes := make([]any, 0, len(g.Nodes))
		for _, id := range g.sortedNodeIDs() {
			n := g.Nodes[id]
			ops := make([]any, 0, len(n.Instrs))
			for _, instr := range n.Instrs {
				op := map[string]any{"op": string(instr.Op), "line": instr.Loc.Line}
				if instr.Callee != nil {
					op["callee"] = instr.Callee.Key()
				}
				ops = append(ops, op)
			}
			succs := make([]any, 0, len(g.Edges[id]))
			for _, s := range g.Edges[id] {
				succs = append(succs, int(s))
			}
			nodes = append(nodes, map[string]any{"id": int(id), "instrs": ops, "succs": succs})
		}
		list = append(list, map[string]any{"proc": proc.Key(), "entry": int(g.Entry), "nodes": nodes})
	}
	canonical, err := MarshalCanonical(list)
	if err != nil {
		return "", fmt.Errorf("ProgramDigest: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainProgram, canonical), nil
}

// MustSummaryDigest is like SummaryDigest but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustSummaryDigest(proc ProcID, payload []byte) string {
	d, err := SummaryDigest(proc, payload)
	if err != nil {
		panic(err)
	}
	return d
}
