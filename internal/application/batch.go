// Package application contains the key service, batch classification, and the
// rotation scheduler.
package application

import (
	"regexp"
	"strings"

	"github.com/dmaloy/keydeck/internal/domain/model"
)

// credentialPattern matches a Factory API key token anywhere in a line.
var credentialPattern = regexp.MustCompile(`fk-[A-Za-z0-9]+`)

// nameSeparators collapses the comma/whitespace runs left around a removed
// token into single spaces.
var nameSeparators = regexp.MustCompile(`[,\s]+`)

// Candidate is one (name, credential) pair parsed from batch input.
type Candidate struct {
	Name       string
	Credential string
}

// ParseBatch parses free-form multi-line input into ordered candidates, one
// per line. A line contributes a candidate only if it contains a
// credential-shaped token; everything else on the line becomes the name.
// Lines without a token are dropped silently -- this is a lenient best-effort
// parse, not a grammar.
func ParseBatch(text string) []Candidate {
	var candidates []Candidate

	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		credential := credentialPattern.FindString(line)
		if credential == "" {
			continue
		}

		name := strings.Replace(line, credential, "", 1)
		name = strings.TrimSpace(nameSeparators.ReplaceAllString(name, " "))

		candidates = append(candidates, Candidate{Name: name, Credential: credential})
	}

	return candidates
}

// BatchPartition classifies parsed candidates against the existing collection
// and against each other. The three buckets are disjoint: a credential lands
// in exactly one of them.
type BatchPartition struct {
	Unique           []Candidate
	SkippedExisting  []string // Last-6 suffixes, input order.
	SkippedDuplicate []string // Last-6 suffixes, input order.
}

// PartitionCandidates splits candidates into unique / already-present /
// repeated-in-batch, in that precedence per candidate. Pure and idempotent.
func PartitionCandidates(candidates []Candidate, existing map[string]bool) BatchPartition {
	var part BatchPartition
	seen := make(map[string]bool, len(candidates))

	for _, c := range candidates {
		switch {
		case existing[c.Credential]:
			part.SkippedExisting = append(part.SkippedExisting, model.CredentialSuffix(c.Credential))
		case seen[c.Credential]:
			part.SkippedDuplicate = append(part.SkippedDuplicate, model.CredentialSuffix(c.Credential))
		default:
			seen[c.Credential] = true
			part.Unique = append(part.Unique, c)
		}
	}

	return part
}
