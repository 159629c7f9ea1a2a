// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Aranya Contributors

package lang

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/Masterminds/semver/v3"
	"gopkg.in/yaml.v3"
)

// frontMatter is the YAML front matter a Markdown policy document may
// carry, declaring the `policy-version` the document was authored
// against (§6).
type frontMatter struct {
	PolicyVersion string `yaml:"policy-version"`
}

var fencedPolicyBlock = regexp.MustCompile("(?s)```policy\\r?\\n(.*?)```")

// ExtractMarkdown concatenates every ` ```policy ` fenced block in doc,
// preserving each block's absolute byte offset into doc (so the parser's
// spans remain meaningful after extraction), and returns the front
// matter's declared version, if any (0 when the document carries none).
//
// Markdown extraction itself is an external-collaborator concern per
// §1's Non-goals list; this is a minimal, self-contained implementation
// sufficient to drive the lexer/parser with correctly offset spans.
func ExtractMarkdown(doc string) (source string, chunkOffsets []int, declaredVersion int, err error) {
	body := doc
	if strings.HasPrefix(doc, "---\n") {
		end := strings.Index(doc[4:], "\n---")
		if end >= 0 {
			raw := doc[4 : 4+end]
			var fm frontMatter
			if yerr := yaml.Unmarshal([]byte(raw), &fm); yerr != nil {
				return "", nil, 0, newParseError(KindSyntax, Span{}, "invalid front matter: %v", yerr)
			}
			if fm.PolicyVersion != "" {
				v, verr := parseDeclaredVersion(fm.PolicyVersion)
				if verr != nil {
					return "", nil, 0, verr
				}
				declaredVersion = v
			}
			rest := doc[4+end+4:]
			if i := strings.Index(rest, "\n"); i >= 0 {
				rest = rest[i+1:]
			}
			body = rest
		}
	}

	base := len(doc) - len(body)
	matches := fencedPolicyBlock.FindAllStringSubmatchIndex(body, -1)
	if matches == nil {
		return body, []int{base}, declaredVersion, nil
	}
	var sb strings.Builder
	for _, m := range matches {
		chunkOffsets = append(chunkOffsets, base+m[2])
		sb.WriteString(body[m[2]:m[3]])
	}
	return sb.String(), chunkOffsets, declaredVersion, nil
}

// parseDeclaredVersion accepts either a plain integer (the literal form
// in §6) or a semver string (an enrichment allowing `^1.2.0`-style
// compatibility ranges); plain integers compare for exact equality,
// semver values compare via CheckVersion's constraint matching.
func parseDeclaredVersion(raw string) (int, error) {
	if n, err := strconv.Atoi(strings.TrimSpace(raw)); err == nil {
		return n, nil
	}
	if _, err := semver.NewVersion(strings.TrimSpace(raw)); err == nil {
		return 0, nil // semver-form versions are checked via CheckVersion, not an int
	}
	return 0, newParseError(KindSyntax, Span{}, "invalid policy-version %q", raw)
}

// CheckVersion reports whether a document's declared policy-version
// (integer form or semver string) is compatible with the parser's
// expected version/constraint.
func CheckVersion(declared string, expected int, constraint string) error {
	declared = strings.TrimSpace(declared)
	if n, err := strconv.Atoi(declared); err == nil {
		if n != expected {
			return newParseError(KindSyntax, Span{}, "policy-version %d does not match expected %d", n, expected)
		}
		return nil
	}
	v, err := semver.NewVersion(declared)
	if err != nil {
		return newParseError(KindSyntax, Span{}, "invalid policy-version %q", declared)
	}
	c, err := semver.NewConstraint(constraint)
	if err != nil {
		return newParseError(KindSyntax, Span{}, "invalid version constraint %q", constraint)
	}
	if !c.Check(v) {
		return newParseError(KindSyntax, Span{}, "policy-version %s does not satisfy constraint %q", declared, constraint)
	}
	return nil
}
