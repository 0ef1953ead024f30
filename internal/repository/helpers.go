// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package repository

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"regexp"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/ShaojieJiang/orcheo/pkg/canonicaljson"
)

var slugNonAlnum = regexp.MustCompile(`[^a-z0-9]+`)

// slugify derives a lower-kebab slug from a workflow name.
func slugify(name string) string {
	lowered := strings.ToLower(name)
	slug := slugNonAlnum.ReplaceAllString(lowered, "-")
	return strings.Trim(slug, "-")
}

// dedupeLowerTags lowercases and deduplicates tags, preserving first-seen order.
func dedupeLowerTags(tags []string) []string {
	seen := make(map[string]bool, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		lt := strings.ToLower(t)
		if !seen[lt] {
			seen[lt] = true
			out = append(out, lt)
		}
	}
	return out
}

// hashToken returns the hex SHA-256 digest of a raw publish token.
func hashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// verifyTokenHash constant-time compares raw's hash to storedHash.
func verifyTokenHash(raw, storedHash string) bool {
	computed := hashToken(raw)
	return subtle.ConstantTimeCompare([]byte(computed), []byte(storedHash)) == 1
}

// maskToken renders a token hash as "publish:******<last 6 chars>" for logs
// and audit events, per §4.4.
func maskToken(hash string) string {
	if len(hash) <= 6 {
		return "publish:" + hash
	}
	return "publish:******" + hash[len(hash)-6:]
}

// checksum computes SHA-256 of canonical-JSON(graph).
func checksum(graph map[string]any) (string, error) {
	canon, err := canonicaljson.Marshal(graph)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canon)
	return hex.EncodeToString(sum[:]), nil
}

// unifiedDiffLines returns an ordered sequence of unified-diff-style lines
// between the canonical-JSON encodings of base and target.
func unifiedDiffLines(base, target map[string]any) ([]string, error) {
	baseCanon, err := canonicaljson.MarshalString(base)
	if err != nil {
		return nil, err
	}
	targetCanon, err := canonicaljson.MarshalString(target)
	if err != nil {
		return nil, err
	}

	dmp := diffmatchpatch.New()
	baseLines, targetLines, lineArray := dmp.DiffLinesToChars(baseCanon, targetCanon)
	diffs := dmp.DiffMain(baseLines, targetLines, false)
	diffs = dmp.DiffCharsToLines(diffs, lineArray)

	var lines []string
	for _, d := range diffs {
		prefix := "  "
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			prefix = "+ "
		case diffmatchpatch.DiffDelete:
			prefix = "- "
		}
		for _, line := range strings.Split(strings.TrimRight(d.Text, "\n"), "\n") {
			if line == "" {
				continue
			}
			lines = append(lines, prefix+line)
		}
	}
	return lines, nil
}
