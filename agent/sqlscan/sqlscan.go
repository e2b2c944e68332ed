// Copyright 2025 AgentBridge
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

// Package sqlscan provides lexical SQL inspection used by the permission
// layer: table-name extraction and read/write classification. It is NOT a
// parser; it tolerates malformed or partial SQL and returns whatever it
// can recognize.
package sqlscan

import (
	"regexp"
	"strings"
)

// StatementKind is the access class a statement requires.
type StatementKind string

const (
	KindRead  StatementKind = "READ"
	KindWrite StatementKind = "WRITE"
)

// tableRefPattern matches an identifier (optionally schema-qualified,
// optionally double-quoted parts) following FROM, JOIN, UPDATE or INTO.
var tableRefPattern = regexp.MustCompile(
	`(?i)\b(?:FROM|JOIN|UPDATE|INTO)\s+((?:"[^"]+"|[A-Za-z_][A-Za-z0-9_$]*)(?:\.(?:"[^"]+"|[A-Za-z_][A-Za-z0-9_$]*))*)`)

// ExtractTables scans the statement for table identifiers following FROM,
// JOIN, UPDATE and INTO keywords (case-insensitive). Schema-qualified
// names are returned as written; duplicates are collapsed; appearance
// order is preserved. Malformed SQL never causes an error: the result is
// simply whatever the scan recognized, possibly empty.
func ExtractTables(sqlText string) []string {
	matches := tableRefPattern.FindAllStringSubmatch(sqlText, -1)
	if len(matches) == 0 {
		return nil
	}

	tables := make([]string, 0, len(matches))
	seen := make(map[string]struct{}, len(matches))
	for _, m := range matches {
		name := m[1]
		// FROM/INTO can be followed by a subquery or VALUES list; the
		// identifier pattern already refuses those, but a keyword can
		// still slip through (e.g. "DELETE FROM ONLY t"). Skip the few
		// SQL keywords that read like table names.
		if isKeywordArtifact(name) {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		tables = append(tables, name)
	}
	return tables
}

// isKeywordArtifact filters keywords the reference pattern can capture in
// positions where a table name is expected.
func isKeywordArtifact(name string) bool {
	switch strings.ToUpper(name) {
	case "SELECT", "VALUES", "LATERAL", "UNNEST":
		return true
	}
	return false
}

// ClassifyStatement returns the access class the statement requires based
// on its leading keyword: SELECT is a read; the recognized mutating
// keywords are writes; anything unrecognized (including empty input) is a
// write, so unknown statements always require the stronger permission.
func ClassifyStatement(sqlText string) StatementKind {
	trimmed := strings.TrimSpace(sqlText)
	if trimmed == "" {
		return KindWrite
	}

	// Skip leading line and block comments before the first keyword.
	trimmed = stripLeadingComments(trimmed)

	fields := strings.Fields(trimmed)
	if len(fields) == 0 {
		return KindWrite
	}
	keyword := strings.ToUpper(fields[0])

	if keyword == "SELECT" {
		return KindRead
	}
	// Recognized mutating keywords and everything unrecognized (WITH,
	// EXPLAIN, vendor extensions) both land here: unknown statements
	// always require the stronger permission.
	return KindWrite
}

// stripLeadingComments removes -- and /* */ comments that precede the
// first token. Unterminated block comments leave the text unchanged; the
// classifier then fails closed on the comment token.
func stripLeadingComments(s string) string {
	for {
		s = strings.TrimSpace(s)
		switch {
		case strings.HasPrefix(s, "--"):
			idx := strings.IndexByte(s, '\n')
			if idx < 0 {
				return ""
			}
			s = s[idx+1:]
		case strings.HasPrefix(s, "/*"):
			idx := strings.Index(s, "*/")
			if idx < 0 {
				return s
			}
			s = s[idx+2:]
		default:
			return s
		}
	}
}
