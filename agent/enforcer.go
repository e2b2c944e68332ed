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

package agent

import (
	"agentbridge/core/agent/access"
	"agentbridge/core/agent/sqlscan"
	"agentbridge/core/shared/logger"
)

// Enforcer decides whether an agent may run a statement, based on the
// tables the statement touches and the agent's resource grants. Resource
// grants are authoritative per table; coarse grants never substitute for
// a missing resource entry.
type Enforcer struct {
	ac  *access.AccessControl
	log *logger.Logger
}

// NewEnforcer creates an Enforcer over the given grant store.
func NewEnforcer(ac *access.AccessControl) *Enforcer {
	return &Enforcer{
		ac:  ac,
		log: logger.New("enforcer"),
	}
}

// AccessControl returns the grant store the enforcer consults.
func (e *Enforcer) AccessControl() *access.AccessControl { return e.ac }

// Authorize checks every table the statement references against the
// agent's resource grants and returns nil or a *PermissionDeniedError
// listing ALL missing grants, not just the first.
//
// A statement with no recognizable table is authorized as-is. That is a
// least-surprise default for statements the lexical scan cannot see into,
// not a security boundary: a table the scan misses goes unchecked.
func (e *Enforcer) Authorize(agentID, sqlText string) error {
	tables := sqlscan.ExtractTables(sqlText)
	if len(tables) == 0 {
		e.log.Debug(agentID, "", "No tables recognized, statement authorized", map[string]interface{}{
			"statement_kind": string(sqlscan.ClassifyStatement(sqlText)),
		})
		return nil
	}

	required := requiredPermission(sqlscan.ClassifyStatement(sqlText))

	// One snapshot of the agent's grants covers the whole decision, so a
	// concurrent SetResourcePermissions cannot produce a torn read.
	grants := e.ac.GetResourcePermissions(agentID)

	var missing []MissingGrant
	for _, table := range tables {
		if !holdsPermission(grants[table], required) {
			missing = append(missing, MissingGrant{Resource: table, Permission: required})
		}
	}

	if len(missing) > 0 {
		e.log.Warn(agentID, "", "Statement denied", map[string]interface{}{
			"required": string(required),
			"missing":  missing,
		})
		return &PermissionDeniedError{AgentID: agentID, Missing: missing}
	}
	return nil
}

// requiredPermission maps a statement classification to the grant it
// needs.
func requiredPermission(kind sqlscan.StatementKind) access.Permission {
	if kind == sqlscan.KindRead {
		return access.PermissionRead
	}
	return access.PermissionWrite
}

func holdsPermission(grant access.ResourceGrant, perm access.Permission) bool {
	for _, p := range grant.Permissions {
		if p == perm {
			return true
		}
	}
	return false
}
