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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentbridge/core/agent/access"
)

func denied(t *testing.T, err error) *PermissionDeniedError {
	t.Helper()
	require.Error(t, err)
	var pde *PermissionDeniedError
	require.ErrorAs(t, err, &pde)
	return pde
}

func TestAuthorizeGrantedRead(t *testing.T) {
	ac := access.New()
	ac.SetResourcePermissions("agent-1", "orders", []access.Permission{access.PermissionRead}, "table")
	e := NewEnforcer(ac)

	assert.NoError(t, e.Authorize("agent-1", "SELECT * FROM orders WHERE id = $1"))
}

func TestAuthorizeDeniedWithoutGrant(t *testing.T) {
	e := NewEnforcer(access.New())

	pde := denied(t, e.Authorize("agent-1", "SELECT * FROM orders"))
	assert.Equal(t, "agent-1", pde.AgentID)
	assert.Equal(t, []MissingGrant{{Resource: "orders", Permission: access.PermissionRead}}, pde.Missing)
}

func TestAuthorizeReportsEveryMissingGrant(t *testing.T) {
	ac := access.New()
	ac.SetResourcePermissions("agent-1", "a", []access.Permission{access.PermissionRead}, "table")
	e := NewEnforcer(ac)

	pde := denied(t, e.Authorize("agent-1", "SELECT * FROM a JOIN b ON true JOIN c ON true"))
	assert.Equal(t, []MissingGrant{
		{Resource: "b", Permission: access.PermissionRead},
		{Resource: "c", Permission: access.PermissionRead},
	}, pde.Missing, "every missing table appears, granted tables do not")
}

func TestAuthorizeWriteRequiresWriteGrant(t *testing.T) {
	ac := access.New()
	ac.SetResourcePermissions("agent-1", "orders", []access.Permission{access.PermissionRead}, "table")
	e := NewEnforcer(ac)

	pde := denied(t, e.Authorize("agent-1", "UPDATE orders SET status = 'void'"))
	assert.Equal(t, []MissingGrant{{Resource: "orders", Permission: access.PermissionWrite}}, pde.Missing)

	ac.SetResourcePermissions("agent-1", "orders",
		[]access.Permission{access.PermissionRead, access.PermissionWrite}, "table")
	assert.NoError(t, e.Authorize("agent-1", "UPDATE orders SET status = 'void'"))
}

func TestAuthorizeCoarseGrantDoesNotSubstitute(t *testing.T) {
	ac := access.New()
	ac.Grant("agent-1", access.PermissionAdmin)
	e := NewEnforcer(ac)

	pde := denied(t, e.Authorize("agent-1", "SELECT * FROM orders"))
	assert.Len(t, pde.Missing, 1)
}

func TestAuthorizeNoRecognizedTables(t *testing.T) {
	e := NewEnforcer(access.New())

	assert.NoError(t, e.Authorize("agent-1", "SELECT 1"))
	assert.NoError(t, e.Authorize("agent-1", "SELECT now()"))
}

func TestAuthorizeCTEFailsClosed(t *testing.T) {
	ac := access.New()
	ac.SetResourcePermissions("agent-1", "orders", []access.Permission{access.PermissionRead}, "table")
	e := NewEnforcer(ac)

	// WITH is unrecognized at the classifier, so the statement needs WRITE.
	pde := denied(t, e.Authorize("agent-1", "WITH recent AS (SELECT * FROM orders) SELECT * FROM recent"))
	for _, m := range pde.Missing {
		assert.Equal(t, access.PermissionWrite, m.Permission)
	}
}

func TestPermissionDeniedErrorMessage(t *testing.T) {
	err := &PermissionDeniedError{
		AgentID: "agent-1",
		Missing: []MissingGrant{
			{Resource: "orders", Permission: access.PermissionRead},
			{Resource: "customers", Permission: access.PermissionRead},
		},
	}
	assert.Equal(t, "agent agent-1 denied: missing READ on orders, READ on customers", err.Error())
}
