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

package access

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGrantAndHasPermission(t *testing.T) {
	ac := New()

	assert.False(t, ac.HasPermission("agent-1", PermissionRead))

	ac.Grant("agent-1", PermissionRead)
	assert.True(t, ac.HasPermission("agent-1", PermissionRead))
	assert.False(t, ac.HasPermission("agent-1", PermissionWrite))
	assert.False(t, ac.HasPermission("agent-2", PermissionRead))
}

func TestGrantIsIdempotent(t *testing.T) {
	ac := New()

	ac.Grant("agent-1", PermissionWrite)
	ac.Grant("agent-1", PermissionWrite)
	assert.True(t, ac.HasPermission("agent-1", PermissionWrite))

	ac.Revoke("agent-1", PermissionWrite)
	assert.False(t, ac.HasPermission("agent-1", PermissionWrite),
		"a doubled grant must still fall to a single revoke")
}

func TestRevokeUnknownIsSafe(t *testing.T) {
	ac := New()

	ac.Revoke("ghost", PermissionAdmin)
	ac.Grant("agent-1", PermissionRead)
	ac.Revoke("agent-1", PermissionAdmin)
	assert.True(t, ac.HasPermission("agent-1", PermissionRead))
}

func TestSetResourcePermissionsReplaces(t *testing.T) {
	ac := New()

	ac.SetResourcePermissions("agent-1", "orders", []Permission{PermissionRead, PermissionWrite}, "table")
	assert.True(t, ac.HasResourcePermission("agent-1", "orders", PermissionRead))
	assert.True(t, ac.HasResourcePermission("agent-1", "orders", PermissionWrite))

	// Full replacement, not a merge.
	ac.SetResourcePermissions("agent-1", "orders", []Permission{PermissionRead}, "table")
	assert.True(t, ac.HasResourcePermission("agent-1", "orders", PermissionRead))
	assert.False(t, ac.HasResourcePermission("agent-1", "orders", PermissionWrite))
}

func TestSetResourcePermissionsDeduplicates(t *testing.T) {
	ac := New()

	ac.SetResourcePermissions("agent-1", "orders",
		[]Permission{PermissionWrite, PermissionRead, PermissionWrite}, "table")

	grants := ac.GetResourcePermissions("agent-1")
	require.Contains(t, grants, "orders")
	assert.Equal(t, []Permission{PermissionWrite, PermissionRead}, grants["orders"].Permissions,
		"duplicates collapse, first appearance order survives")
	assert.Equal(t, "table", grants["orders"].Type)
}

func TestHasResourcePermissionAbsent(t *testing.T) {
	ac := New()
	ac.Grant("agent-1", PermissionAdmin)

	// Coarse grants never stand in for missing resource grants.
	assert.False(t, ac.HasResourcePermission("agent-1", "orders", PermissionRead))
	assert.False(t, ac.HasResourcePermission("nobody", "orders", PermissionRead))
}

func TestGetResourcePermissionsSnapshot(t *testing.T) {
	ac := New()
	ac.SetResourcePermissions("agent-1", "orders", []Permission{PermissionRead}, "table")

	snapshot := ac.GetResourcePermissions("agent-1")
	snapshot["orders"].Permissions[0] = PermissionAdmin
	snapshot["injected"] = ResourceGrant{Type: "table"}

	assert.True(t, ac.HasResourcePermission("agent-1", "orders", PermissionRead),
		"mutating the snapshot must not touch the store")
	assert.False(t, ac.HasResourcePermission("agent-1", "orders", PermissionAdmin))
	assert.NotContains(t, ac.GetResourcePermissions("agent-1"), "injected")
}

func TestGetResourcePermissionsEmpty(t *testing.T) {
	ac := New()
	assert.Empty(t, ac.GetResourcePermissions("nobody"))
}

func TestRevokeResource(t *testing.T) {
	ac := New()
	ac.SetResourcePermissions("agent-1", "orders", []Permission{PermissionRead}, "table")
	ac.SetResourcePermissions("agent-1", "customers", []Permission{PermissionRead}, "table")

	assert.True(t, ac.RevokeResource("agent-1", "orders"))
	assert.False(t, ac.HasResourcePermission("agent-1", "orders", PermissionRead))
	assert.True(t, ac.HasResourcePermission("agent-1", "customers", PermissionRead))

	assert.False(t, ac.RevokeResource("agent-1", "orders"), "second revoke finds nothing")
	assert.False(t, ac.RevokeResource("nobody", "orders"))
}

func TestRevokeAll(t *testing.T) {
	ac := New()
	ac.Grant("agent-1", PermissionAdmin)
	ac.SetResourcePermissions("agent-1", "orders", []Permission{PermissionRead}, "table")
	ac.SetResourcePermissions("agent-1", "customers", []Permission{PermissionRead}, "table")

	require.True(t, ac.RevokeAll("agent-1"))

	assert.False(t, ac.HasPermission("agent-1", PermissionAdmin))
	assert.False(t, ac.HasResourcePermission("agent-1", "orders", PermissionRead))
	assert.False(t, ac.HasResourcePermission("agent-1", "customers", PermissionRead))
	assert.Empty(t, ac.GetResourcePermissions("agent-1"))

	assert.False(t, ac.RevokeAll("agent-1"), "nothing left to revoke")
}

func TestAgentsAreIsolated(t *testing.T) {
	ac := New()
	ac.SetResourcePermissions("agent-1", "orders", []Permission{PermissionWrite}, "table")
	ac.SetResourcePermissions("agent-2", "orders", []Permission{PermissionRead}, "table")

	ac.RevokeAll("agent-1")

	assert.True(t, ac.HasResourcePermission("agent-2", "orders", PermissionRead))
}
