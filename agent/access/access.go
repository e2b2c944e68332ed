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
	"sync"
)

// Permission is a named capability an agent can hold, either globally
// (coarse grant) or scoped to a single resource.
type Permission string

const (
	PermissionRead   Permission = "READ"
	PermissionWrite  Permission = "WRITE"
	PermissionDelete Permission = "DELETE"
	PermissionAdmin  Permission = "ADMIN"
)

// ResourceGrant is the per-resource permission entry for one agent.
// SetResourcePermissions replaces the whole entry, so Type and
// Permissions always come from the same write.
type ResourceGrant struct {
	Type        string
	Permissions []Permission
}

// AccessControl holds coarse (agent-wide) and resource-scoped grants.
// Reads vastly outnumber writes, so the two maps sit behind one RWMutex;
// every reader observes a consistent snapshot of both.
type AccessControl struct {
	mu sync.RWMutex

	// coarse[agentID] is the agent's global permission set.
	coarse map[string]map[Permission]struct{}

	// resources[agentID][resourceID] is the agent's grant on one resource.
	resources map[string]map[string]ResourceGrant
}

// New returns an empty AccessControl.
func New() *AccessControl {
	return &AccessControl{
		coarse:    make(map[string]map[Permission]struct{}),
		resources: make(map[string]map[string]ResourceGrant),
	}
}

// Grant adds a coarse permission for the agent. Granting a permission the
// agent already holds is a no-op.
func (ac *AccessControl) Grant(agentID string, perm Permission) {
	ac.mu.Lock()
	defer ac.mu.Unlock()

	set, ok := ac.coarse[agentID]
	if !ok {
		set = make(map[Permission]struct{})
		ac.coarse[agentID] = set
	}
	set[perm] = struct{}{}
}

// Revoke removes a coarse permission. Revoking an absent permission is a
// no-op. The agent's coarse set is pruned when it becomes empty.
func (ac *AccessControl) Revoke(agentID string, perm Permission) {
	ac.mu.Lock()
	defer ac.mu.Unlock()

	set, ok := ac.coarse[agentID]
	if !ok {
		return
	}
	delete(set, perm)
	if len(set) == 0 {
		delete(ac.coarse, agentID)
	}
}

// HasPermission reports whether the agent holds the coarse permission.
func (ac *AccessControl) HasPermission(agentID string, perm Permission) bool {
	ac.mu.RLock()
	defer ac.mu.RUnlock()

	set, ok := ac.coarse[agentID]
	if !ok {
		return false
	}
	_, held := set[perm]
	return held
}

// SetResourcePermissions replaces the agent's entry for one resource.
// The permission list is de-duplicated on write; order of first
// appearance is preserved. An empty list still records the entry (the
// agent is known to the resource but holds nothing on it).
func (ac *AccessControl) SetResourcePermissions(agentID, resourceID string, perms []Permission, resourceType string) {
	deduped := make([]Permission, 0, len(perms))
	seen := make(map[Permission]struct{}, len(perms))
	for _, p := range perms {
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		deduped = append(deduped, p)
	}

	ac.mu.Lock()
	defer ac.mu.Unlock()

	byResource, ok := ac.resources[agentID]
	if !ok {
		byResource = make(map[string]ResourceGrant)
		ac.resources[agentID] = byResource
	}
	byResource[resourceID] = ResourceGrant{
		Type:        resourceType,
		Permissions: deduped,
	}
}

// HasResourcePermission reports whether the agent holds the permission on
// the resource. Absent entries are false, never an error.
func (ac *AccessControl) HasResourcePermission(agentID, resourceID string, perm Permission) bool {
	ac.mu.RLock()
	defer ac.mu.RUnlock()

	grant, ok := ac.resources[agentID][resourceID]
	if !ok {
		return false
	}
	for _, p := range grant.Permissions {
		if p == perm {
			return true
		}
	}
	return false
}

// GetResourcePermissions returns a copy of the agent's resource entries.
// The copy is safe to mutate and never nil.
func (ac *AccessControl) GetResourcePermissions(agentID string) map[string]ResourceGrant {
	ac.mu.RLock()
	defer ac.mu.RUnlock()

	out := make(map[string]ResourceGrant, len(ac.resources[agentID]))
	for resourceID, grant := range ac.resources[agentID] {
		perms := make([]Permission, len(grant.Permissions))
		copy(perms, grant.Permissions)
		out[resourceID] = ResourceGrant{Type: grant.Type, Permissions: perms}
	}
	return out
}

// RevokeResource removes the agent's entry for one resource and reports
// whether it existed. The agent's resource map is pruned when the last
// entry goes away.
func (ac *AccessControl) RevokeResource(agentID, resourceID string) bool {
	ac.mu.Lock()
	defer ac.mu.Unlock()

	byResource, ok := ac.resources[agentID]
	if !ok {
		return false
	}
	if _, existed := byResource[resourceID]; !existed {
		return false
	}
	delete(byResource, resourceID)
	if len(byResource) == 0 {
		delete(ac.resources, agentID)
	}
	return true
}

// RevokeAll clears both coarse and resource grants for the agent in one
// critical section and reports whether anything was present to clear.
func (ac *AccessControl) RevokeAll(agentID string) bool {
	ac.mu.Lock()
	defer ac.mu.Unlock()

	_, hadCoarse := ac.coarse[agentID]
	_, hadResources := ac.resources[agentID]
	delete(ac.coarse, agentID)
	delete(ac.resources, agentID)
	return hadCoarse || hadResources
}
