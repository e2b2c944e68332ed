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
	"fmt"
	"strings"

	"agentbridge/core/agent/access"
)

// MissingGrant names one resource/permission pair an agent lacks.
type MissingGrant struct {
	Resource   string            `json:"resource"`
	Permission access.Permission `json:"permission"`
}

// PermissionDeniedError reports every grant a statement needed but the
// agent does not hold. Callers surface the whole list in one response so
// an operator can fix all missing grants at once.
type PermissionDeniedError struct {
	AgentID string
	Missing []MissingGrant
}

func (e *PermissionDeniedError) Error() string {
	parts := make([]string, len(e.Missing))
	for i, m := range e.Missing {
		parts[i] = fmt.Sprintf("%s on %s", m.Permission, m.Resource)
	}
	return fmt.Sprintf("agent %s denied: missing %s", e.AgentID, strings.Join(parts, ", "))
}
