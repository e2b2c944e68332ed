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

// Package agent is the trust boundary between AI agents and databases.
//
// The Gateway is the single execution path: a raw statement is checked
// against the calling agent's resource grants (Enforcer over
// agent/access), forwarded to the connector facade on success, and
// audited either way. Permission denials carry the complete list of
// missing grants so one response tells the operator everything to fix.
//
// Audit delivery is fire-and-forget. The QueuedSink buffers events and
// drains them in the background, spilling to a fallback file rather than
// blocking or failing the query path.
package agent
