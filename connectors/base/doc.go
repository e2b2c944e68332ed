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

/*
Package base defines the driver contract shared by every database connector
in AgentBridge, together with the uniform query/result shapes and the error
taxonomy used across the connector layer.

# Overview

A Connector presents one uniform surface over heterogeneous engines:
relational stores take opaque TextQuery statements, the document-store
family takes StructuredQuery operation descriptors, and both produce the
same Result shape. One connector instance backs one logical agent session.

# Error taxonomy

Failures keep their operator-facing distinctions:

	*ConfigurationError  bad or missing parameters, detected before any I/O
	*ConnectionError     transport or auth failure during Connect
	*PoolExhaustedError  pool borrow timed out; the server may be healthy
	*QueryExecutionError engine rejected a statement (mutations rolled back)
	*PluginLoadError     driver plugin artifact could not be loaded (non-fatal)

Nothing in this layer retries automatically; retry policy belongs to the
caller.
*/
package base
