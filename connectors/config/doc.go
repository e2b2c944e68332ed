// Copyright 2025 AgentBridge
// SPDX-License-Identifier: Apache-2.0
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

/*
Package config holds the connection, pooling, and timeout configuration for
database bindings, with fail-fast validation.

A ConnectionConfig is driven by exactly one shape: an opaque
connection_string, or discrete host/credentials/database fields. When both
are present the connection string wins; the shapes are never merged.

Validation runs before any pool construction or network I/O, and every
violated bound names its field:

	cfg, err := config.ParseYAML(doc)   // *base.ConfigurationError on bad bounds

Credentials may be indirected through AWS Secrets Manager by setting
credentials_secret_arn; see ResolveCredentials.
*/
package config
