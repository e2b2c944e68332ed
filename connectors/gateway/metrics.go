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

package gateway

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	connectsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agentbridge_connector_connects_total",
		Help: "Connection establishments per driver type.",
	}, []string{"driver"})

	executesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agentbridge_connector_executes_total",
		Help: "Query executions per driver type and outcome.",
	}, []string{"driver", "outcome"})

	executeDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "agentbridge_connector_execute_duration_seconds",
		Help:    "Query execution latency per driver type.",
		Buckets: prometheus.DefBuckets,
	}, []string{"driver"})
)

func observeExecute(driver string, d time.Duration, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	executesTotal.WithLabelValues(driver, outcome).Inc()
	executeDuration.WithLabelValues(driver).Observe(d.Seconds())
}
