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

package config

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

// SecretResolver resolves credential references in connection configs.
// Implementations must be safe for concurrent use.
type SecretResolver interface {
	Resolve(ctx context.Context, ref string) (map[string]string, error)
}

// AWSSecretResolver resolves credentials_secret_arn references against AWS
// Secrets Manager, with a TTL cache so repeated provisioning of the same
// binding does not hammer the API.
type AWSSecretResolver struct {
	client *secretsmanager.Client
	ttl    time.Duration
	logger *log.Logger

	mu    sync.RWMutex
	cache map[string]cachedSecret
}

type cachedSecret struct {
	values    map[string]string
	expiresAt time.Time
}

// AWSSecretResolverOptions configures NewAWSSecretResolver.
type AWSSecretResolverOptions struct {
	Region   string
	CacheTTL time.Duration
	Logger   *log.Logger
}

// NewAWSSecretResolver builds a resolver from the ambient AWS credential
// chain.
func NewAWSSecretResolver(ctx context.Context, opts AWSSecretResolverOptions) (*AWSSecretResolver, error) {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(os.Stdout, "[SECRETS] ", log.LstdFlags)
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{}
	if opts.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(opts.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	ttl := opts.CacheTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}

	return &AWSSecretResolver{
		client: secretsmanager.NewFromConfig(awsCfg),
		ttl:    ttl,
		logger: logger,
		cache:  make(map[string]cachedSecret),
	}, nil
}

// Resolve fetches one secret as a string map. Secrets holding a bare string
// instead of JSON come back under the "value" key.
func (r *AWSSecretResolver) Resolve(ctx context.Context, ref string) (map[string]string, error) {
	r.mu.RLock()
	entry, ok := r.cache[ref]
	r.mu.RUnlock()
	if ok && time.Now().Before(entry.expiresAt) {
		return entry.values, nil
	}

	r.logger.Printf("Fetching secret %s", maskARN(ref))
	out, err := r.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(ref),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get secret %s: %w", maskARN(ref), err)
	}
	if out.SecretString == nil {
		return nil, fmt.Errorf("secret %s has no string value", maskARN(ref))
	}

	var values map[string]string
	if err := json.Unmarshal([]byte(*out.SecretString), &values); err != nil {
		values = map[string]string{"value": *out.SecretString}
	}

	r.mu.Lock()
	r.cache[ref] = cachedSecret{values: values, expiresAt: time.Now().Add(r.ttl)}
	r.mu.Unlock()

	return values, nil
}

// ResolveCredentials fills the config's credential fields from its secret
// reference, if one is set. Inline credentials are overwritten: the secret
// is authoritative for a secret-backed binding.
func ResolveCredentials(ctx context.Context, cfg *ConnectionConfig, resolver SecretResolver) error {
	if cfg.CredentialsSecretARN == "" || resolver == nil {
		return nil
	}

	values, err := resolver.Resolve(ctx, cfg.CredentialsSecretARN)
	if err != nil {
		return fmt.Errorf("failed to resolve credentials for %q: %w", cfg.Name, err)
	}

	if u, ok := values["username"]; ok {
		cfg.Username = u
	}
	if p, ok := values["password"]; ok {
		cfg.Password = p
	}
	if cs, ok := values["connection_string"]; ok {
		cfg.ConnectionString = cs
	}
	return nil
}

// maskARN hides the secret name portion of an ARN in logs.
func maskARN(arn string) string {
	idx := strings.LastIndex(arn, ":")
	if idx < 0 || idx+1 >= len(arn) {
		return "***"
	}
	return arn[:idx+1] + "***"
}
