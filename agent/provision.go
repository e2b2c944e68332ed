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
	"context"
	"fmt"

	"agentbridge/core/connectors/config"
	"agentbridge/core/connectors/factory"
	"agentbridge/core/connectors/gateway"
	"agentbridge/core/shared/logger"
)

// Provisioner builds connector facades when an agent is registered or its
// database binding changes. Secret-referenced credentials are resolved
// before the driver sees the config.
type Provisioner struct {
	factory  *factory.Factory
	resolver config.SecretResolver
	log      *logger.Logger
}

// NewProvisioner creates a Provisioner. The resolver may be nil when no
// secret indirection is in use; configs carrying a secret reference then
// fail provisioning.
func NewProvisioner(f *factory.Factory, resolver config.SecretResolver) *Provisioner {
	return &Provisioner{
		factory:  f,
		resolver: resolver,
		log:      logger.New("provisioner"),
	}
}

// Provision validates the config, resolves secret credentials and builds
// the connector facade. It does not connect: the caller decides when the
// first connection happens.
func (p *Provisioner) Provision(ctx context.Context, cfg *config.ConnectionConfig) (*gateway.DatabaseConnector, error) {
	if cfg.CredentialsSecretARN != "" {
		if p.resolver == nil {
			return nil, fmt.Errorf("config %q references secret credentials but no resolver is configured", cfg.Name)
		}
		if err := config.ResolveCredentials(ctx, cfg, p.resolver); err != nil {
			return nil, fmt.Errorf("failed to resolve credentials for %q: %w", cfg.Name, err)
		}
	}

	conn, err := gateway.New(cfg, p.factory)
	if err != nil {
		return nil, err
	}

	p.log.Info("", "", "Connector provisioned", map[string]interface{}{
		"connector": cfg.Name,
		"type":      conn.Type(),
		"tenant":    cfg.TenantID,
	})
	return conn, nil
}
