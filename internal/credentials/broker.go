package credentials

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Requirement is one tool manifest credential requirement: a named
// credential of a given kind, optionally required, with an optional env
// var override.
type Requirement struct {
	Name     string
	Kind     CredentialKind
	Required bool
	EnvVar   string
}

// CredentialStatus describes the state of a single named credential.
type CredentialStatus struct {
	Name      string
	Present   bool
	Expired   bool
	ExpiresIn time.Duration
	Source    string
}

// Broker resolves a tool's declared credential requirements into process
// environment variables for sandboxed execution.
type Broker struct {
	provider Provider
	logger   *slog.Logger
}

// NewBroker creates a broker backed by the given provider.
func NewBroker(provider Provider) *Broker {
	return &Broker{
		provider: provider,
		logger:   slog.Default(),
	}
}

// InjectEnvVars resolves each requirement via the provider and returns
// KEY=VALUE environment entries. A required credential that fails to
// resolve aborts with an error and the name of the requirement that failed;
// an optional one is logged and skipped. basic_auth credentials additionally
// emit companion <NAME>_USERNAME and <NAME>_PASSWORD entries.
func (b *Broker) InjectEnvVars(ctx context.Context, reqs []Requirement) ([]string, string, error) {
	var envVars []string

	for _, req := range reqs {
		cred, err := b.provider.Get(ctx, req.Name)
		if err != nil || cred.IsExpired() {
			if req.Required {
				if err == nil {
					err = fmt.Errorf("credential %q expired", req.Name)
				}
				return nil, req.Name, fmt.Errorf("resolving required credential %q: %w", req.Name, err)
			}
			b.logger.Warn("optional credential not available, skipping",
				"name", req.Name,
				"provider", b.provider.Name(),
			)
			continue
		}

		envName := EnvVarName(req.Name, req.EnvVar)
		envVars = append(envVars, fmt.Sprintf("%s=%s", envName, cred.Value))

		if req.Kind == KindBasicAuth {
			envVars = append(envVars,
				fmt.Sprintf("%s_USERNAME=%s", envName, cred.Username),
				fmt.Sprintf("%s_PASSWORD=%s", envName, cred.Password),
			)
		}
	}

	return envVars, "", nil
}

// ValidateCredentials checks the status of every requirement against the
// provider, for diagnostic commands.
func (b *Broker) ValidateCredentials(ctx context.Context, reqs []Requirement) []CredentialStatus {
	statuses := make([]CredentialStatus, 0, len(reqs))

	for _, req := range reqs {
		status := CredentialStatus{Name: req.Name}

		cred, err := b.provider.Get(ctx, req.Name)
		if err != nil {
			statuses = append(statuses, status)
			continue
		}

		status.Present = true
		status.Source = cred.Source
		if !cred.ExpiresAt.IsZero() {
			remaining := time.Until(cred.ExpiresAt)
			if remaining <= 0 {
				status.Expired = true
			}
			status.ExpiresIn = remaining
		}

		statuses = append(statuses, status)
	}

	return statuses
}

// Provider returns the underlying credential provider.
func (b *Broker) Provider() Provider {
	return b.provider
}
