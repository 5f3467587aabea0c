package credentials

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// LeaseInfo tracks a single minted credential and its lease metadata.
type LeaseInfo struct {
	Name      string
	Kind      CredentialKind
	LeaseID   string
	ExpiresAt time.Time
	MintedAt  time.Time
}

// LifecycleManager handles credential minting before a tool invocation and
// revocation once it completes.
type LifecycleManager struct {
	provider  Provider
	logger    *slog.Logger
	sandboxID string
	user      string
	leases    []LeaseInfo
	mu        sync.Mutex
}

// NewLifecycleManager creates a LifecycleManager for the given sandbox session.
func NewLifecycleManager(provider Provider, sandboxID, user string) *LifecycleManager {
	return &LifecycleManager{
		provider:  provider,
		logger:    slog.Default(),
		sandboxID: sandboxID,
		user:      user,
	}
}

// MintAll resolves every requirement from the provider. Required
// credentials that fail to resolve abort with an error; optional ones are
// logged and skipped. Returns "NAME=value" env entries suitable for
// passing to a sandboxed module, with basic_auth requirements contributing
// companion _USERNAME/_PASSWORD entries.
func (m *LifecycleManager) MintAll(ctx context.Context, reqs []Requirement) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var envVars []string
	var minted []LeaseInfo

	for _, req := range reqs {
		cred, err := m.provider.Get(ctx, req.Name)
		if err != nil || (err == nil && cred.IsExpired()) {
			if req.Required {
				if err == nil {
					err = fmt.Errorf("credential %q expired", req.Name)
				}
				return nil, fmt.Errorf("resolving required credential %q: %w", req.Name, err)
			}
			m.logger.Warn("optional credential not available, skipping",
				"name", req.Name,
				"sandbox_id", m.sandboxID,
				"error", err,
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

		minted = append(minted, LeaseInfo{
			Name:      req.Name,
			Kind:      req.Kind,
			LeaseID:   fmt.Sprintf("%s/%s/%s", m.sandboxID, m.user, req.Name),
			ExpiresAt: cred.ExpiresAt,
			MintedAt:  time.Now(),
		})

		m.logger.Info("credential minted",
			"name", req.Name,
			"sandbox_id", m.sandboxID,
			"expires_at", cred.ExpiresAt,
		)
	}

	m.leases = minted
	return envVars, nil
}

// RevokeAll revokes every active credential lease. Must complete within 5
// seconds so it never stalls tool-executor teardown.
func (m *LifecycleManager) RevokeAll(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	m.mu.Lock()
	leases := make([]LeaseInfo, len(m.leases))
	copy(leases, m.leases)
	m.leases = nil
	m.mu.Unlock()

	var lastErr error
	for _, lease := range leases {
		if err := m.provider.Delete(ctx, lease.Name); err != nil {
			m.logger.Warn("failed to revoke credential",
				"name", lease.Name,
				"lease_id", lease.LeaseID,
				"error", err,
			)
			lastErr = err
			continue
		}

		m.logger.Info("credential revoked",
			"name", lease.Name,
			"sandbox_id", m.sandboxID,
		)
	}

	return lastErr
}

// Status returns the current state of all managed credentials.
func (m *LifecycleManager) Status(_ context.Context) []LeaseInfo {
	m.mu.Lock()
	defer m.mu.Unlock()

	result := make([]LeaseInfo, len(m.leases))
	copy(result, m.leases)
	return result
}

// RefreshExpiring checks for credentials expiring soon and refreshes them.
func (m *LifecycleManager) RefreshExpiring(ctx context.Context, threshold time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	var lastErr error

	for i, lease := range m.leases {
		if lease.ExpiresAt.IsZero() {
			continue
		}
		if time.Until(lease.ExpiresAt) > threshold {
			continue
		}

		m.logger.Info("refreshing expiring credential",
			"name", lease.Name,
			"expires_in", time.Until(lease.ExpiresAt),
			"sandbox_id", m.sandboxID,
		)

		cred, err := m.provider.Get(ctx, lease.Name)
		if err != nil {
			m.logger.Warn("failed to refresh credential",
				"name", lease.Name,
				"error", err,
			)
			lastErr = err
			continue
		}

		m.leases[i] = LeaseInfo{
			Name:      lease.Name,
			Kind:      lease.Kind,
			LeaseID:   fmt.Sprintf("%s/%s/%s", m.sandboxID, m.user, lease.Name),
			ExpiresAt: cred.ExpiresAt,
			MintedAt:  now,
		}

		m.logger.Info("credential refreshed",
			"name", lease.Name,
			"new_expiry", cred.ExpiresAt,
		)
	}

	return lastErr
}
