package credentials

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
)

const (
	backendLibsecret = "libsecret"
	backendFile      = "file"
)

// KeychainProvider stores credentials in the OS keychain.
// On Linux it uses secret-tool (libsecret / GNOME Keyring).
// When secret-tool is unavailable it falls back to an encrypted file store.
type KeychainProvider struct {
	backend  string
	fallback *FileProvider // used when no native keychain is available
}

// NewKeychainProvider detects the best available keychain backend and returns
// a provider. If no native keychain is found it falls back to the encrypted
// file store; it returns an error only when that fallback cannot be set up.
func NewKeychainProvider() (*KeychainProvider, error) {
	// Check for secret-tool (libsecret / GNOME Keyring).
	if _, err := exec.LookPath("secret-tool"); err == nil {
		slog.Debug("keychain backend detected", "backend", backendLibsecret)
		return &KeychainProvider{backend: backendLibsecret}, nil
	}

	// Fallback: encrypted file.
	slog.Debug("no native keychain found, falling back to encrypted file store")
	fp, err := NewFileProvider("")
	if err != nil {
		return nil, fmt.Errorf("initializing file fallback: %w", err)
	}
	return &KeychainProvider{backend: backendFile, fallback: fp}, nil
}

func (k *KeychainProvider) Get(ctx context.Context, name string) (*Credential, error) {
	if k.backend == backendFile {
		return k.fallback.Get(ctx, name)
	}

	out, err := k.secretToolLookup(ctx, name)
	if err != nil {
		return nil, ErrNotFound
	}

	return &Credential{
		Name:   name,
		Value:  out,
		Source: k.backend,
	}, nil
}

func (k *KeychainProvider) Store(ctx context.Context, cred *Credential) error {
	if k.backend == backendFile {
		return k.fallback.Store(ctx, cred)
	}

	return k.secretToolStore(ctx, cred.Name, cred.Value)
}

func (k *KeychainProvider) Delete(ctx context.Context, name string) error {
	if k.backend == backendFile {
		return k.fallback.Delete(ctx, name)
	}

	return k.secretToolClear(ctx, name)
}

// List is unsupported against the native libsecret backend: secret-tool has
// no enumeration command and credential names are no longer drawn from a
// fixed, known set, so there is nothing to probe. The file-backed fallback
// still lists normally.
func (k *KeychainProvider) List(ctx context.Context) ([]string, error) {
	if k.backend == backendFile {
		return k.fallback.List(ctx)
	}
	return nil, nil
}

func (k *KeychainProvider) Name() string {
	return k.backend
}

// secretToolLookup runs: secret-tool lookup service mcpkit name <name>
func (k *KeychainProvider) secretToolLookup(ctx context.Context, name string) (string, error) {
	cmd := exec.CommandContext(ctx, "secret-tool", "lookup", "service", "mcpkit", "name", name)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("secret-tool lookup: %w: %s", err, stderr.String())
	}

	value := strings.TrimRight(stdout.String(), "\n")
	if value == "" {
		return "", ErrNotFound
	}

	return value, nil
}

// secretToolStore runs: echo -n <value> | secret-tool store --label="mcpkit <name>" service mcpkit name <name>
func (k *KeychainProvider) secretToolStore(ctx context.Context, name string, value string) error {
	label := fmt.Sprintf("mcpkit %s", name)
	cmd := exec.CommandContext(ctx, "secret-tool", "store", "--label="+label, "service", "mcpkit", "name", name)
	cmd.Stdin = strings.NewReader(value)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("secret-tool store: %w: %s", err, stderr.String())
	}
	return nil
}

// secretToolClear runs: secret-tool clear service mcpkit name <name>
func (k *KeychainProvider) secretToolClear(ctx context.Context, name string) error {
	cmd := exec.CommandContext(ctx, "secret-tool", "clear", "service", "mcpkit", "name", name)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("secret-tool clear: %w: %s", err, stderr.String())
	}
	return nil
}
