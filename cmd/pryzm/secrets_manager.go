// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

/*
This file provides SecretsManager for secure secret management.

SecretsManager provides a centralized, secure abstraction for retrieving
the API keys Pryzm needs for direct model access. It supports multiple
backends with automatic fallback.

# Security Context

This is a CRITICAL-RISK component because it handles authentication
credentials for external model providers (OpenRouter). Improper handling
could lead to credential exposure or unauthorized spend on the user's
account.

# Security Features

  - Zero Value Logging: Secret values are NEVER logged (even at debug level)
  - Audit Trail: All access is recorded (secret name only, not value)
  - Fail-Secure: Missing secrets result in clear errors with setup help
  - Locked Memory: GetSecretSecure seals values in mlocked memory (memguard)
  - Format Validation: Known secrets validated for expected patterns

# Backend Priority

Backends are tried in order until a secret is found:
 1. macOS Keychain (if enabled, darwin only)
 2. Linux libsecret (if enabled, linux only)
 3. Environment variables (if enabled)

# Design Principles

  - Interface-first design for testability
  - Dependencies injected (config, metrics)
  - Thread-safe for concurrent use
  - Single responsibility per method
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"sync"

	"github.com/awnumar/memguard"

	"github.com/AleutianAI/PryzmChat/cmd/pryzm/config"
	"github.com/AleutianAI/PryzmChat/cmd/pryzm/internal/diagnostics"
)

// -----------------------------------------------------------------------------
// Error Sentinel Values
// -----------------------------------------------------------------------------

// ErrSecretNotFound is returned when a requested secret does not exist.
// The secret was not found in any configured backend.
var ErrSecretNotFound = errors.New("secret not found")

// ErrSecretInvalid is returned when a secret exists but fails format
// validation.
var ErrSecretInvalid = errors.New("secret invalid")

// -----------------------------------------------------------------------------
// Backend Identifiers
// -----------------------------------------------------------------------------

const (
	// SecretBackendEnv reads secrets from environment variables.
	SecretBackendEnv = "env"

	// SecretBackendKeychain reads secrets from the macOS Keychain.
	SecretBackendKeychain = "keychain"

	// SecretBackendLibsecret reads secrets from the Linux Secret Service.
	SecretBackendLibsecret = "libsecret"
)

// -----------------------------------------------------------------------------
// Known Secret Names
// -----------------------------------------------------------------------------

const (
	// SecretOpenRouterAPIKey is the OpenRouter API key for direct mode.
	// Format: Must start with "sk-or-"
	SecretOpenRouterAPIKey = "OPENROUTER_API_KEY"
)

// KnownSecrets lists all secrets recognized by Pryzm.
// Used for validation and documentation.
var KnownSecrets = []string{
	SecretOpenRouterAPIKey,
}

// -----------------------------------------------------------------------------
// Interface Definition
// -----------------------------------------------------------------------------

// SecretsManager provides secure access to secrets (API keys, tokens).
//
// # Description
//
// This interface abstracts secret retrieval from the underlying storage
// mechanism. Implementations may read from environment variables or
// system keychains.
//
// # Security
//
//   - Secret values are NEVER logged (even at debug level)
//   - All access is recorded to the audit trail (secret name only, not value)
//   - Missing secrets result in clear errors (fail-secure)
//   - Secret values are validated for basic format requirements
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type SecretsManager interface {
	// GetSecret retrieves a secret by its canonical name.
	//
	// # Inputs
	//
	//   - ctx: Context for cancellation and timeout
	//   - name: Canonical secret name (e.g., "OPENROUTER_API_KEY")
	//
	// # Outputs
	//
	//   - string: The secret value (never empty on success)
	//   - error: ErrSecretNotFound, context errors, or backend errors
	GetSecret(ctx context.Context, name string) (string, error)

	// GetSecretWithDefault retrieves a secret, returning a default if
	// not found. Still returns errors for backend failures.
	GetSecretWithDefault(ctx context.Context, name, defaultValue string) (string, error)

	// GetSecretSecure retrieves a secret sealed in locked memory.
	//
	// # Description
	//
	// Like GetSecret but the value is returned sealed in a memguard
	// enclave instead of a garbage-collected string. Open the enclave
	// only for the moment the plaintext is needed, then destroy the
	// buffer.
	//
	// # Examples
	//
	//	enclave, err := secrets.GetSecretSecure(ctx, SecretOpenRouterAPIKey)
	//	if err != nil {
	//	    return err
	//	}
	//	buf, err := enclave.Open()
	//	if err != nil {
	//	    return err
	//	}
	//	client := newClient(buf.String())
	//	buf.Destroy()
	GetSecretSecure(ctx context.Context, name string) (*memguard.Enclave, error)

	// HasSecret checks if a secret exists without retrieving it.
	// Does NOT record to the audit trail (existence check only).
	HasSecret(ctx context.Context, name string) (bool, error)

	// ValidateSecret checks if a secret meets format requirements.
	// Does not make external API calls to verify.
	ValidateSecret(ctx context.Context, name string) (*SecretValidation, error)

	// GetBackendType returns the identifier of the primary configured
	// backend, or "none".
	GetBackendType() string

	// GetSetupInstructions returns platform-specific setup help for a
	// missing secret.
	GetSetupInstructions(name string) string

	// IsConfigured returns true if at least one backend is enabled.
	IsConfigured() bool
}

// SecretValidation holds the result of validating a secret.
type SecretValidation struct {
	// Name is the secret name that was validated.
	Name string

	// Valid is true if the secret passed all validation checks.
	Valid bool

	// Exists is true if the secret was found in the backend.
	Exists bool

	// Reason explains why validation failed (empty if Valid=true).
	Reason string

	// Warnings lists non-fatal issues (e.g., unusual format).
	Warnings []string
}

// -----------------------------------------------------------------------------
// DefaultSecretsManager Implementation
// -----------------------------------------------------------------------------

// DefaultSecretsManager is the production SecretsManager implementation.
type DefaultSecretsManager struct {
	config            config.SecretsConfig
	metrics           diagnostics.DiagnosticsMetrics
	envFunc           func(string) string
	execCommandFunc   func(ctx context.Context, name string, args ...string) *exec.Cmd
	availableBackends []string
	mu                sync.RWMutex
}

// NewDefaultSecretsManager creates a secrets manager with multi-backend
// support.
//
// # Description
//
// Creates a new SecretsManager that tries multiple backends in priority
// order. Backends are auto-detected at initialization time by checking
// for CLI tools.
//
// # Inputs
//
//   - cfg: Secrets configuration from pryzm.yaml
//   - metrics: Audit trail recorder (may be nil for no-op)
//
// # Examples
//
//	cfg := config.SecretsConfig{UseEnv: true, UseKeychain: true}
//	secrets := NewDefaultSecretsManager(cfg, nil)
//	apiKey, err := secrets.GetSecret(ctx, SecretOpenRouterAPIKey)
//
// # Limitations
//
//   - Backend detection happens at initialization only
//   - New CLIs installed after creation will not be detected
func NewDefaultSecretsManager(cfg config.SecretsConfig, metrics diagnostics.DiagnosticsMetrics) *DefaultSecretsManager {
	mgr := &DefaultSecretsManager{
		config:          cfg,
		metrics:         metrics,
		envFunc:         os.Getenv,
		execCommandFunc: exec.CommandContext,
	}
	mgr.availableBackends = mgr.detectBackendsInternal()
	return mgr
}

// GetSecret retrieves a secret by its canonical name.
//
// # Description
//
// Looks up a secret by name and returns its value. The lookup is
// performed against configured backends in priority order until found.
// Records access to the audit trail (name only, not value).
//
// # Limitations
//
//   - Returns error if secret is empty (empty is not valid)
//   - Does not cache; each call reads from backend
func (m *DefaultSecretsManager) GetSecret(ctx context.Context, name string) (string, error) {
	value, _, err := m.lookup(ctx, name)
	return value, err
}

// GetSecretWithDefault retrieves a secret, returning a default if not
// found.
//
// # Outputs
//
//   - string: The secret value or default
//   - error: Backend errors only (NOT ErrSecretNotFound)
func (m *DefaultSecretsManager) GetSecretWithDefault(ctx context.Context, name, defaultValue string) (string, error) {
	value, err := m.GetSecret(ctx, name)
	if errors.Is(err, ErrSecretNotFound) {
		return defaultValue, nil
	}
	if err != nil {
		return "", err
	}
	return value, nil
}

// GetSecretSecure retrieves a secret sealed in locked memory.
//
// # Description
//
// Performs the same backend lookup as GetSecret, then seals the value
// in a memguard enclave. The enclave keeps the plaintext encrypted at
// rest and excluded from core dumps; callers open it briefly and
// destroy the buffer when done.
//
// # Limitations
//
//   - The plaintext transits ordinary memory during the backend lookup
//     (CLI output, env read); sealing protects it from that point on
func (m *DefaultSecretsManager) GetSecretSecure(ctx context.Context, name string) (*memguard.Enclave, error) {
	initSecureMemory()

	value, _, err := m.lookup(ctx, name)
	if err != nil {
		return nil, err
	}

	return memguard.NewEnclave([]byte(value)), nil
}

// HasSecret checks if a secret exists without retrieving it.
func (m *DefaultSecretsManager) HasSecret(ctx context.Context, name string) (bool, error) {
	_, err := m.GetSecret(ctx, name)
	if errors.Is(err, ErrSecretNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// ValidateSecret checks if a secret meets format requirements.
//
// # Description
//
// Validates that a secret exists and meets basic format requirements
// for the given secret type. Does not make external API calls to
// verify.
//
// # Examples
//
//	result, err := secrets.ValidateSecret(ctx, SecretOpenRouterAPIKey)
//	if err != nil {
//	    return err
//	}
//	if !result.Valid {
//	    fmt.Printf("Invalid: %s\n", result.Reason)
//	}
//
// # Limitations
//
//   - Only validates format, not actual API validity
func (m *DefaultSecretsManager) ValidateSecret(ctx context.Context, name string) (*SecretValidation, error) {
	result := &SecretValidation{
		Name:     name,
		Warnings: []string{},
	}

	value, err := m.GetSecret(ctx, name)
	if errors.Is(err, ErrSecretNotFound) {
		result.Exists = false
		result.Valid = false
		result.Reason = "secret not found"
		return result, nil
	}
	if err != nil {
		return nil, err
	}

	result.Exists = true
	m.applyValidationRules(result, name, value)
	return result, nil
}

// GetBackendType returns the identifier of the primary configured
// backend.
func (m *DefaultSecretsManager) GetBackendType() string {
	if m.config.UseKeychain && runtime.GOOS == "darwin" {
		return SecretBackendKeychain
	}
	if m.config.UseKeychain && runtime.GOOS == "linux" {
		return SecretBackendLibsecret
	}
	if m.config.UseEnv {
		return SecretBackendEnv
	}
	return "none"
}

// GetSetupInstructions returns platform-specific setup help for a
// missing secret.
//
// # Examples
//
//	_, err := secrets.GetSecret(ctx, SecretOpenRouterAPIKey)
//	if errors.Is(err, ErrSecretNotFound) {
//	    fmt.Println(secrets.GetSetupInstructions(SecretOpenRouterAPIKey))
//	}
func (m *DefaultSecretsManager) GetSetupInstructions(name string) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%s not found.\n\n", name))
	sb.WriteString("To configure this secret, choose one of these options:\n\n")

	optionNum := 1
	optionNum = m.appendKeychainInstructions(&sb, name, optionNum)
	optionNum = m.appendLibsecretInstructions(&sb, name, optionNum)
	m.appendEnvInstructions(&sb, name, optionNum)
	m.appendSecretFormatHint(&sb, name)

	return sb.String()
}

// IsConfigured returns true if at least one backend is enabled.
//
// # Limitations
//
//   - Does not verify backends actually work, only that they're enabled
func (m *DefaultSecretsManager) IsConfigured() bool {
	return m.config.UseEnv || m.config.UseKeychain
}

// DetectAvailableBackends returns a list of backends available on this
// system.
//
// # Limitations
//
//   - Result is cached at initialization; new CLI installs require restart
func (m *DefaultSecretsManager) DetectAvailableBackends() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]string, len(m.availableBackends))
	copy(result, m.availableBackends)
	return result
}

// -----------------------------------------------------------------------------
// Backend Detection
// -----------------------------------------------------------------------------

// detectBackendsInternal probes the system for usable backends.
func (m *DefaultSecretsManager) detectBackendsInternal() []string {
	var available []string

	if m.isKeychainAvailable() {
		available = append(available, SecretBackendKeychain)
	}
	if m.isLibsecretAvailable() {
		available = append(available, SecretBackendLibsecret)
	}
	available = append(available, SecretBackendEnv)

	return available
}

// isKeychainAvailable checks if macOS Keychain is available.
func (m *DefaultSecretsManager) isKeychainAvailable() bool {
	return runtime.GOOS == "darwin"
}

// isLibsecretAvailable checks if libsecret (secret-tool) is installed.
func (m *DefaultSecretsManager) isLibsecretAvailable() bool {
	_, err := exec.LookPath("secret-tool")
	return err == nil
}

// isBackendInAvailableList checks if a backend is in the available list.
func (m *DefaultSecretsManager) isBackendInAvailableList(backend string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, b := range m.availableBackends {
		if b == backend {
			return true
		}
	}
	return false
}

// -----------------------------------------------------------------------------
// Backend Lookup
// -----------------------------------------------------------------------------

// lookup performs the full backend search with timeout and audit.
func (m *DefaultSecretsManager) lookup(ctx context.Context, name string) (string, string, error) {
	if name == "" {
		return "", "", fmt.Errorf("secret name cannot be empty")
	}

	timeout := m.config.GetTimeout()
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	value, backend, err := m.tryAllBackends(ctx, name)
	if err != nil {
		m.recordAccess(name, false, "")
		return "", "", err
	}

	m.recordAccess(name, true, backend)
	return value, backend, nil
}

// tryAllBackends attempts to retrieve a secret from all configured
// backends.
func (m *DefaultSecretsManager) tryAllBackends(ctx context.Context, name string) (string, string, error) {
	if m.shouldKeychainBeTried() {
		value, err := m.tryKeychain(ctx, name)
		if err == nil {
			return value, SecretBackendKeychain, nil
		}
	}

	if m.shouldLibsecretBeTried() {
		value, err := m.tryLibsecret(ctx, name)
		if err == nil {
			return value, SecretBackendLibsecret, nil
		}
	}

	if m.config.UseEnv {
		value, err := m.tryEnv(name)
		if err == nil {
			return value, SecretBackendEnv, nil
		}
	}

	return "", "", ErrSecretNotFound
}

// shouldKeychainBeTried checks if Keychain should be attempted.
// UseKeychain covers the platform keychain on both darwin and linux.
func (m *DefaultSecretsManager) shouldKeychainBeTried() bool {
	if runtime.GOOS != "darwin" {
		return false
	}
	return m.config.UseKeychain || m.isBackendInAvailableList(SecretBackendKeychain)
}

// shouldLibsecretBeTried checks if libsecret should be attempted.
func (m *DefaultSecretsManager) shouldLibsecretBeTried() bool {
	if runtime.GOOS != "linux" {
		return false
	}
	return m.config.UseKeychain || m.isBackendInAvailableList(SecretBackendLibsecret)
}

// tryKeychain attempts to retrieve a secret from macOS Keychain.
func (m *DefaultSecretsManager) tryKeychain(ctx context.Context, name string) (string, error) {
	cmd := m.execCommandFunc(ctx, "security", "find-generic-password",
		"-a", "pryzm",
		"-s", name,
		"-w",
	)
	output, err := cmd.Output()
	if err != nil {
		return "", ErrSecretNotFound
	}

	value := strings.TrimSpace(string(output))
	if value == "" {
		return "", ErrSecretNotFound
	}
	return value, nil
}

// tryLibsecret attempts to retrieve a secret from Linux Secret Service.
func (m *DefaultSecretsManager) tryLibsecret(ctx context.Context, name string) (string, error) {
	cmd := m.execCommandFunc(ctx, "secret-tool", "lookup",
		"service", "pryzm",
		"key", name,
	)
	output, err := cmd.Output()
	if err != nil {
		return "", ErrSecretNotFound
	}

	value := strings.TrimSpace(string(output))
	if value == "" {
		return "", ErrSecretNotFound
	}
	return value, nil
}

// tryEnv attempts to retrieve a secret from environment variables.
func (m *DefaultSecretsManager) tryEnv(name string) (string, error) {
	value := m.envFunc(name)
	if value == "" {
		return "", ErrSecretNotFound
	}
	return value, nil
}

// recordAccess records a secret access event to the audit trail.
func (m *DefaultSecretsManager) recordAccess(name string, found bool, backend string) {
	if m.metrics == nil {
		return
	}
	m.metrics.RecordSecretAccess(name, backend, found)
}

// -----------------------------------------------------------------------------
// Validation Rules
// -----------------------------------------------------------------------------

// applyValidationRules applies format validation rules to a secret value.
func (m *DefaultSecretsManager) applyValidationRules(result *SecretValidation, name, value string) {
	trimmed := strings.TrimSpace(value)
	if trimmed != value {
		result.Warnings = append(result.Warnings, "secret has leading or trailing whitespace")
	}

	switch name {
	case SecretOpenRouterAPIKey:
		m.validateOpenRouterKey(result, value)
	default:
		m.validateGenericSecret(result, value)
	}
}

// validateOpenRouterKey validates OpenRouter API key format.
func (m *DefaultSecretsManager) validateOpenRouterKey(result *SecretValidation, value string) {
	if !strings.HasPrefix(value, "sk-or-") {
		result.Valid = false
		result.Reason = "OpenRouter API key must start with 'sk-or-'"
		return
	}
	if len(value) < 20 {
		result.Valid = false
		result.Reason = "OpenRouter API key appears too short"
		return
	}
	result.Valid = true
}

// validateGenericSecret validates a generic secret (non-empty).
func (m *DefaultSecretsManager) validateGenericSecret(result *SecretValidation, value string) {
	if value == "" {
		result.Valid = false
		result.Reason = "secret is empty"
		return
	}
	result.Valid = true
}

// -----------------------------------------------------------------------------
// Setup Instructions
// -----------------------------------------------------------------------------

// appendKeychainInstructions adds macOS Keychain instructions to the builder.
func (m *DefaultSecretsManager) appendKeychainInstructions(sb *strings.Builder, name string, optionNum int) int {
	if runtime.GOOS != "darwin" {
		return optionNum
	}
	sb.WriteString(fmt.Sprintf("Option %d: macOS Keychain (Recommended - built-in, secure)\n", optionNum))
	sb.WriteString(fmt.Sprintf("  security add-generic-password -a \"pryzm\" -s \"%s\" -w \"your-secret-value\"\n\n", name))
	return optionNum + 1
}

// appendLibsecretInstructions adds libsecret instructions to the builder.
func (m *DefaultSecretsManager) appendLibsecretInstructions(sb *strings.Builder, name string, optionNum int) int {
	if runtime.GOOS != "linux" {
		return optionNum
	}
	if !m.isBackendInAvailableList(SecretBackendLibsecret) {
		return optionNum
	}
	sb.WriteString(fmt.Sprintf("Option %d: GNOME Keyring / Secret Service\n", optionNum))
	sb.WriteString(fmt.Sprintf("  secret-tool store --label=\"Pryzm %s\" service pryzm key %s\n", name, name))
	sb.WriteString("  (Then enter the secret when prompted)\n\n")
	return optionNum + 1
}

// appendEnvInstructions adds environment variable instructions to the builder.
func (m *DefaultSecretsManager) appendEnvInstructions(sb *strings.Builder, name string, optionNum int) {
	sb.WriteString(fmt.Sprintf("Option %d: Environment Variable (for CI/Docker)\n", optionNum))
	sb.WriteString(fmt.Sprintf("  export %s=\"your-secret-value\"\n", name))
}

// appendSecretFormatHint adds format hints for known secrets.
func (m *DefaultSecretsManager) appendSecretFormatHint(sb *strings.Builder, name string) {
	switch name {
	case SecretOpenRouterAPIKey:
		sb.WriteString("\nNote: OpenRouter API keys start with 'sk-or-'\n")
	}
}

// -----------------------------------------------------------------------------
// Secure Memory Lifecycle
// -----------------------------------------------------------------------------

// secureMemoryOnce ensures memguard initialization happens only once.
var secureMemoryOnce sync.Once

// initSecureMemory prepares memguard for sealed secret handling.
// CatchInterrupt wipes locked memory if the process receives a signal.
func initSecureMemory() {
	secureMemoryOnce.Do(func() {
		memguard.CatchInterrupt()
	})
}

// PurgeSecureMemory wipes all memguard-allocated memory.
//
// # Description
//
// Destroys every sealed secret held by this process. Call before exit.
func PurgeSecureMemory() {
	memguard.Purge()
	slog.Info("Purged secure key memory")
}

// -----------------------------------------------------------------------------
// Compile-time Interface Check
// -----------------------------------------------------------------------------

var _ SecretsManager = (*DefaultSecretsManager)(nil)
