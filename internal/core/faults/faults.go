// Package faults defines the closed deployment error taxonomy and the
// classification of raw failure signals into typed error events.
package faults

import (
	"strings"
	"time"
)

// =============================================================================
// Error Types
// =============================================================================

// ErrorType is the closed set of deployment failure categories.
type ErrorType string

const (
	SyntaxError     ErrorType = "SyntaxError"
	ConfigError     ErrorType = "ConfigError"
	ModuleError     ErrorType = "ModuleError"
	DeploymentError ErrorType = "DeploymentError"
	NetworkError    ErrorType = "NetworkError"
	PermissionError ErrorType = "PermissionError"
	ValidationError ErrorType = "ValidationError"
	TimeoutError    ErrorType = "TimeoutError"
	DependencyError ErrorType = "DependencyError"
	ResourceError   ErrorType = "ResourceError"
	CommandNotFound ErrorType = "CommandNotFound"
	UnknownError    ErrorType = "UnknownError"
)

// Severity ranks error events for health tracking and notification.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityInfo     Severity = "info"
)

// defaultSeverity maps each error type to its fixed default severity.
var defaultSeverity = map[ErrorType]Severity{
	SyntaxError:     SeverityCritical,
	ConfigError:     SeverityHigh,
	ModuleError:     SeverityHigh,
	DeploymentError: SeverityHigh,
	NetworkError:    SeverityMedium,
	PermissionError: SeverityCritical,
	ValidationError: SeverityMedium,
	TimeoutError:    SeverityMedium,
	DependencyError: SeverityHigh,
	ResourceError:   SeverityMedium,
	CommandNotFound: SeverityCritical,
	UnknownError:    SeverityMedium,
}

// recoverableTypes marks which error types are worth automatic recovery.
// Syntax, permission, validation, and missing-command failures will not be
// fixed by retrying.
var recoverableTypes = map[ErrorType]bool{
	ConfigError:     true,
	ModuleError:     true,
	DeploymentError: true,
	NetworkError:    true,
	TimeoutError:    true,
	DependencyError: false,
	ResourceError:   true,
	UnknownError:    true,
}

// DefaultSeverity returns the fixed severity for an error type.
func DefaultSeverity(t ErrorType) Severity {
	if s, ok := defaultSeverity[t]; ok {
		return s
	}
	return SeverityMedium
}

// Recoverable reports whether automatic recovery applies to the type.
func Recoverable(t ErrorType) bool {
	return recoverableTypes[t]
}

// =============================================================================
// Error Events
// =============================================================================

// Event is a classified failure signal.
type Event struct {
	Type        ErrorType `json:"type"`
	Severity    Severity  `json:"severity"`
	Message     string    `json:"message"`
	Timestamp   time.Time `json:"timestamp"`
	Recoverable bool      `json:"recoverable"`
}

// NewEvent builds an event for a type with its default severity.
func NewEvent(t ErrorType, message string) Event {
	return Event{
		Type:        t,
		Severity:    DefaultSeverity(t),
		Message:     message,
		Timestamp:   time.Now().UTC(),
		Recoverable: Recoverable(t),
	}
}

// =============================================================================
// Signals
// =============================================================================

// Signal is a raw failure observation from a target job: the exit code of
// the failing procedure (0 when not applicable), the operation that failed,
// and its output or error text.
type Signal struct {
	ExitCode  int
	Operation string
	Message   string
}

// =============================================================================
// Classification
// =============================================================================

// exitCodeTable maps well-known shell exit codes deterministically.
var exitCodeTable = map[int]ErrorType{
	2:   SyntaxError,     // shell syntax error
	124: TimeoutError,    // timeout(1)
	126: PermissionError, // found but not executable
	127: CommandNotFound,
}

// heuristic is one content-based classification rule. Rules are ordered;
// the first match wins.
type heuristic struct {
	needles []string
	errType ErrorType
}

var heuristics = []heuristic{
	{[]string{"version already exists", "already exists", "previously published", "file already exists"}, ValidationError},
	{[]string{"permission denied", "access denied", "unauthorized", "403", "eacces"}, PermissionError},
	{[]string{"command not found", "executable file not found"}, CommandNotFound},
	{[]string{"timed out", "timeout", "deadline exceeded"}, TimeoutError},
	{[]string{"connection refused", "no such host", "network", "econnrefused", "econnreset", "tls handshake"}, NetworkError},
	{[]string{"no space left", "disk full", "out of memory", "cannot allocate", "resource temporarily unavailable"}, ResourceError},
	{[]string{"unresolved dependency", "dependency", "eresolve", "could not resolve"}, DependencyError},
	{[]string{"config", "configuration"}, ConfigError},
	{[]string{"cannot import", "module not found", "no module named", "cannot find module"}, ModuleError},
	{[]string{"syntax error", "parse error", "unexpected token"}, SyntaxError},
	{[]string{"invalid", "validation failed", "malformed"}, ValidationError},
	{[]string{"publish failed", "deploy failed", "push failed", "upload failed"}, DeploymentError},
}

// Classify maps a failure signal to a typed event. Known exit codes are
// mapped first; otherwise content heuristics run over the message and
// operation description, falling back to UnknownError.
func Classify(sig Signal) Event {
	if t, ok := exitCodeTable[sig.ExitCode]; ok {
		return NewEvent(t, sig.Message)
	}

	haystack := strings.ToLower(sig.Message + " " + sig.Operation)
	for _, h := range heuristics {
		for _, n := range h.needles {
			if strings.Contains(haystack, n) {
				return NewEvent(h.errType, sig.Message)
			}
		}
	}

	return NewEvent(UnknownError, sig.Message)
}
