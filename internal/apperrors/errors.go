// Package apperrors defines the shared error taxonomy the core uses to
// signal failure kinds to callers (spec §7): NotFound, ConflictingState,
// PolicyViolation, DependencyUnresolved, PluginError, MetadataError,
// ConfigError and TransientError. Command-surface code maps these kinds to
// user-facing hints; JSON API responses render {error, kind}.
package apperrors

import (
	"errors"
	"fmt"
)

// Kind identifies an error category for presentation and retry policy.
type Kind string

const (
	KindNotFound            Kind = "NotFound"
	KindConflictingState    Kind = "ConflictingState"
	KindPolicyViolation     Kind = "PolicyViolation"
	KindDependencyUnresolved Kind = "DependencyUnresolved"
	KindPluginError         Kind = "PluginError"
	KindMetadataError       Kind = "MetadataError"
	KindConfigError         Kind = "ConfigError"
	KindTransientError      Kind = "TransientError"
)

// Error is a taxonomy-tagged error that wraps an optional cause.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is allows errors.Is(err, apperrors.NotFound) style sentinel checks by
// comparing kinds rather than identity.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return e.Kind == other.Kind
	}
	return false
}

func newKind(kind Kind, message string) *Error { return &Error{Kind: kind, Message: message} }

// Sentinel values for errors.Is comparisons where no extra message/cause is needed.
var (
	NotFound            = newKind(KindNotFound, "not found")
	ConflictingState    = newKind(KindConflictingState, "conflicting state")
	PolicyViolation     = newKind(KindPolicyViolation, "policy violation")
	DependencyUnresolved = newKind(KindDependencyUnresolved, "dependency unresolved")
	PluginError         = newKind(KindPluginError, "plugin error")
	MetadataError       = newKind(KindMetadataError, "metadata error")
	ConfigError         = newKind(KindConfigError, "config error")
	TransientError      = newKind(KindTransientError, "transient error")
)

// NotFoundf constructs a NotFound error with a formatted message.
func NotFoundf(format string, args ...any) error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

// ConflictingStatef constructs a ConflictingState error with a formatted message.
func ConflictingStatef(format string, args ...any) error {
	return &Error{Kind: KindConflictingState, Message: fmt.Sprintf(format, args...)}
}

// PolicyViolationf constructs a PolicyViolation error with a formatted message.
func PolicyViolationf(format string, args ...any) error {
	return &Error{Kind: KindPolicyViolation, Message: fmt.Sprintf(format, args...)}
}

// DependencyUnresolvedf constructs a DependencyUnresolved error naming the
// task and the missing dependency it references.
func DependencyUnresolvedf(taskID, missingID string) error {
	return &Error{
		Kind:    KindDependencyUnresolved,
		Message: fmt.Sprintf("task %q depends on unknown task %q", taskID, missingID),
	}
}

// WrapPlugin wraps a plugin call failure (runtime/SCM/tracker/notifier) as a PluginError.
func WrapPlugin(slot, name string, cause error) error {
	return &Error{Kind: KindPluginError, Message: fmt.Sprintf("%s plugin %q failed", slot, name), Cause: cause}
}

// WrapMetadata wraps a metadata store failure as a MetadataError.
func WrapMetadata(op string, cause error) error {
	return &Error{Kind: KindMetadataError, Message: fmt.Sprintf("metadata %s failed", op), Cause: cause}
}

// WrapConfig wraps a configuration failure as a ConfigError.
func WrapConfig(message string, cause error) error {
	return &Error{Kind: KindConfigError, Message: message, Cause: cause}
}

// WrapTransient wraps a transient network/timeout failure.
func WrapTransient(message string, cause error) error {
	return &Error{Kind: KindTransientError, Message: message, Cause: cause}
}

// KindOf extracts the Kind of err, if it (or something it wraps) is an *Error.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// IsTransient reports whether err is (or wraps) a TransientError — used by
// notifier retry policy to decide whether a failure is retryable.
func IsTransient(err error) bool {
	k, ok := KindOf(err)
	return ok && k == KindTransientError
}
