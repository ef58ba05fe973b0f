// Package vwerr defines the error taxonomy shared across vaultweaver's
// components. Errors are tagged with a Kind rather than distinguished by
// Go type, so callers can branch on errors.As without importing every
// producer package.
package vwerr

import "fmt"

// Kind identifies the category of a vaultweaver error, per the taxonomy
// every component reports against.
type Kind string

const (
	ConfigInvalid        Kind = "CONFIG_INVALID"
	VaultIOError         Kind = "VAULT_IO_ERROR"
	CacheWriteError      Kind = "CACHE_WRITE_ERROR"
	FrontmatterInvalid   Kind = "FRONTMATTER_INVALID"
	LLMTransient         Kind = "LLM_TRANSIENT"
	LLMPermanent         Kind = "LLM_PERMANENT"
	LLMCircuitOpen       Kind = "LLM_CIRCUIT_OPEN"
	LLMParseError        Kind = "LLM_PARSE_ERROR"
	RuleConditionError   Kind = "RULE_CONDITION_ERROR"
	RuleApplyFailed      Kind = "RULE_APPLY_FAILED"
	RuleTimeout          Kind = "RULE_TIMEOUT"
	RuleAbandoned        Kind = "RULE_ABANDONED"
	RuleQuarantined      Kind = "RULE_QUARANTINED"
	WorkflowMissingCap   Kind = "WORKFLOW_MISSING_CAPABILITY"
	WorkflowStepFailed   Kind = "WORKFLOW_STEP_FAILED"
	VaultSyncFailed      Kind = "VAULT_SYNC_FAILED"
)

// Error wraps an underlying error with a Kind and optional context.
type Error struct {
	Kind    Kind
	Op      string // component/operation that produced the error, e.g. "cache.upsertNote"
	Err     error
	Detail  string // free-form diagnostic, e.g. raw LLM response on parse failure
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a tagged error for op/kind wrapping err (err may be nil).
func New(op string, kind Kind, err error) *Error {
	return &Error{Op: op, Kind: kind, Err: err}
}

// WithDetail attaches a free-form diagnostic string and returns the receiver.
func (e *Error) WithDetail(detail string) *Error {
	e.Detail = detail
	return e
}

// KindOf extracts the Kind from err if it (or something it wraps) is a
// *Error; ok is false otherwise.
func KindOf(err error) (Kind, bool) {
	var ve *Error
	if ok := asError(err, &ve); ok {
		return ve.Kind, true
	}
	return "", false
}

func asError(err error, target **Error) bool {
	for err != nil {
		if ve, ok := err.(*Error); ok {
			*target = ve
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
