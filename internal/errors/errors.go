// Package errors implements the QAM-specific error kinds from spec §7,
// layered on top of pkg/shared/errors. Every AppError carries enough
// context (kind, subject id, last known state, suggested next action) to
// build the "user-visible failure message" the spec requires without the
// caller re-deriving it.
package errors

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrorType enumerates the error kinds named in spec §7, grouped by family:
// input, policy, resource, execution, validation, optimizer, audit.
type ErrorType string

const (
	// Input errors — raised synchronously, never retried.
	ErrorTypeTemplateNotFound    ErrorType = "template_not_found"
	ErrorTypeTemplateUnavailable ErrorType = "template_unavailable"
	ErrorTypeParameterInvalid    ErrorType = "parameter_invalid"
	ErrorTypeConfigMissing       ErrorType = "config_missing"

	// Policy errors — surfaced to caller, deployment moves to FAILED.
	ErrorTypePolicyDenied       ErrorType = "policy_denied"
	ErrorTypeSanctionsBlocked   ErrorType = "sanctions_blocked"
	ErrorTypeLicenseMissing     ErrorType = "license_missing"
	ErrorTypeClassificationStale ErrorType = "classification_stale"

	// Resource errors — IsRetryable reports them retryable, but the
	// Supervisor fails a deployment on its first reservation error without
	// retrying.
	ErrorTypeResourceUnavailable ErrorType = "resource_unavailable"
	ErrorTypeReservationExpired  ErrorType = "reservation_expired"

	// Execution errors — retried once on a fallback backend.
	ErrorTypeBackendUnavailable     ErrorType = "backend_unavailable"
	ErrorTypeBackendTimeout         ErrorType = "backend_timeout"
	ErrorTypeBackendMalformedResult ErrorType = "backend_malformed_result"

	// Validation errors — produce a failed MetricResult, never raised.
	ErrorTypeMetricUncomputable  ErrorType = "metric_uncomputable"
	ErrorTypeInsufficientSamples ErrorType = "insufficient_samples"

	// Optimizer errors — adaptation suppressed, current parameters kept.
	ErrorTypeLearnerDegenerate ErrorType = "learner_degenerate"

	// Audit errors — fatal, halt writes to the subject.
	ErrorTypeHashChainBroken ErrorType = "hash_chain_broken"

	ErrorTypeInternal ErrorType = "internal"
)

// statusCodes maps each kind to the HTTP status the read-only status API
// reports it as.
var statusCodes = map[ErrorType]int{
	ErrorTypeTemplateNotFound:       http.StatusNotFound,
	ErrorTypeTemplateUnavailable:    http.StatusConflict,
	ErrorTypeParameterInvalid:       http.StatusBadRequest,
	ErrorTypeConfigMissing:          http.StatusBadRequest,
	ErrorTypePolicyDenied:           http.StatusForbidden,
	ErrorTypeSanctionsBlocked:       http.StatusForbidden,
	ErrorTypeLicenseMissing:         http.StatusForbidden,
	ErrorTypeClassificationStale:    http.StatusConflict,
	ErrorTypeResourceUnavailable:    http.StatusServiceUnavailable,
	ErrorTypeReservationExpired:     http.StatusServiceUnavailable,
	ErrorTypeBackendUnavailable:     http.StatusServiceUnavailable,
	ErrorTypeBackendTimeout:         http.StatusGatewayTimeout,
	ErrorTypeBackendMalformedResult: http.StatusBadGateway,
	ErrorTypeMetricUncomputable:     http.StatusUnprocessableEntity,
	ErrorTypeInsufficientSamples:    http.StatusUnprocessableEntity,
	ErrorTypeLearnerDegenerate:      http.StatusInternalServerError,
	ErrorTypeHashChainBroken:        http.StatusInternalServerError,
	ErrorTypeInternal:               http.StatusInternalServerError,
}

// retryableTypes are the kinds spec §7 allows local recovery for: resource
// errors (capped backoff) and execution errors (one fallback attempt).
var retryableTypes = map[ErrorType]bool{
	ErrorTypeResourceUnavailable: true,
	ErrorTypeReservationExpired:  true,
	ErrorTypeBackendUnavailable:  true,
	ErrorTypeBackendTimeout:      true,
	ErrorTypeBackendMalformedResult: true,
}

// safeMessages are external-safe messages for kinds whose internal Message
// may contain sensitive detail.
var safeMessages = map[ErrorType]string{
	ErrorTypeTemplateNotFound: "the requested template could not be found",
	ErrorTypePolicyDenied:     "this action was denied by export-control policy",
	ErrorTypeSanctionsBlocked: "this action was blocked by sanctions screening",
	ErrorTypeBackendTimeout:   "the backend did not respond in time",
}

// AppError is the structured error type every QAM component returns for a
// condition named in spec §7.
type AppError struct {
	Type       ErrorType
	Message    string
	Details    string
	Cause      error
	SubjectID  string
	LastState  string
	NextAction string
}

func (e *AppError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Type, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// StatusCode reports the HTTP status this kind maps to.
func (e *AppError) StatusCode() int {
	if code, ok := statusCodes[e.Type]; ok {
		return code
	}
	return http.StatusInternalServerError
}

// WithDetails attaches additional detail, mutating and returning the
// receiver for chaining.
func (e *AppError) WithDetails(details string) *AppError {
	e.Details = details
	return e
}

// WithDetailsf attaches formatted additional detail.
func (e *AppError) WithDetailsf(format string, args ...interface{}) *AppError {
	e.Details = fmt.Sprintf(format, args...)
	return e
}

// WithSubject attaches the subject id, its last known state, and the
// suggested next action (retry, approval needed, contact admin) per §7's
// propagation policy.
func (e *AppError) WithSubject(subjectID, lastState, nextAction string) *AppError {
	e.SubjectID = subjectID
	e.LastState = lastState
	e.NextAction = nextAction
	return e
}

// New creates an AppError with no cause.
func New(t ErrorType, message string) *AppError {
	return &AppError{Type: t, Message: message}
}

// Wrap creates an AppError wrapping cause.
func Wrap(cause error, t ErrorType, message string) *AppError {
	return &AppError{Type: t, Message: message, Cause: cause}
}

// Wrapf creates an AppError wrapping cause with a formatted message.
func Wrapf(cause error, t ErrorType, format string, args ...interface{}) *AppError {
	return &AppError{Type: t, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// IsType reports whether err is an *AppError of the given kind.
func IsType(err error, t ErrorType) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type == t
	}
	return false
}

// GetType returns err's kind, or ErrorTypeInternal if err is not an
// *AppError.
func GetType(err error) ErrorType {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type
	}
	return ErrorTypeInternal
}

// GetStatusCode returns the HTTP status for err's kind.
func GetStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode()
	}
	return http.StatusInternalServerError
}

// IsRetryable reports whether local recovery should be attempted for err,
// per §7: only resource and execution errors are retried.
func IsRetryable(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return retryableTypes[appErr.Type]
	}
	return false
}

// SafeErrorMessage returns a message safe to surface outside the engine.
// Validation messages pass through verbatim (they describe caller input,
// not internals); everything else not in the predefined safe-message table
// collapses to a generic message.
func SafeErrorMessage(err error) string {
	var appErr *AppError
	if !errors.As(err, &appErr) {
		return "An unexpected error occurred"
	}
	if appErr.Type == ErrorTypeParameterInvalid {
		return appErr.Message
	}
	if msg, ok := safeMessages[appErr.Type]; ok {
		return msg
	}
	return "An internal error occurred"
}

// LogFields returns a structured field map suitable for passing to a
// logr.Logger's WithValues, or any other structured logger.
func LogFields(err error) map[string]interface{} {
	fields := map[string]interface{}{"error": err.Error()}
	var appErr *AppError
	if !errors.As(err, &appErr) {
		return fields
	}
	fields["error_type"] = string(appErr.Type)
	fields["status_code"] = appErr.StatusCode()
	if appErr.Details != "" {
		fields["error_details"] = appErr.Details
	}
	if appErr.Cause != nil {
		fields["underlying_error"] = appErr.Cause.Error()
	}
	if appErr.SubjectID != "" {
		fields["subject_id"] = appErr.SubjectID
	}
	if appErr.LastState != "" {
		fields["last_state"] = appErr.LastState
	}
	if appErr.NextAction != "" {
		fields["next_action"] = appErr.NextAction
	}
	return fields
}

// Chain joins non-nil errors with " -> ", returning nil if none are
// non-nil and the single error verbatim if there is exactly one.
func Chain(errs ...error) error {
	var parts []string
	for _, e := range errs {
		if e != nil {
			parts = append(parts, e.Error())
		}
	}
	switch len(parts) {
	case 0:
		return nil
	case 1:
		for _, e := range errs {
			if e != nil {
				return e
			}
		}
		return nil
	default:
		return fmt.Errorf("%s", strings.Join(parts, " -> "))
	}
}

// --- Predefined constructors for the spec's named error kinds ---

func NewTemplateNotFound(templateID string) *AppError {
	return New(ErrorTypeTemplateNotFound, fmt.Sprintf("template not found: %s", templateID)).
		WithSubject(templateID, "", "verify the template id and version")
}

func NewTemplateUnavailable(templateID string, status string) *AppError {
	return New(ErrorTypeTemplateUnavailable, fmt.Sprintf("template %s is not AVAILABLE (status=%s)", templateID, status)).
		WithSubject(templateID, status, "select a different template or wait for it to become AVAILABLE")
}

func NewParameterInvalid(param, reason string) *AppError {
	return New(ErrorTypeParameterInvalid, fmt.Sprintf("parameter %s invalid: %s", param, reason))
}

func NewPolicyDenied(reason string) *AppError {
	return New(ErrorTypePolicyDenied, reason).WithSubject("", "", "contact export-control compliance")
}

func NewSanctionsBlocked(actorID string) *AppError {
	return New(ErrorTypeSanctionsBlocked, fmt.Sprintf("actor %s blocked by sanctions screening", actorID)).
		WithSubject(actorID, "", "contact compliance; this actor cannot be unblocked automatically")
}

func NewLicenseMissing(licenseType string) *AppError {
	return New(ErrorTypeLicenseMissing, fmt.Sprintf("missing required license: %s", licenseType)).
		WithSubject("", "", "obtain the required license before retrying")
}

func NewResourceUnavailable(deploymentID string, cause error) *AppError {
	return Wrap(cause, ErrorTypeResourceUnavailable, "insufficient resources to reserve").
		WithSubject(deploymentID, "ALLOCATING_RESOURCES", "retry")
}

func NewBackendUnavailable(backendID string, cause error) *AppError {
	return Wrap(cause, ErrorTypeBackendUnavailable, fmt.Sprintf("backend %s unavailable", backendID)).
		WithSubject(backendID, "", "retry")
}

func NewBackendTimeout(backendID string) *AppError {
	return New(ErrorTypeBackendTimeout, fmt.Sprintf("backend %s timed out", backendID)).
		WithSubject(backendID, "", "retry on fallback backend")
}

func NewMetricUncomputable(metric string, cause error) *AppError {
	return Wrap(cause, ErrorTypeMetricUncomputable, fmt.Sprintf("metric %s could not be computed", metric))
}

func NewInsufficientSamples(metric string, got, need int) *AppError {
	return New(ErrorTypeInsufficientSamples, fmt.Sprintf("metric %s needs %d samples, got %d", metric, need, got))
}

func NewLearnerDegenerate(reason string) *AppError {
	return New(ErrorTypeLearnerDegenerate, reason).WithSubject("", "", "adaptation suppressed; current parameters kept")
}

func NewHashChainBroken(subjectID string) *AppError {
	return New(ErrorTypeHashChainBroken, fmt.Sprintf("audit hash chain broken for subject %s", subjectID)).
		WithSubject(subjectID, "", "contact admin; writes to this subject are halted")
}
