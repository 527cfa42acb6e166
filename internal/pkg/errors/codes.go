package errors

import "net/http"

// Error code constants.
// Errors contain code + params only, no hardcoded messages.
// Clients handle presentation. Backend logs always in English.

// Variation error codes.
const (
	CodeVariationNotFound       = "VARIATION_NOT_FOUND"
	CodeVariationNotCommittable = "VARIATION_NOT_COMMITTABLE"
	CodeInvalidTransition       = "INVALID_STATUS_TRANSITION"
	CodeBaselineMismatch        = "BASELINE_MISMATCH"
	CodeUnknownPhrase           = "UNKNOWN_PHRASE"
	CodeGenerationFailed        = "GENERATION_FAILED"
	CodeCommitFailed            = "COMMIT_APPLY_FAILED"
	CodeBudgetExhausted         = "BUDGET_EXHAUSTED"
)

// Entity/state error codes.
const (
	CodeEntityNotFound  = "ENTITY_NOT_FOUND"
	CodeAmbiguousName   = "AMBIGUOUS_NAME"
	CodeInvalidParent   = "INVALID_PARENT"
	CodeTransactionOpen = "TRANSACTION_OPEN"
	CodeProjectNotFound = "PROJECT_NOT_FOUND"
)

// Hub error codes.
const (
	CodeRepoNotFound      = "REPO_NOT_FOUND"
	CodeBranchNotFound    = "BRANCH_NOT_FOUND"
	CodeCommitNotFound    = "COMMIT_NOT_FOUND"
	CodeObjectNotFound    = "OBJECT_NOT_FOUND"
	CodePullNotFound      = "PULL_REQUEST_NOT_FOUND"
	CodeTagNotFound       = "TAG_NOT_FOUND"
	CodeNonFastForward    = "NON_FAST_FORWARD"
	CodeLeaseFailed       = "LEASE_FAILED"
	CodePullNotOpen       = "PULL_REQUEST_NOT_OPEN"
	CodeBranchProtected   = "BRANCH_PROTECTED"
	CodeBranchExists      = "BRANCH_ALREADY_EXISTS"
	CodeTagExists         = "TAG_ALREADY_EXISTS"
	CodeRepoExists        = "REPO_ALREADY_EXISTS"
	CodeUnknownStrategy   = "UNSUPPORTED_MERGE_STRATEGY"
	CodeIntegrityMismatch = "CONTENT_ADDRESS_MISMATCH"
)

// Auth error codes.
const (
	CodeAuthFailed   = "AUTH_FAILED"
	CodeTokenExpired = "TOKEN_EXPIRED"
	CodeTokenInvalid = "TOKEN_INVALID"
)

// Validation error codes.
const (
	CodeInvalidRequestField = "INVALID_REQUEST_FIELD"
	CodeValidationFailed    = "VALIDATION_FAILED"
	CodeNameInvalid         = "NAME_INVALID"
)

// System error codes.
const (
	CodeInternal       = "INTERNAL_ERROR"
	CodeShuttingDown   = "SERVICE_SHUTTING_DOWN"
	CodeStoreUnavail   = "STORE_UNAVAILABLE"
	CodeAssetsDisabled = "ASSET_DELIVERY_DISABLED"
)

// Convenience constructors using predefined codes.

// ErrVariationNotFoundf creates a variation not found error.
func ErrVariationNotFoundf(variationID string) *AppError {
	return (&AppError{
		Code:       CodeVariationNotFound,
		Message:    "variation not found",
		HTTPStatus: http.StatusNotFound,
	}).WithParams(map[string]interface{}{"variation_id": variationID})
}

// ErrBaselineMismatchf creates a 409 for a stale base state id.
func ErrBaselineMismatchf(expected, actual string) *AppError {
	return (&AppError{
		Code:       CodeBaselineMismatch,
		Message:    "project state changed since the variation was proposed",
		HTTPStatus: http.StatusConflict,
	}).WithParams(map[string]interface{}{"expected_state_id": expected, "current_state_id": actual})
}

// ErrNonFastForwardf creates a 409 for a rejected branch update.
func ErrNonFastForwardf(branch, remoteHead string) *AppError {
	return (&AppError{
		Code:       CodeNonFastForward,
		Message:    "push rejected: remote branch has commits the client does not have",
		HTTPStatus: http.StatusConflict,
	}).WithParams(map[string]interface{}{"branch": branch, "remote_head": remoteHead})
}

// ErrInvalidRequestFieldf creates a bad request error for a rejected field.
func ErrInvalidRequestFieldf(fieldName string) *AppError {
	return &AppError{
		Code:       CodeInvalidRequestField,
		Message:    "request contains invalid field: " + fieldName,
		HTTPStatus: http.StatusBadRequest,
	}
}
