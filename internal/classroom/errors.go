// Classward - Learning Platform Roster Synchronization
// Copyright 2026 Classward Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/classward/classward

package classroom

import (
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"strings"
	"time"
)

// Code is a typed error code for a remote API failure.
type Code string

const (
	// Authentication.
	CodeTokenExpired Code = "TOKEN_EXPIRED"
	CodeTokenRevoked Code = "TOKEN_REVOKED"
	CodeUnauthorized Code = "UNAUTHORIZED"

	// Authorization.
	CodePermissionDenied  Code = "PERMISSION_DENIED"
	CodeInsufficientScope Code = "INSUFFICIENT_SCOPE"
	CodeNotAMember        Code = "NOT_A_MEMBER"
	CodeTeacherRequired   Code = "TEACHER_REQUIRED"

	// Not found, refined by message keyword where possible.
	CodeCourseNotFound     Code = "COURSE_NOT_FOUND"
	CodeStudentNotFound    Code = "STUDENT_NOT_FOUND"
	CodeAssignmentNotFound Code = "ASSIGNMENT_NOT_FOUND"
	CodeSubmissionNotFound Code = "SUBMISSION_NOT_FOUND"
	CodeNotFound           Code = "NOT_FOUND"

	// Rate limiting.
	CodeRateLimited   Code = "RATE_LIMITED"
	CodeQuotaExceeded Code = "QUOTA_EXCEEDED"

	// Upstream availability.
	CodeServerError Code = "SERVER_ERROR"
	CodeUnavailable Code = "UNAVAILABLE"

	// Conflicts.
	CodeAlreadyExists Code = "ALREADY_EXISTS"
	CodeConflict      Code = "CONFLICT"

	// Domain configuration.
	CodeDomainNotAllowed  Code = "DOMAIN_NOT_ALLOWED"
	CodeGuardiansDisabled Code = "GUARDIANS_DISABLED"

	CodeUnknown Code = "UNKNOWN"
)

// RetryConfig is the retry policy attached to a classified error.
type RetryConfig struct {
	Retryable          bool
	BaseDelay          time.Duration
	MaxRetries         int
	ExponentialBackoff bool
}

// maxBackoffDelay caps every computed retry delay.
const maxBackoffDelay = 5 * time.Minute

// backoffJitterFactor is the upper bound of the random delay inflation.
const backoffJitterFactor = 0.3

// ClassifiedError is a remote failure mapped to a typed code, a message
// suitable for end users, and a fixed retry policy. It wraps the raw
// failure for diagnostics.
type ClassifiedError struct {
	Code        Code
	UserMessage string
	HTTPStatus  int
	Retry       RetryConfig
	cause       error
}

func (e *ClassifiedError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Code, e.cause)
	}
	return string(e.Code)
}

// Unwrap exposes the raw failure for errors.Is/As chains.
func (e *ClassifiedError) Unwrap() error {
	return e.cause
}

// Retryable reports whether the gateway may retry this failure.
func (e *ClassifiedError) Retryable() bool {
	return e.Retry.Retryable
}

// APIError is the raw failure shape produced by the HTTP client layer
// before classification: the response status plus the platform's error
// message, if one could be decoded.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("remote API error: status %d", e.StatusCode)
	}
	return fmt.Sprintf("remote API error: status %d: %s", e.StatusCode, e.Message)
}

// codeDetail carries the fixed per-code metadata. The retry policy is
// data, not computation: the gateway and the orchestrator both key their
// behavior off this table, so changing an entry changes system behavior.
type codeDetail struct {
	userMessage string
	httpStatus  int
	retry       RetryConfig
}

var codeTable = map[Code]codeDetail{
	CodeTokenExpired: {
		userMessage: "Your learning platform connection has expired. Please reconnect your account.",
		httpStatus:  http.StatusUnauthorized,
	},
	CodeTokenRevoked: {
		userMessage: "Access to your learning platform account was revoked. Please reconnect your account.",
		httpStatus:  http.StatusUnauthorized,
	},
	CodeUnauthorized: {
		userMessage: "Authentication with the learning platform failed. Please reconnect your account.",
		httpStatus:  http.StatusUnauthorized,
	},
	CodePermissionDenied: {
		userMessage: "You do not have permission to perform this action on the learning platform.",
		httpStatus:  http.StatusForbidden,
	},
	CodeInsufficientScope: {
		userMessage: "Your connection is missing required permissions. Please reconnect and grant all requested access.",
		httpStatus:  http.StatusForbidden,
	},
	CodeNotAMember: {
		userMessage: "You are not a member of this course on the learning platform.",
		httpStatus:  http.StatusForbidden,
	},
	CodeTeacherRequired: {
		userMessage: "Only a teacher of the course can perform this action.",
		httpStatus:  http.StatusForbidden,
	},
	CodeCourseNotFound: {
		userMessage: "The course was not found on the learning platform. It may have been deleted.",
		httpStatus:  http.StatusNotFound,
	},
	CodeStudentNotFound: {
		userMessage: "The student was not found in this course on the learning platform.",
		httpStatus:  http.StatusNotFound,
	},
	CodeAssignmentNotFound: {
		userMessage: "The assignment was not found on the learning platform. It may have been deleted.",
		httpStatus:  http.StatusNotFound,
	},
	CodeSubmissionNotFound: {
		userMessage: "The submission was not found on the learning platform.",
		httpStatus:  http.StatusNotFound,
	},
	CodeNotFound: {
		userMessage: "The requested resource was not found on the learning platform.",
		httpStatus:  http.StatusNotFound,
	},
	CodeRateLimited: {
		userMessage: "The learning platform is receiving too many requests. The operation will be retried automatically.",
		httpStatus:  http.StatusTooManyRequests,
		retry:       RetryConfig{Retryable: true, BaseDelay: time.Second, MaxRetries: 5, ExponentialBackoff: true},
	},
	CodeQuotaExceeded: {
		userMessage: "The learning platform API quota was exceeded. The operation will be retried later.",
		httpStatus:  http.StatusTooManyRequests,
		retry:       RetryConfig{Retryable: true, BaseDelay: 30 * time.Second, MaxRetries: 3, ExponentialBackoff: true},
	},
	CodeServerError: {
		userMessage: "The learning platform reported an internal error. The operation will be retried automatically.",
		httpStatus:  http.StatusBadGateway,
		retry:       RetryConfig{Retryable: true, BaseDelay: time.Second, MaxRetries: 3, ExponentialBackoff: true},
	},
	CodeUnavailable: {
		userMessage: "The learning platform is temporarily unavailable. The operation will be retried automatically.",
		httpStatus:  http.StatusBadGateway,
		retry:       RetryConfig{Retryable: true, BaseDelay: 2 * time.Second, MaxRetries: 3, ExponentialBackoff: true},
	},
	CodeAlreadyExists: {
		userMessage: "This item already exists on the learning platform.",
		httpStatus:  http.StatusConflict,
	},
	CodeConflict: {
		userMessage: "The learning platform rejected the request due to a conflicting concurrent change.",
		httpStatus:  http.StatusConflict,
		retry:       RetryConfig{Retryable: true, BaseDelay: 0, MaxRetries: 1, ExponentialBackoff: false},
	},
	CodeDomainNotAllowed: {
		userMessage: "Your organization's learning platform policy does not allow this action.",
		httpStatus:  http.StatusForbidden,
	},
	CodeGuardiansDisabled: {
		userMessage: "Guardian access is disabled for your organization's learning platform domain.",
		httpStatus:  http.StatusForbidden,
	},
	CodeUnknown: {
		userMessage: "An unexpected error occurred while contacting the learning platform.",
		httpStatus:  http.StatusInternalServerError,
	},
}

// substringRule maps a message fragment to a code. Rules are ordered and
// checked before any status-code mapping: the platform reuses 400 and 403
// for structurally different failures, so the message is the only signal
// that distinguishes, say, a revoked token from a disabled guardian
// feature.
type substringRule struct {
	fragment string
	code     Code
}

var substringRules = []substringRule{
	{"invalid_grant", CodeTokenExpired},
	{"token has been expired", CodeTokenExpired},
	{"access token expired", CodeTokenExpired},
	{"token has been revoked", CodeTokenRevoked},
	{"access token revoked", CodeTokenRevoked},
	{"insufficient authentication scopes", CodeInsufficientScope},
	{"insufficient scope", CodeInsufficientScope},
	{"not a member of the course", CodeNotAMember},
	{"caller is not a member", CodeNotAMember},
	{"is not a teacher", CodeTeacherRequired},
	{"only a teacher", CodeTeacherRequired},
	{"guardians are not enabled", CodeGuardiansDisabled},
	{"guardian notifications are disabled", CodeGuardiansDisabled},
	{"already exists", CodeAlreadyExists},
	{"cannot direct users outside", CodeDomainNotAllowed},
	{"domain policy", CodeDomainNotAllowed},
}

// notFoundRefinements narrow a bare 404 by message keyword.
var notFoundRefinements = []substringRule{
	{"course", CodeCourseNotFound},
	{"student", CodeStudentNotFound},
	{"coursework", CodeAssignmentNotFound},
	{"course work", CodeAssignmentNotFound},
	{"assignment", CodeAssignmentNotFound},
	{"submission", CodeSubmissionNotFound},
}

// NewError builds a ClassifiedError for a known code, wrapping cause.
func NewError(code Code, cause error) *ClassifiedError {
	detail, ok := codeTable[code]
	if !ok {
		detail = codeTable[CodeUnknown]
		code = CodeUnknown
	}
	return &ClassifiedError{
		Code:        code,
		UserMessage: detail.userMessage,
		HTTPStatus:  detail.httpStatus,
		Retry:       detail.retry,
		cause:       cause,
	}
}

// Classify maps an arbitrary failure to a ClassifiedError.
//
// Order matters: an already-classified error passes through unchanged so
// a retry loop never re-derives a different policy mid-flight; a raw
// APIError is classified from its message first and status second; and
// anything else (transport failure, timeout) is treated as UNAVAILABLE,
// which is retryable.
func Classify(err error) *ClassifiedError {
	if err == nil {
		return nil
	}

	var classified *ClassifiedError
	if errors.As(err, &classified) {
		return classified
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return classifyResponse(apiErr.StatusCode, apiErr.Message, err)
	}

	// Transport-level failures (connection reset, timeout) have no status
	// code; they are indistinguishable from a temporarily unreachable
	// upstream and get the UNAVAILABLE policy.
	return NewError(CodeUnavailable, err)
}

// ClassifyResponse maps an HTTP status and message to a ClassifiedError.
func ClassifyResponse(status int, message string) *ClassifiedError {
	return classifyResponse(status, message, &APIError{StatusCode: status, Message: message})
}

func classifyResponse(status int, message string, cause error) *ClassifiedError {
	lower := strings.ToLower(message)

	for _, rule := range substringRules {
		if strings.Contains(lower, rule.fragment) {
			return NewError(rule.code, cause)
		}
	}

	switch status {
	case http.StatusUnauthorized:
		return NewError(CodeUnauthorized, cause)
	case http.StatusForbidden:
		return NewError(CodePermissionDenied, cause)
	case http.StatusNotFound:
		for _, rule := range notFoundRefinements {
			if strings.Contains(lower, rule.fragment) {
				return NewError(rule.code, cause)
			}
		}
		return NewError(CodeNotFound, cause)
	case http.StatusConflict:
		return NewError(CodeConflict, cause)
	case http.StatusTooManyRequests:
		return NewError(CodeRateLimited, cause)
	case http.StatusInternalServerError:
		return NewError(CodeServerError, cause)
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return NewError(CodeUnavailable, cause)
	default:
		return NewError(CodeUnknown, cause)
	}
}

// BackoffDelay computes the wait before retry number attempt (0-based).
// With exponential backoff the delay is base * 2^attempt inflated by up
// to 30% random jitter, capped at five minutes. Without it the base
// delay is returned as-is.
func BackoffDelay(cfg RetryConfig, attempt int) time.Duration {
	if !cfg.ExponentialBackoff {
		return cfg.BaseDelay
	}
	delay := cfg.BaseDelay << uint(attempt) //nolint:gosec // attempt is bounded by MaxRetries
	if delay > maxBackoffDelay || delay <= 0 {
		return maxBackoffDelay
	}
	jitter := 1 + rand.Float64()*backoffJitterFactor //nolint:gosec // G404: jitter does not need crypto randomness
	jittered := time.Duration(float64(delay) * jitter)
	if jittered > maxBackoffDelay {
		return maxBackoffDelay
	}
	return jittered
}
