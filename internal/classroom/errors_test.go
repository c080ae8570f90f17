// Classward - Learning Platform Roster Synchronization
// Copyright 2026 Classward Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/classward/classward

package classroom

import (
	"errors"
	"net/http"
	"testing"
	"time"
)

func TestClassifyResponseSubstringsBeforeStatus(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		status  int
		message string
		want    Code
	}{
		// Message signals must win over the status code: the platform
		// reuses 400/401/403 for structurally different failures.
		{"invalid grant on 400", http.StatusBadRequest, "Token refresh failed: invalid_grant", CodeTokenExpired},
		{"invalid grant on 401", http.StatusUnauthorized, "invalid_grant", CodeTokenExpired},
		{"expired token", http.StatusUnauthorized, "Token has been expired or revoked.", CodeTokenExpired},
		{"revoked token", http.StatusUnauthorized, "The access token revoked by the user.", CodeTokenRevoked},
		{"insufficient scope on 403", http.StatusForbidden, "Request had insufficient authentication scopes.", CodeInsufficientScope},
		{"not a member on 403", http.StatusForbidden, "The caller is not a member of the course.", CodeNotAMember},
		{"teacher required on 403", http.StatusForbidden, "User is not a teacher of this course.", CodeTeacherRequired},
		{"guardians disabled on 403", http.StatusForbidden, "Guardians are not enabled for this domain.", CodeGuardiansDisabled},
		{"already exists on 409", http.StatusConflict, "Requested entity already exists.", CodeAlreadyExists},
		{"domain policy on 403", http.StatusForbidden, "Rejected by domain policy.", CodeDomainNotAllowed},

		// Status fallbacks when the message carries no signal.
		{"plain 401", http.StatusUnauthorized, "request failed", CodeUnauthorized},
		{"plain 403", http.StatusForbidden, "request failed", CodePermissionDenied},
		{"plain 404", http.StatusNotFound, "no such resource", CodeNotFound},
		{"course 404", http.StatusNotFound, "Course not found.", CodeCourseNotFound},
		{"student 404", http.StatusNotFound, "Student does not exist in this course.", CodeStudentNotFound},
		{"coursework 404", http.StatusNotFound, "CourseWork not found.", CodeAssignmentNotFound},
		{"submission 404", http.StatusNotFound, "Submission not found.", CodeSubmissionNotFound},
		{"plain 409", http.StatusConflict, "concurrent modification", CodeConflict},
		{"429", http.StatusTooManyRequests, "Rate limit exceeded.", CodeRateLimited},
		{"500", http.StatusInternalServerError, "Internal error.", CodeServerError},
		{"502", http.StatusBadGateway, "", CodeUnavailable},
		{"503", http.StatusServiceUnavailable, "", CodeUnavailable},
		{"504", http.StatusGatewayTimeout, "", CodeUnavailable},
		{"teapot", http.StatusTeapot, "", CodeUnknown},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := ClassifyResponse(tc.status, tc.message)
			if got.Code != tc.want {
				t.Errorf("ClassifyResponse(%d, %q).Code = %s, want %s", tc.status, tc.message, got.Code, tc.want)
			}
		})
	}
}

func TestClassifyRetryPolicies(t *testing.T) {
	t.Parallel()

	cases := []struct {
		code       Code
		retryable  bool
		maxRetries int
	}{
		{CodeTokenExpired, false, 0},
		{CodeTokenRevoked, false, 0},
		{CodeUnauthorized, false, 0},
		{CodePermissionDenied, false, 0},
		{CodeNotAMember, false, 0},
		{CodeCourseNotFound, false, 0},
		{CodeAlreadyExists, false, 0},
		{CodeGuardiansDisabled, false, 0},
		{CodeRateLimited, true, 5},
		{CodeServerError, true, 3},
		{CodeUnavailable, true, 3},
		{CodeQuotaExceeded, true, 3},
		{CodeConflict, true, 1},
	}

	for _, tc := range cases {
		err := NewError(tc.code, nil)
		if err.Retryable() != tc.retryable {
			t.Errorf("%s: Retryable = %v, want %v", tc.code, err.Retryable(), tc.retryable)
		}
		if err.Retry.MaxRetries != tc.maxRetries {
			t.Errorf("%s: MaxRetries = %d, want %d", tc.code, err.Retry.MaxRetries, tc.maxRetries)
		}
	}

	// Conflict is retried exactly once and without backoff.
	conflict := NewError(CodeConflict, nil)
	if conflict.Retry.ExponentialBackoff {
		t.Error("conflict retry must not use exponential backoff")
	}
	if got := BackoffDelay(conflict.Retry, 0); got != 0 {
		t.Errorf("conflict backoff = %v, want 0", got)
	}
}

func TestClassifyPassthroughAndWrapping(t *testing.T) {
	t.Parallel()

	orig := NewError(CodeRateLimited, &APIError{StatusCode: 429, Message: "slow down"})
	if got := Classify(orig); got != orig {
		t.Error("already-classified errors must pass through unchanged")
	}

	wrapped := Classify(errors.New("dial tcp: connection refused"))
	if wrapped.Code != CodeUnavailable {
		t.Errorf("transport error classified as %s, want UNAVAILABLE", wrapped.Code)
	}
	if !wrapped.Retryable() {
		t.Error("transport errors must be retryable")
	}

	var apiErr *APIError
	classified := Classify(&APIError{StatusCode: 404, Message: "Course not found."})
	if classified.Code != CodeCourseNotFound {
		t.Errorf("Code = %s, want COURSE_NOT_FOUND", classified.Code)
	}
	if !errors.As(classified, &apiErr) {
		t.Error("classified error should unwrap to the raw APIError")
	}

	if Classify(nil) != nil {
		t.Error("Classify(nil) should be nil")
	}
}

func TestBackoffDelayBounds(t *testing.T) {
	t.Parallel()

	cfg := RetryConfig{Retryable: true, BaseDelay: time.Second, MaxRetries: 5, ExponentialBackoff: true}

	for attempt := 0; attempt < 5; attempt++ {
		lower := cfg.BaseDelay << uint(attempt)
		upper := time.Duration(float64(lower) * 1.3)
		for i := 0; i < 50; i++ {
			got := BackoffDelay(cfg, attempt)
			if got < lower || got > upper {
				t.Fatalf("attempt %d: delay %v outside [%v, %v]", attempt, got, lower, upper)
			}
		}
	}
}

func TestBackoffDelayCap(t *testing.T) {
	t.Parallel()

	cfg := RetryConfig{Retryable: true, BaseDelay: 30 * time.Second, MaxRetries: 10, ExponentialBackoff: true}

	// 30s * 2^6 = 32min, well past the cap.
	if got := BackoffDelay(cfg, 6); got != maxBackoffDelay {
		t.Errorf("delay = %v, want cap %v", got, maxBackoffDelay)
	}
	if maxBackoffDelay != 300000*time.Millisecond {
		t.Errorf("cap = %v, want 300000ms", maxBackoffDelay)
	}
}

func TestAPIErrorMessage(t *testing.T) {
	t.Parallel()

	withMsg := &APIError{StatusCode: 403, Message: "denied"}
	if withMsg.Error() != "remote API error: status 403: denied" {
		t.Errorf("unexpected message: %q", withMsg.Error())
	}
	bare := &APIError{StatusCode: 500}
	if bare.Error() != "remote API error: status 500" {
		t.Errorf("unexpected message: %q", bare.Error())
	}
}
