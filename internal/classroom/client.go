// Classward - Learning Platform Roster Synchronization
// Copyright 2026 Classward Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/classward/classward

/*
client.go - Learning Platform HTTP Client

HTTP implementation of RosterProvider against a Google Classroom shaped
REST API. Every call is submitted to the shared Gateway, which owns
throttling and retry; this file only builds requests, decodes responses,
and turns non-2xx statuses into APIError values the classifier
understands.

Request Configuration:
  - Authentication: Bearer access token per call (OAuth endpoints excepted)
  - Pagination: pageToken/pageSize query parameters, continuation token
    in the response body
  - Error decoding: platform error envelope first, OAuth error shape
    second, raw body as fallback

The OAuth token endpoints use form encoding and client credentials from
the service configuration; they flow through the same Gateway so token
refreshes compete fairly with roster traffic for the rate budget.
*/

//nolint:staticcheck // File documentation, not package doc
package classroom

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// ClientConfig holds connection settings for the learning platform API.
type ClientConfig struct {
	BaseURL      string
	AuthURL      string
	TokenURL     string
	RevokeURL    string
	ClientID     string
	ClientSecret string
	RedirectURI  string
	Scopes       []string
	PageSize     int
	Timeout      time.Duration
}

// Client is the HTTP RosterProvider. All traffic is serialized through
// the Gateway; methods block until their call has been dispatched and
// any classified retries are exhausted.
type Client struct {
	cfg        ClientConfig
	httpClient *http.Client
	gateway    *Gateway
}

// NewClient creates a Client routing through the given gateway.
func NewClient(cfg ClientConfig, gateway *Gateway) *Client {
	if cfg.PageSize <= 0 {
		cfg.PageSize = 100
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		gateway:    gateway,
	}
}

// AuthorizeURL builds the provider's OAuth consent URL for the connect
// flow. The state value round-trips through the provider unchanged.
func (c *Client) AuthorizeURL(state string) string {
	q := url.Values{}
	q.Set("client_id", c.cfg.ClientID)
	q.Set("redirect_uri", c.cfg.RedirectURI)
	q.Set("response_type", "code")
	q.Set("access_type", "offline")
	q.Set("prompt", "consent")
	q.Set("scope", strings.Join(c.cfg.Scopes, " "))
	q.Set("state", state)
	return c.cfg.AuthURL + "?" + q.Encode()
}

// apiRequest holds one platform API call before dispatch.
type apiRequest struct {
	method string
	path   string
	query  url.Values
	token  string
	body   any
}

// platformError is the error envelope the platform wraps failures in.
type platformError struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// oauthError is the error shape of the OAuth token endpoints.
type oauthError struct {
	Error       string `json:"error"`
	Description string `json:"error_description"`
}

// doAPI submits one platform API call through the gateway and decodes a
// successful response into result (which may be nil).
func (c *Client) doAPI(ctx context.Context, req apiRequest, result any) error {
	return c.gateway.Submit(ctx, func(ctx context.Context) error {
		var bodyReader io.Reader = http.NoBody
		if req.body != nil {
			encoded, err := json.Marshal(req.body)
			if err != nil {
				return fmt.Errorf("encode request body: %w", err)
			}
			bodyReader = bytes.NewReader(encoded)
		}

		httpReq, err := http.NewRequestWithContext(ctx, req.method, c.cfg.BaseURL+req.path, bodyReader)
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		httpReq.Header.Set("Authorization", "Bearer "+req.token)
		httpReq.Header.Set("Accept", "application/json")
		if req.body != nil {
			httpReq.Header.Set("Content-Type", "application/json")
		}
		if len(req.query) > 0 {
			httpReq.URL.RawQuery = req.query.Encode()
		}

		resp, err := c.httpClient.Do(httpReq)
		if err != nil {
			return fmt.Errorf("execute request: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return decodeAPIError(resp)
		}

		if result != nil {
			if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
				return fmt.Errorf("decode response: %w", err)
			}
		}
		return nil
	})
}

// decodeAPIError extracts the platform's error message so the classifier
// can inspect it. The body is capped; error payloads are small and an
// unbounded read of a hostile response is not worth the risk.
func decodeAPIError(resp *http.Response) error {
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return &APIError{StatusCode: resp.StatusCode}
	}

	var envelope platformError
	if json.Unmarshal(raw, &envelope) == nil && envelope.Error.Message != "" {
		return &APIError{StatusCode: resp.StatusCode, Message: envelope.Error.Message}
	}

	var oauthErr oauthError
	if json.Unmarshal(raw, &oauthErr) == nil && oauthErr.Error != "" {
		msg := oauthErr.Error
		if oauthErr.Description != "" {
			msg += ": " + oauthErr.Description
		}
		return &APIError{StatusCode: resp.StatusCode, Message: msg}
	}

	return &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
}

// Wire shapes, in the platform's own field naming.

type wireProfile struct {
	ID   string `json:"id"`
	Name struct {
		FullName string `json:"fullName"`
	} `json:"name"`
	EmailAddress string `json:"emailAddress"`
	PhotoURL     string `json:"photoUrl"`
}

type wireCourseMember struct {
	CourseID string      `json:"courseId"`
	UserID   string      `json:"userId"`
	Profile  wireProfile `json:"profile"`
}

type wireGuardian struct {
	StudentID       string      `json:"studentId"`
	GuardianID      string      `json:"guardianId"`
	GuardianProfile wireProfile `json:"guardianProfile"`
}

type wireCourse struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Section     string `json:"section"`
	CourseState string `json:"courseState"`
}

type wireCourseWork struct {
	ID          string   `json:"id,omitempty"`
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	MaxPoints   float64  `json:"maxPoints,omitempty"`
	State       string   `json:"state,omitempty"`
	DueDate     *wireYMD `json:"dueDate,omitempty"`
}

type wireYMD struct {
	Year  int `json:"year"`
	Month int `json:"month"`
	Day   int `json:"day"`
}

type wireSubmission struct {
	ID            string   `json:"id"`
	CourseWorkID  string   `json:"courseWorkId"`
	UserID        string   `json:"userId"`
	State         string   `json:"state"`
	AssignedGrade *float64 `json:"assignedGrade,omitempty"`
}

type wireRegistration struct {
	RegistrationID string `json:"registrationId"`
	ExpiryTime     string `json:"expiryTime"`
}

func memberFromWire(m wireCourseMember) Member {
	return Member{
		RemoteUserID: m.UserID,
		DisplayName:  m.Profile.Name.FullName,
		Email:        m.Profile.EmailAddress,
		PhotoURL:     m.Profile.PhotoURL,
	}
}

func courseWorkFromWire(w wireCourseWork) *CourseWork {
	cw := &CourseWork{
		ID:          w.ID,
		Title:       w.Title,
		Description: w.Description,
		MaxPoints:   w.MaxPoints,
		State:       w.State,
	}
	if w.DueDate != nil {
		due := time.Date(w.DueDate.Year, time.Month(w.DueDate.Month), w.DueDate.Day, 23, 59, 0, 0, time.UTC)
		cw.DueAt = &due
	}
	return cw
}

func courseWorkToWire(cw *CourseWork) wireCourseWork {
	w := wireCourseWork{
		ID:          cw.ID,
		Title:       cw.Title,
		Description: cw.Description,
		MaxPoints:   cw.MaxPoints,
		State:       cw.State,
	}
	if cw.DueAt != nil {
		w.DueDate = &wireYMD{Year: cw.DueAt.Year(), Month: int(cw.DueAt.Month()), Day: cw.DueAt.Day()}
	}
	return w
}

func (c *Client) pageQuery(pageToken string) url.Values {
	q := url.Values{}
	q.Set("pageSize", strconv.Itoa(c.cfg.PageSize))
	if pageToken != "" {
		q.Set("pageToken", pageToken)
	}
	return q
}

// ListCourses returns one page of the caller's courses.
func (c *Client) ListCourses(ctx context.Context, accessToken, pageToken string) (*CoursePage, error) {
	var raw struct {
		Courses       []wireCourse `json:"courses"`
		NextPageToken string       `json:"nextPageToken"`
	}
	err := c.doAPI(ctx, apiRequest{
		method: http.MethodGet,
		path:   "/v1/courses",
		query:  c.pageQuery(pageToken),
		token:  accessToken,
	}, &raw)
	if err != nil {
		return nil, err
	}

	page := &CoursePage{NextPageToken: raw.NextPageToken}
	for _, course := range raw.Courses {
		page.Courses = append(page.Courses, RemoteCourse{
			ID:      course.ID,
			Name:    course.Name,
			Section: course.Section,
			State:   course.CourseState,
		})
	}
	return page, nil
}

// ListTeachers returns one page of a course's teacher roster.
func (c *Client) ListTeachers(ctx context.Context, accessToken, courseID, pageToken string) (*MemberPage, error) {
	return c.listMembers(ctx, accessToken, fmt.Sprintf("/v1/courses/%s/teachers", url.PathEscape(courseID)), "teachers", pageToken)
}

// ListStudents returns one page of a course's student roster.
func (c *Client) ListStudents(ctx context.Context, accessToken, courseID, pageToken string) (*MemberPage, error) {
	return c.listMembers(ctx, accessToken, fmt.Sprintf("/v1/courses/%s/students", url.PathEscape(courseID)), "students", pageToken)
}

func (c *Client) listMembers(ctx context.Context, accessToken, path, key, pageToken string) (*MemberPage, error) {
	var raw map[string]json.RawMessage
	err := c.doAPI(ctx, apiRequest{
		method: http.MethodGet,
		path:   path,
		query:  c.pageQuery(pageToken),
		token:  accessToken,
	}, &raw)
	if err != nil {
		return nil, err
	}

	page := &MemberPage{}
	if tok, ok := raw["nextPageToken"]; ok {
		if err := json.Unmarshal(tok, &page.NextPageToken); err != nil {
			return nil, fmt.Errorf("decode page token: %w", err)
		}
	}
	if items, ok := raw[key]; ok {
		var members []wireCourseMember
		if err := json.Unmarshal(items, &members); err != nil {
			return nil, fmt.Errorf("decode %s: %w", key, err)
		}
		for _, m := range members {
			page.Members = append(page.Members, memberFromWire(m))
		}
	}
	return page, nil
}

// ListGuardians returns one page of a student's guardians. Guardians are
// only listable per student, not per course; 403/404 handling for
// domains with guardian access disabled is the reconciler's concern.
func (c *Client) ListGuardians(ctx context.Context, accessToken, studentRemoteID, pageToken string) (*MemberPage, error) {
	var raw struct {
		Guardians     []wireGuardian `json:"guardians"`
		NextPageToken string         `json:"nextPageToken"`
	}
	err := c.doAPI(ctx, apiRequest{
		method: http.MethodGet,
		path:   fmt.Sprintf("/v1/userProfiles/%s/guardians", url.PathEscape(studentRemoteID)),
		query:  c.pageQuery(pageToken),
		token:  accessToken,
	}, &raw)
	if err != nil {
		return nil, err
	}

	page := &MemberPage{NextPageToken: raw.NextPageToken}
	for _, g := range raw.Guardians {
		page.Members = append(page.Members, Member{
			RemoteUserID: g.GuardianID,
			DisplayName:  g.GuardianProfile.Name.FullName,
			Email:        g.GuardianProfile.EmailAddress,
			PhotoURL:     g.GuardianProfile.PhotoURL,
		})
	}
	return page, nil
}

// GetTeacher fetches one teacher membership (webhook path).
func (c *Client) GetTeacher(ctx context.Context, accessToken, courseID, remoteUserID string) (*Member, error) {
	return c.getMember(ctx, accessToken, fmt.Sprintf("/v1/courses/%s/teachers/%s", url.PathEscape(courseID), url.PathEscape(remoteUserID)))
}

// GetStudent fetches one student membership (webhook path).
func (c *Client) GetStudent(ctx context.Context, accessToken, courseID, remoteUserID string) (*Member, error) {
	return c.getMember(ctx, accessToken, fmt.Sprintf("/v1/courses/%s/students/%s", url.PathEscape(courseID), url.PathEscape(remoteUserID)))
}

func (c *Client) getMember(ctx context.Context, accessToken, path string) (*Member, error) {
	var raw wireCourseMember
	if err := c.doAPI(ctx, apiRequest{method: http.MethodGet, path: path, token: accessToken}, &raw); err != nil {
		return nil, err
	}
	member := memberFromWire(raw)
	return &member, nil
}

// CreateCourseWork creates coursework in the remote course.
func (c *Client) CreateCourseWork(ctx context.Context, accessToken, courseID string, work *CourseWork) (*CourseWork, error) {
	var raw wireCourseWork
	err := c.doAPI(ctx, apiRequest{
		method: http.MethodPost,
		path:   fmt.Sprintf("/v1/courses/%s/courseWork", url.PathEscape(courseID)),
		token:  accessToken,
		body:   courseWorkToWire(work),
	}, &raw)
	if err != nil {
		return nil, err
	}
	return courseWorkFromWire(raw), nil
}

// UpdateCourseWork patches the mutable fields of remote coursework.
func (c *Client) UpdateCourseWork(ctx context.Context, accessToken, courseID string, work *CourseWork) (*CourseWork, error) {
	q := url.Values{}
	q.Set("updateMask", "title,description,maxPoints,state")

	var raw wireCourseWork
	err := c.doAPI(ctx, apiRequest{
		method: http.MethodPatch,
		path:   fmt.Sprintf("/v1/courses/%s/courseWork/%s", url.PathEscape(courseID), url.PathEscape(work.ID)),
		query:  q,
		token:  accessToken,
		body:   courseWorkToWire(work),
	}, &raw)
	if err != nil {
		return nil, err
	}
	return courseWorkFromWire(raw), nil
}

// DeleteCourseWork deletes remote coursework.
func (c *Client) DeleteCourseWork(ctx context.Context, accessToken, courseID, courseWorkID string) error {
	return c.doAPI(ctx, apiRequest{
		method: http.MethodDelete,
		path:   fmt.Sprintf("/v1/courses/%s/courseWork/%s", url.PathEscape(courseID), url.PathEscape(courseWorkID)),
		token:  accessToken,
	}, nil)
}

// GetSubmission fetches one student submission.
func (c *Client) GetSubmission(ctx context.Context, accessToken, courseID, courseWorkID, submissionID string) (*RemoteSubmission, error) {
	var raw wireSubmission
	err := c.doAPI(ctx, apiRequest{
		method: http.MethodGet,
		path: fmt.Sprintf("/v1/courses/%s/courseWork/%s/studentSubmissions/%s",
			url.PathEscape(courseID), url.PathEscape(courseWorkID), url.PathEscape(submissionID)),
		token: accessToken,
	}, &raw)
	if err != nil {
		return nil, err
	}
	return &RemoteSubmission{
		ID:            raw.ID,
		CourseWorkID:  raw.CourseWorkID,
		RemoteUserID:  raw.UserID,
		State:         raw.State,
		AssignedGrade: raw.AssignedGrade,
	}, nil
}

// UpdateGrade patches the assigned grade on a submission.
func (c *Client) UpdateGrade(ctx context.Context, accessToken, courseID, courseWorkID, submissionID string, grade float64) error {
	q := url.Values{}
	q.Set("updateMask", "assignedGrade,draftGrade")

	body := map[string]float64{"assignedGrade": grade, "draftGrade": grade}
	return c.doAPI(ctx, apiRequest{
		method: http.MethodPatch,
		path: fmt.Sprintf("/v1/courses/%s/courseWork/%s/studentSubmissions/%s",
			url.PathEscape(courseID), url.PathEscape(courseWorkID), url.PathEscape(submissionID)),
		query: q,
		token: accessToken,
		body:  body,
	}, nil)
}

// ReturnSubmission returns a graded submission to the student.
func (c *Client) ReturnSubmission(ctx context.Context, accessToken, courseID, courseWorkID, submissionID string) error {
	return c.doAPI(ctx, apiRequest{
		method: http.MethodPost,
		path: fmt.Sprintf("/v1/courses/%s/courseWork/%s/studentSubmissions/%s:return",
			url.PathEscape(courseID), url.PathEscape(courseWorkID), url.PathEscape(submissionID)),
		token: accessToken,
		body:  struct{}{},
	}, nil)
}

// RegisterPushNotifications subscribes to a course feed and returns the
// new registration with its expiry.
func (c *Client) RegisterPushNotifications(ctx context.Context, accessToken, remoteCourseID, feedType string) (*Registration, error) {
	body := map[string]any{
		"feed": map[string]any{
			"feedType": feedType,
			"courseRosterChangesInfo": map[string]string{
				"courseId": remoteCourseID,
			},
		},
	}

	var raw wireRegistration
	err := c.doAPI(ctx, apiRequest{
		method: http.MethodPost,
		path:   "/v1/registrations",
		token:  accessToken,
		body:   body,
	}, &raw)
	if err != nil {
		return nil, err
	}

	expiresAt, err := time.Parse(time.RFC3339, raw.ExpiryTime)
	if err != nil {
		return nil, fmt.Errorf("parse registration expiry %q: %w", raw.ExpiryTime, err)
	}
	return &Registration{RegistrationID: raw.RegistrationID, ExpiresAt: expiresAt}, nil
}

// ExchangeCodeForTokens trades an authorization code for tokens.
func (c *Client) ExchangeCodeForTokens(ctx context.Context, code string) (*TokenResponse, error) {
	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("redirect_uri", c.cfg.RedirectURI)
	return c.tokenCall(ctx, form)
}

// RefreshAccessToken trades a refresh token for a fresh access token.
// The response's RefreshToken is empty when the provider did not rotate.
func (c *Client) RefreshAccessToken(ctx context.Context, refreshToken string) (*TokenResponse, error) {
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)
	return c.tokenCall(ctx, form)
}

func (c *Client) tokenCall(ctx context.Context, form url.Values) (*TokenResponse, error) {
	form.Set("client_id", c.cfg.ClientID)
	form.Set("client_secret", c.cfg.ClientSecret)

	var tokens TokenResponse
	err := c.gateway.Submit(ctx, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.TokenURL, strings.NewReader(form.Encode()))
		if err != nil {
			return fmt.Errorf("create token request: %w", err)
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("execute token request: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return decodeAPIError(resp)
		}
		if err := json.NewDecoder(resp.Body).Decode(&tokens); err != nil {
			return fmt.Errorf("decode token response: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &tokens, nil
}

// RevokeToken asks the provider to invalidate a token. Callers treat
// failures as best-effort; the gateway still classifies them.
func (c *Client) RevokeToken(ctx context.Context, token string) error {
	form := url.Values{}
	form.Set("token", token)

	return c.gateway.Submit(ctx, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.RevokeURL, strings.NewReader(form.Encode()))
		if err != nil {
			return fmt.Errorf("create revoke request: %w", err)
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("execute revoke request: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return decodeAPIError(resp)
		}
		return nil
	})
}

// Compile-time interface check.
var _ RosterProvider = (*Client)(nil)
