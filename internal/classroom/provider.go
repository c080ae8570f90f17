// Classward - Learning Platform Roster Synchronization
// Copyright 2026 Classward Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/classward/classward

package classroom

import (
	"context"
	"time"
)

// Member is one roster member as the platform reports it.
type Member struct {
	RemoteUserID string `json:"remote_user_id"`
	DisplayName  string `json:"display_name"`
	Email        string `json:"email,omitempty"`
	PhotoURL     string `json:"photo_url,omitempty"`
}

// RemoteCourse is one course as the platform reports it.
type RemoteCourse struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Section string `json:"section,omitempty"`
	State   string `json:"state,omitempty"`
}

// CoursePage is one page of a course listing.
type CoursePage struct {
	Courses       []RemoteCourse `json:"courses"`
	NextPageToken string         `json:"next_page_token,omitempty"`
}

// MemberPage is one page of a roster listing. An empty NextPageToken
// marks the final page.
type MemberPage struct {
	Members       []Member `json:"members"`
	NextPageToken string   `json:"next_page_token,omitempty"`
}

// CourseWork is remote coursework in the platform's shape.
type CourseWork struct {
	ID          string     `json:"id,omitempty"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	MaxPoints   float64    `json:"max_points"`
	State       string     `json:"state,omitempty"`
	DueAt       *time.Time `json:"due_at,omitempty"`
}

// RemoteSubmission is a student submission in the platform's shape.
type RemoteSubmission struct {
	ID            string   `json:"id"`
	CourseWorkID  string   `json:"course_work_id"`
	RemoteUserID  string   `json:"remote_user_id"`
	State         string   `json:"state,omitempty"`
	AssignedGrade *float64 `json:"assigned_grade,omitempty"`
}

// Registration is the result of subscribing to push notifications.
type Registration struct {
	RegistrationID string    `json:"registration_id"`
	ExpiresAt      time.Time `json:"expires_at"`
}

// Feed types accepted by RegisterPushNotifications.
const (
	FeedCourseRoster = "COURSE_ROSTER_CHANGES"
	FeedCourseWork   = "COURSE_WORK_CHANGES"
)

// TokenResponse is the platform's OAuth token endpoint response.
// RefreshToken is empty when the provider chose not to rotate it.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	ExpiresIn    int    `json:"expires_in"`
	Scope        string `json:"scope,omitempty"`
	TokenType    string `json:"token_type,omitempty"`
}

// RosterProvider is the consumed capability covering every remote call
// the sync engine makes. Implementations must route all traffic through
// the shared Gateway; callers rely on errors being *ClassifiedError.
//
// List calls are paginated: pass the previous page's continuation token,
// or "" for the first page.
type RosterProvider interface {
	// Roster reads.
	ListCourses(ctx context.Context, accessToken, pageToken string) (*CoursePage, error)
	ListTeachers(ctx context.Context, accessToken, courseID, pageToken string) (*MemberPage, error)
	ListStudents(ctx context.Context, accessToken, courseID, pageToken string) (*MemberPage, error)
	ListGuardians(ctx context.Context, accessToken, studentRemoteID, pageToken string) (*MemberPage, error)
	GetTeacher(ctx context.Context, accessToken, courseID, remoteUserID string) (*Member, error)
	GetStudent(ctx context.Context, accessToken, courseID, remoteUserID string) (*Member, error)

	// Coursework.
	CreateCourseWork(ctx context.Context, accessToken, courseID string, work *CourseWork) (*CourseWork, error)
	UpdateCourseWork(ctx context.Context, accessToken, courseID string, work *CourseWork) (*CourseWork, error)
	DeleteCourseWork(ctx context.Context, accessToken, courseID, courseWorkID string) error

	// Submissions and grades.
	GetSubmission(ctx context.Context, accessToken, courseID, courseWorkID, submissionID string) (*RemoteSubmission, error)
	UpdateGrade(ctx context.Context, accessToken, courseID, courseWorkID, submissionID string, grade float64) error
	ReturnSubmission(ctx context.Context, accessToken, courseID, courseWorkID, submissionID string) error

	// Push notifications.
	RegisterPushNotifications(ctx context.Context, accessToken, remoteCourseID, feedType string) (*Registration, error)

	// OAuth token lifecycle.
	ExchangeCodeForTokens(ctx context.Context, code string) (*TokenResponse, error)
	RefreshAccessToken(ctx context.Context, refreshToken string) (*TokenResponse, error)
	RevokeToken(ctx context.Context, token string) error
}
