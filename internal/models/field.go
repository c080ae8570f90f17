// Classward - Learning Platform Roster Synchronization
// Copyright 2026 Classward Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/classward/classward

package models

import "time"

// Field is a three-state patch field distinguishing "leave unchanged"
// (the zero value), "set to null", and "set to this value". Partial
// updates built from Fields carry the caller's intent explicitly instead
// of relying on zero values or pointer nilness.
//
//	patch := SyncStatePatch{
//	    SyncInProgress: models.Set(false),
//	    LastError:      models.Null[string](),
//	}
type Field[T any] struct {
	present bool
	null    bool
	value   T
}

// Set returns a Field carrying the given value.
func Set[T any](v T) Field[T] {
	return Field[T]{present: true, value: v}
}

// Null returns a Field that explicitly clears the target to null.
func Null[T any]() Field[T] {
	return Field[T]{present: true, null: true}
}

// IsSet reports whether the field participates in the patch at all.
func (f Field[T]) IsSet() bool {
	return f.present
}

// IsNull reports whether the field clears the target to null.
func (f Field[T]) IsNull() bool {
	return f.present && f.null
}

// Value returns the carried value. The second result is false when the
// field is unset or null.
func (f Field[T]) Value() (T, bool) {
	if !f.present || f.null {
		var zero T
		return zero, false
	}
	return f.value, true
}

// Or returns the carried value, or fallback when the field is unset or null.
func (f Field[T]) Or(fallback T) T {
	if v, ok := f.Value(); ok {
		return v
	}
	return fallback
}

// SyncStatePatch is a partial update to a SyncState record.
type SyncStatePatch struct {
	AutoSyncEnabled     Field[bool]
	CredentialUserID    Field[string]
	LastSyncAt          Field[time.Time]
	SyncInProgress      Field[bool]
	ConsecutiveFailures Field[int]
	LastError           Field[string]
}

// MembershipPatch is a partial update to a Membership record.
type MembershipPatch struct {
	Status        Field[MembershipStatus]
	DisplayName   Field[string]
	Email         Field[string]
	PhotoURL      Field[string]
	RemovedAt     Field[time.Time]
	RemovedReason Field[string]
}

// ApplySyncStatePatch copies the patch's set fields onto the state.
// Null clears string and time fields to their zero values; the boolean
// and counter fields treat null as unset.
func ApplySyncStatePatch(s *SyncState, p SyncStatePatch) {
	if v, ok := p.AutoSyncEnabled.Value(); ok {
		s.AutoSyncEnabled = v
	}
	if v, ok := p.CredentialUserID.Value(); ok {
		s.CredentialUserID = v
	}
	if p.LastSyncAt.IsNull() {
		s.LastSyncAt = nil
	} else if v, ok := p.LastSyncAt.Value(); ok {
		t := v
		s.LastSyncAt = &t
	}
	if v, ok := p.SyncInProgress.Value(); ok {
		s.SyncInProgress = v
	}
	if v, ok := p.ConsecutiveFailures.Value(); ok {
		s.ConsecutiveFailures = v
	}
	if p.LastError.IsNull() {
		s.LastError = ""
	} else if v, ok := p.LastError.Value(); ok {
		s.LastError = v
	}
}

// ApplyMembershipPatch copies the patch's set fields onto the membership.
func ApplyMembershipPatch(m *Membership, p MembershipPatch) {
	if v, ok := p.Status.Value(); ok {
		m.Status = v
	}
	if p.DisplayName.IsNull() {
		m.DisplayName = ""
	} else if v, ok := p.DisplayName.Value(); ok {
		m.DisplayName = v
	}
	if p.Email.IsNull() {
		m.Email = ""
	} else if v, ok := p.Email.Value(); ok {
		m.Email = v
	}
	if p.PhotoURL.IsNull() {
		m.PhotoURL = ""
	} else if v, ok := p.PhotoURL.Value(); ok {
		m.PhotoURL = v
	}
	if p.RemovedAt.IsNull() {
		m.RemovedAt = nil
	} else if v, ok := p.RemovedAt.Value(); ok {
		t := v
		m.RemovedAt = &t
	}
	if p.RemovedReason.IsNull() {
		m.RemovedReason = ""
	} else if v, ok := p.RemovedReason.Value(); ok {
		m.RemovedReason = v
	}
}
