// Classward - Learning Platform Roster Synchronization
// Copyright 2026 Classward Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/classward/classward

package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/classward/classward/internal/models"
)

// credentialKeyPrefix namespaces credential records in BadgerDB.
const credentialKeyPrefix = "credential:"

// BadgerCredentialStore implements CredentialStore using BadgerDB for
// durable storage. Access and refresh tokens are encrypted with the
// configured Cipher before they touch disk; everything else is stored
// as plaintext JSON.
type BadgerCredentialStore struct {
	db     *badger.DB
	cipher Cipher
}

// NewBadgerCredentialStore creates a BadgerDB-backed credential store.
func NewBadgerCredentialStore(db *badger.DB, cipher Cipher) *BadgerCredentialStore {
	return &BadgerCredentialStore{db: db, cipher: cipher}
}

// GetCredential retrieves and decrypts a user's credential.
func (s *BadgerCredentialStore) GetCredential(ctx context.Context, userID string) (*models.Credential, error) {
	var cred models.Credential

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(credentialKeyPrefix + userID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("get credential: %w", err)
		}

		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &cred)
		})
	})
	if err != nil {
		return nil, err
	}

	if cred.AccessToken != "" {
		plain, err := s.cipher.Decrypt(cred.AccessToken)
		if err != nil {
			return nil, fmt.Errorf("decrypt access token: %w", err)
		}
		cred.AccessToken = plain
	}
	if cred.RefreshToken != "" {
		plain, err := s.cipher.Decrypt(cred.RefreshToken)
		if err != nil {
			return nil, fmt.Errorf("decrypt refresh token: %w", err)
		}
		cred.RefreshToken = plain
	}
	return &cred, nil
}

// PutCredential encrypts and stores a user's credential, replacing any
// existing record.
func (s *BadgerCredentialStore) PutCredential(ctx context.Context, cred *models.Credential) error {
	// Copy so the caller's struct keeps plaintext tokens.
	stored := *cred

	if stored.AccessToken != "" {
		enc, err := s.cipher.Encrypt(stored.AccessToken)
		if err != nil {
			return fmt.Errorf("encrypt access token: %w", err)
		}
		stored.AccessToken = enc
	}
	if stored.RefreshToken != "" {
		enc, err := s.cipher.Encrypt(stored.RefreshToken)
		if err != nil {
			return fmt.Errorf("encrypt refresh token: %w", err)
		}
		stored.RefreshToken = enc
	}

	data, err := json.Marshal(&stored)
	if err != nil {
		return fmt.Errorf("marshal credential: %w", err)
	}

	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(credentialKeyPrefix+cred.UserID), data)
	})
}

// DeleteCredential removes a user's credential. Deleting an absent
// credential is not an error.
func (s *BadgerCredentialStore) DeleteCredential(ctx context.Context, userID string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		err := txn.Delete([]byte(credentialKeyPrefix + userID))
		if err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("delete credential: %w", err)
		}
		return nil
	})
}

// Compile-time interface check.
var _ CredentialStore = (*BadgerCredentialStore)(nil)
