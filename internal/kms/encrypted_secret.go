// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package kms

import (
	"context"
	"encoding/json"
	"time"

	"github.com/hashicorp/confstore/internal/errors"
	wrapping "github.com/hashicorp/go-kms-wrapping/v2"
)

// AlgorithmAes256Gcm is the only cipher the engine currently produces.
const AlgorithmAes256Gcm = "aes-256-gcm"

// EncryptedSecret is the serialized form of an encrypted value.  The blob
// carries the ciphertext, the per-call nonce and the id of the DEK version
// that produced it; the coordinate binding travels as AAD and is therefore
// part of the authentication tag rather than the envelope.
type EncryptedSecret struct {
	// Algorithm identifies the cipher.
	Algorithm string `json:"algorithm"`

	// KeyVersionId names the DEK version needed to decrypt; it may be a
	// retired version during a rotation grace period.
	KeyVersionId string `json:"key_version_id"`

	// Blob holds ciphertext and nonce (iv).
	Blob *wrapping.BlobInfo `json:"blob"`

	CreateTime time.Time `json:"create_time"`

	// NextRotation is when the secret is due for re-encryption.
	NextRotation time.Time `json:"next_rotation,omitempty"`
}

// Marshal serializes the envelope for storage in a secret Value.
func (s *EncryptedSecret) Marshal(ctx context.Context) ([]byte, error) {
	const op = "kms.(EncryptedSecret).Marshal"
	if s == nil || s.Blob == nil {
		return nil, errors.New(ctx, errors.InvalidParameter, op, "missing envelope")
	}
	b, err := json.Marshal(s)
	if err != nil {
		return nil, errors.New(ctx, errors.EncryptionFailed, op, "unable to serialize envelope", errors.WithWrap(err))
	}
	return b, nil
}

// UnmarshalEncryptedSecret parses a stored envelope.  It fails closed: a
// malformed envelope reports DecryptionFailed, never partial data.
func UnmarshalEncryptedSecret(ctx context.Context, raw []byte) (*EncryptedSecret, error) {
	const op = "kms.UnmarshalEncryptedSecret"
	if len(raw) == 0 {
		return nil, errors.New(ctx, errors.DecryptionFailed, op, "missing envelope")
	}
	var s EncryptedSecret
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, errors.New(ctx, errors.DecryptionFailed, op, "malformed envelope")
	}
	switch {
	case s.Algorithm != AlgorithmAes256Gcm:
		return nil, errors.New(ctx, errors.DecryptionFailed, op, "unsupported algorithm")
	case s.KeyVersionId == "":
		return nil, errors.New(ctx, errors.DecryptionFailed, op, "missing key version")
	case s.Blob == nil || len(s.Blob.Ciphertext) == 0:
		return nil, errors.New(ctx, errors.DecryptionFailed, op, "missing ciphertext")
	}
	return &s, nil
}
