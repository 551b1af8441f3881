// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

// Package value models the typed values the store holds: plain JSON-shaped
// values (string, number, bool, array, object) and encrypted secrets.  A
// secret Value carries only the serialized ciphertext envelope; plaintext
// never appears in a Value marked secret.
package value

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/hashicorp/confstore/internal/errors"
	"golang.org/x/crypto/blake2b"
)

// Kind discriminates the supported value types.
type Kind string

const (
	KindString Kind = "string"
	KindNumber Kind = "number"
	KindBool   Kind = "bool"
	KindArray  Kind = "array"
	KindObject Kind = "object"
	KindSecret Kind = "secret"
)

// RedactedSecret is what list operations render in place of a secret.
const RedactedSecret = "<secret>"

// Value is a typed configuration value.  Data holds the JSON encoding of the
// value, or the serialized ciphertext envelope when Kind is KindSecret.
type Value struct {
	Kind Kind            `json:"kind"`
	Data json.RawMessage `json:"data"`
}

// New builds a Value from any JSON-encodable Go value, inferring the Kind
// from the encoded shape.
func New(ctx context.Context, v any) (Value, error) {
	const op = "value.New"
	raw, err := json.Marshal(v)
	if err != nil {
		return Value{}, errors.New(ctx, errors.InvalidParameter, op, "value is not JSON encodable", errors.WithWrap(err))
	}
	k, err := inferKind(ctx, raw)
	if err != nil {
		return Value{}, errors.Wrap(ctx, err, op)
	}
	return Value{Kind: k, Data: raw}, nil
}

// NewSecret builds a secret Value from a serialized ciphertext envelope.
func NewSecret(ctx context.Context, envelope []byte) (Value, error) {
	const op = "value.NewSecret"
	if len(envelope) == 0 {
		return Value{}, errors.New(ctx, errors.InvalidParameter, op, "missing ciphertext envelope")
	}
	if !json.Valid(envelope) {
		return Value{}, errors.New(ctx, errors.InvalidParameter, op, "ciphertext envelope is not valid json")
	}
	return Value{Kind: KindSecret, Data: json.RawMessage(envelope)}, nil
}

func inferKind(ctx context.Context, raw []byte) (Kind, error) {
	const op = "value.inferKind"
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return "", errors.New(ctx, errors.InvalidParameter, op, "empty value")
	}
	switch trimmed[0] {
	case '"':
		return KindString, nil
	case 't', 'f':
		return KindBool, nil
	case '[':
		return KindArray, nil
	case '{':
		return KindObject, nil
	case 'n':
		return "", errors.New(ctx, errors.InvalidParameter, op, "null is not a valid value")
	default:
		return KindNumber, nil
	}
}

// NewPlaintextSecret builds a secret Value carrying plaintext from any
// JSON-encodable Go value.  The crypto engine replaces the data with a
// ciphertext envelope before the value is stored; plaintext secrets never
// reach the durable store.
func NewPlaintextSecret(ctx context.Context, v any) (Value, error) {
	const op = "value.NewPlaintextSecret"
	raw, err := json.Marshal(v)
	if err != nil {
		return Value{}, errors.New(ctx, errors.InvalidParameter, op, "value is not JSON encodable", errors.WithWrap(err))
	}
	return Value{Kind: KindSecret, Data: raw}, nil
}

// IsSecret reports whether the value is an encrypted secret.
func (v Value) IsSecret() bool {
	return v.Kind == KindSecret
}

// Validate checks internal consistency.
func (v Value) Validate(ctx context.Context) error {
	const op = "value.(Value).Validate"
	switch v.Kind {
	case KindString, KindNumber, KindBool, KindArray, KindObject, KindSecret:
	default:
		return errors.New(ctx, errors.InvalidParameter, op, fmt.Sprintf("unknown value kind %q", v.Kind))
	}
	if len(v.Data) == 0 {
		return errors.New(ctx, errors.InvalidParameter, op, "missing value data")
	}
	if !json.Valid(v.Data) {
		return errors.New(ctx, errors.InvalidParameter, op, "value data is not valid json")
	}
	return nil
}

// ContentHash returns a hex-encoded blake2b-256 digest over the kind and data.
// The store uses it for change detection and duplicate-commit idempotency, so
// it must be stable for a given value.
func (v Value) ContentHash() string {
	h, _ := blake2b.New256(nil)
	_, _ = h.Write([]byte(v.Kind))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write(v.Data)
	return hex.EncodeToString(h.Sum(nil))
}

// AsString decodes the value as a string; it returns false when the value is
// a different kind.
func (v Value) AsString() (string, bool) {
	if v.Kind != KindString {
		return "", false
	}
	var s string
	if err := json.Unmarshal(v.Data, &s); err != nil {
		return "", false
	}
	return s, true
}

// Redacted returns the value callers may see in list results: secrets become
// an opaque placeholder, everything else is returned as is.
func (v Value) Redacted() Value {
	if !v.IsSecret() {
		return v
	}
	raw, _ := json.Marshal(RedactedSecret)
	return Value{Kind: KindString, Data: raw}
}
