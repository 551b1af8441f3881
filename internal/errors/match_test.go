// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package errors_test

import (
	"context"
	stderrors "errors"
	"testing"

	"github.com/hashicorp/confstore/internal/errors"
	"github.com/stretchr/testify/assert"
)

func Test_Match(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	err := errors.New(ctx, errors.DecryptionFailed, "kms.(Keyring).Decrypt", "authentication failed")
	wrappingErr := errors.Wrap(ctx, err, "configstore.(Service).Read")

	tests := []struct {
		name     string
		template *errors.Template
		err      error
		want     bool
	}{
		{
			name:     "match-code",
			template: errors.T(errors.DecryptionFailed),
			err:      err,
			want:     true,
		},
		{
			name:     "match-code-through-wrap",
			template: errors.T(errors.DecryptionFailed),
			err:      wrappingErr,
			want:     true,
		},
		{
			name:     "match-kind",
			template: errors.T(errors.Crypto),
			err:      err,
			want:     true,
		},
		{
			name:     "match-op",
			template: errors.T(errors.Op("kms.(Keyring).Decrypt")),
			err:      err,
			want:     true,
		},
		{
			name:     "match-op-through-wrap",
			template: errors.T(errors.Op("kms.(Keyring).Decrypt")),
			err:      wrappingErr,
			want:     true,
		},
		{
			name:     "match-code-and-op",
			template: errors.T(errors.DecryptionFailed, errors.Op("kms.(Keyring).Decrypt")),
			err:      wrappingErr,
			want:     true,
		},
		{
			name:     "mismatched-code",
			template: errors.T(errors.RecordNotFound),
			err:      err,
			want:     false,
		},
		{
			name:     "mismatched-kind",
			template: errors.T(errors.Authorization),
			err:      err,
			want:     false,
		},
		{
			name:     "not-a-domain-error",
			template: errors.T(errors.DecryptionFailed),
			err:      stderrors.New("plain"),
			want:     false,
		},
		{
			name:     "nil-error",
			template: errors.T(errors.DecryptionFailed),
			err:      nil,
			want:     false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, errors.Match(tt.template, tt.err))
		})
	}
}
