// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package errors

import (
	"context"
	"errors"

	"gorm.io/gorm"
)

// Convert converts a raw storage error into a domain Err when the storage
// layer reported something we have a Code for.  If the error can't be
// converted, it is returned as is.
func Convert(ctx context.Context, e error) error {
	if e == nil {
		return nil
	}

	var alreadyConverted *Err
	if errors.As(e, &alreadyConverted) {
		return alreadyConverted
	}

	switch {
	case errors.Is(e, gorm.ErrRecordNotFound):
		return E(ctx, WithCode(RecordNotFound), WithWrap(e))
	case errors.Is(e, gorm.ErrDuplicatedKey):
		return E(ctx, WithCode(NotUnique), WithWrap(e))
	case errors.Is(e, gorm.ErrInvalidTransaction):
		return E(ctx, WithCode(BackendUnavailable), WithWrap(e))
	}
	// unfortunately, we can't help.
	return e
}
