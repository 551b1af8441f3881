// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package event

import (
	"context"
	"fmt"

	"github.com/hashicorp/confstore/internal/errors"
	"github.com/hashicorp/go-uuid"
)

// NewId creates an id for an event with the provided prefix.
func NewId(ctx context.Context, prefix string) (string, error) {
	const op = "event.NewId"
	if prefix == "" {
		return "", errors.New(ctx, errors.InvalidParameter, op, "missing prefix")
	}
	id, err := uuid.GenerateUUID()
	if err != nil {
		return "", errors.New(ctx, errors.Io, op, "unable to generate id", errors.WithWrap(err))
	}
	return fmt.Sprintf("%s_%s", prefix, id), nil
}
