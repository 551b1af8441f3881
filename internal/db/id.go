// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package db

import (
	"context"
	"fmt"

	"github.com/hashicorp/confstore/internal/errors"
	"github.com/hashicorp/go-secure-stdlib/base62"
)

// NewPublicId creates a new public id with the prefix, e.g. "t_0aF3x9QzPl".
func NewPublicId(ctx context.Context, prefix string) (string, error) {
	const op = "db.NewPublicId"
	if prefix == "" {
		return "", errors.New(ctx, errors.InvalidParameter, op, "missing prefix")
	}
	publicId, err := base62.Random(10)
	if err != nil {
		return "", errors.Wrap(ctx, err, op, errors.WithMsg("unable to generate id"), errors.WithCode(errors.Io))
	}
	return fmt.Sprintf("%s_%s", prefix, publicId), nil
}
