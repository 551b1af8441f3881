// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package errors

import (
	"errors"
)

// As is the equivalent of the std errors.As, and allows devs to only import
// this package for the capability.
func As(err error, target any) bool {
	return errors.As(err, target)
}

// Is the equivalent of the std errors.Is, and allows devs to only import
// this package for the capability.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// IsNotFoundError returns a boolean indicating whether the error is known to
// report a not found violation.
func IsNotFoundError(err error) bool {
	return hasCode(err, RecordNotFound)
}

// IsUniqueError returns a boolean indicating whether the error is known to
// report a unique constraint violation.
func IsUniqueError(err error) bool {
	return hasCode(err, NotUnique)
}

// IsBusyError returns a boolean indicating whether the error reports
// exhausted lock retries.
func IsBusyError(err error) bool {
	return hasCode(err, Busy)
}

// IsConflictError returns a boolean indicating whether the error reports a
// concurrent-commit version conflict.
func IsConflictError(err error) bool {
	return hasCode(err, VersionConflict)
}

// IsDeniedError returns a boolean indicating whether the error reports an
// authorization denial of any kind, including cross-tenant violations which
// are deliberately surfaced with the same message.
func IsDeniedError(err error) bool {
	return hasCode(err, PermissionDenied) || hasCode(err, CrossTenantViolation)
}

// IsUnavailableError returns a boolean indicating whether the error reports an
// unreachable external collaborator (durable store or cache tier).
func IsUnavailableError(err error) bool {
	return hasCode(err, BackendUnavailable)
}

// IsRetryableError returns a boolean indicating whether the error may be
// retried with backoff at the store boundary.  Validation, authorization and
// crypto failures are deterministic and never retryable.
func IsRetryableError(err error) bool {
	return hasCode(err, Busy) || hasCode(err, BackendUnavailable)
}

func hasCode(err error, c Code) bool {
	if err == nil {
		return false
	}
	var domainErr *Err
	if errors.As(err, &domainErr) {
		if domainErr.Code == c {
			return true
		}
	}
	return false
}
