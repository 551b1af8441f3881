// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package errors

// Info contains details of the specific error code
type Info struct {
	// Kind specifies the kind of error (unknown, parameter, integrity, etc).
	Kind Kind

	// Message provides a default message for the error code
	Message string
}

// errorCodeInfo provides a map of unique Codes (IDs) to their
// corresponding Kind and a default Message.
var errorCodeInfo = map[Code]Info{
	Unknown: {
		Message: "unknown",
		Kind:    Other,
	},
	InvalidParameter: {
		Message: "invalid parameter",
		Kind:    Parameter,
	},
	InvalidPublicId: {
		Message: "invalid public id",
		Kind:    Parameter,
	},
	InvalidCoordinate: {
		Message: "invalid coordinate",
		Kind:    Parameter,
	},
	CheckConstraint: {
		Message: "constraint check failed",
		Kind:    Integrity,
	},
	NotNull: {
		Message: "must not be empty (null) violation",
		Kind:    Integrity,
	},
	NotUnique: {
		Message: "must be unique violation",
		Kind:    Integrity,
	},
	RecordNotFound: {
		Message: "record not found",
		Kind:    Search,
	},
	MultipleRecords: {
		Message: "multiple records",
		Kind:    Search,
	},
	VersionConflict: {
		Message: "version conflict",
		Kind:    Integrity,
	},
	SchemaValidation: {
		Message: "schema validation failed",
		Kind:    Parameter,
	},
	Busy: {
		Message: "resource busy",
		Kind:    Transient,
	},
	PermissionDenied: {
		Message: "permission denied",
		Kind:    Authorization,
	},
	CrossTenantViolation: {
		Message: "permission denied",
		Kind:    Authorization,
	},
	QuotaExceeded: {
		Message: "quota exceeded",
		Kind:    Authorization,
	},
	TenantInactive: {
		Message: "tenant is not active",
		Kind:    Authorization,
	},
	EncryptionFailed: {
		Message: "encryption failed",
		Kind:    Crypto,
	},
	DecryptionFailed: {
		Message: "decryption failed",
		Kind:    Crypto,
	},
	KeyNotFound: {
		Message: "key/version not found",
		Kind:    Crypto,
	},
	BackendUnavailable: {
		Message: "external system unavailable",
		Kind:    Unavailable,
	},
	Io: {
		Message: "error during io operation",
		Kind:    Unavailable,
	},
}
