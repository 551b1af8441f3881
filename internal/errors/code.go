// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package errors

// Code specifies a code for the error.
type Code uint32

// String will return the Code's Info.Message
func (c Code) String() string {
	return c.Info().Message
}

// Info will look up the Code's Info.  If the Info is not found, it will return
// Info for an Unknown Code.
func (c Code) Info() Info {
	if info, ok := errorCodeInfo[c]; ok {
		return info
	}
	return errorCodeInfo[Unknown]
}

const (
	Unknown Code = 0 // Unknown will be equal to a zero value for Codes

	// General function errors are reserved Codes 100-999
	InvalidParameter  Code = 100 // InvalidParameter represents an invalid parameter for an operation.
	InvalidPublicId   Code = 101 // InvalidPublicId represents an invalid public id for a tenant or policy.
	InvalidCoordinate Code = 102 // InvalidCoordinate represents a malformed (namespace, environment, key) address.

	// Store errors are reserved Codes 1000-1999
	CheckConstraint  Code = 1000 // CheckConstraint represents a check constraint error
	NotNull          Code = 1001 // NotNull represents a value must not be null error
	NotUnique        Code = 1002 // NotUnique represents a value must be unique error
	RecordNotFound   Code = 1100 // RecordNotFound represents that a record/row was not found matching the criteria
	MultipleRecords  Code = 1101 // MultipleRecords represents that multiple records/rows were found matching the criteria
	VersionConflict  Code = 1200 // VersionConflict represents a concurrent-commit race detected at write time
	SchemaValidation Code = 1201 // SchemaValidation represents a value that failed its registered schema
	Busy             Code = 1202 // Busy represents exhausted retries acquiring a coordinate lock

	// Authorization errors are reserved Codes 2000-2999
	PermissionDenied     Code = 2000 // PermissionDenied represents an access gate deny
	CrossTenantViolation Code = 2001 // CrossTenantViolation represents an attempt to address another tenant's data
	QuotaExceeded        Code = 2002 // QuotaExceeded represents a tenant exceeding its entry or storage quota
	TenantInactive       Code = 2003 // TenantInactive represents an operation against a suspended tenant

	// Crypto errors are reserved Codes 3000-3999
	EncryptionFailed Code = 3000 // EncryptionFailed represents a failure encrypting a secret value
	DecryptionFailed Code = 3001 // DecryptionFailed represents any failure decrypting, including auth tag mismatch
	KeyNotFound      Code = 3002 // KeyNotFound represents an unknown or destroyed DEK version

	// External collaborator errors are reserved Codes 4000-4999
	BackendUnavailable Code = 4000 // BackendUnavailable represents an unreachable durable store or cache tier
	Io                 Code = 4001 // Io represents an error during an io operation
)
