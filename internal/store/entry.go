// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package store

import (
	"time"

	"github.com/hashicorp/confstore/internal/types/environment"
	"github.com/hashicorp/confstore/internal/value"
)

// EntryIdPrefix is the prefix for config entry public ids.
const EntryIdPrefix = "cfg"

// Entry is the head record for one coordinate.  The value payloads live in
// the version rows; the entry only tracks the current version number and the
// tombstone state.
type Entry struct {
	PublicId string `gorm:"primaryKey"`

	TenantId    string          `gorm:"uniqueIndex:idx_entry_coordinate,priority:1;not null"`
	Namespace   string          `gorm:"uniqueIndex:idx_entry_coordinate,priority:2;not null"`
	Environment environment.Env `gorm:"uniqueIndex:idx_entry_coordinate,priority:3;not null"`
	Key         string          `gorm:"uniqueIndex:idx_entry_coordinate,priority:4;not null;column:config_key"`

	// CurrentVersion is the highest version number written, including
	// tombstones.  Versions start at 1 and never have gaps.
	CurrentVersion uint64

	// Deleted marks the entry tombstoned.  History is retained and a later
	// write revives the entry, continuing the version sequence.
	Deleted bool

	CreateTime time.Time `gorm:"autoCreateTime"`
	UpdateTime time.Time `gorm:"autoUpdateTime"`
}

// TableName overrides the table name used by Entry.
func (*Entry) TableName() string {
	return "config_entries"
}

// Version is one immutable revision of an entry's value.  Rows are only ever
// inserted; the composite primary key is what turns a concurrent-commit race
// into a constraint violation instead of a lost update.
type Version struct {
	EntryId string `gorm:"primaryKey"`
	Version uint64 `gorm:"primaryKey;autoIncrement:false"`

	Kind value.Kind

	// Data is the JSON encoding of the value, or the serialized ciphertext
	// envelope for secrets.  Nil for tombstone versions.
	Data []byte

	// ContentHash is the hash of the plaintext value, used for no-op write
	// suppression.  For secrets it is computed before encryption.
	ContentHash string

	// Deleted marks a tombstone version produced by a delete.
	Deleted bool

	// RollbackOf is the version this revision was rolled back to, 0 when the
	// revision is not a rollback.
	RollbackOf uint64

	CreatedBy   string
	Description string

	CreateTime time.Time `gorm:"autoCreateTime"`
}

// TableName overrides the table name used by Version.
func (*Version) TableName() string {
	return "config_versions"
}

// Value reassembles the typed value stored in the version.
func (v *Version) Value() value.Value {
	return value.Value{Kind: v.Kind, Data: v.Data}
}
