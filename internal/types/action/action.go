// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package action

// Type defines a type for the actions a caller can request against a
// coordinate.  Actions also appear in policy documents and audit records.
type Type int

// not using iota intentionally, since the values appear in stored policies.
const (
	Unknown  Type = 0
	List     Type = 1
	Read     Type = 2
	Write    Type = 3
	Delete   Type = 4
	History  Type = 5
	Rollback Type = 6
	Rotate   Type = 7
	All      Type = 8
)

var Map = map[string]Type{
	"unknown":  Unknown,
	"list":     List,
	"read":     Read,
	"write":    Write,
	"delete":   Delete,
	"history":  History,
	"rollback": Rollback,
	"rotate":   Rotate,
	"*":        All,
}

func (a Type) String() string {
	return [...]string{
		"unknown",
		"list",
		"read",
		"write",
		"delete",
		"history",
		"rollback",
		"rotate",
		"*",
	}[a]
}

// IsMutating reports whether the action changes store state and therefore
// requires tenant quota checks and synchronous audit emission.
func (a Type) IsMutating() bool {
	switch a {
	case Write, Delete, Rollback, Rotate:
		return true
	}
	return false
}
