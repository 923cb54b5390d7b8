// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package timer

import "fmt"

// ChangeKind enumerates remote timer changes. Values match the daemon's
// Changed signal type argument.
type ChangeKind uint32

const (
	Added   ChangeKind = 0
	Deleted ChangeKind = 1
	Updated ChangeKind = 2
)

func (k ChangeKind) String() string {
	switch k {
	case Added:
		return "added"
	case Deleted:
		return "deleted"
	case Updated:
		return "updated"
	default:
		return fmt.Sprintf("unknown(%d)", uint32(k))
	}
}

// Valid reports whether k is one of the known kinds.
func (k ChangeKind) Valid() bool {
	return k <= Updated
}

// Notification is a remote change of one timer. Delivery is at-least-once,
// ordered per ID and unordered across IDs.
type Notification struct {
	ID   ID         `json:"id"`
	Kind ChangeKind `json:"kind"`
}
