// Package ot implements the operational-transformation engine behind
// CodeDojo's collaborative editing: per-document state and version, pairwise
// transformation of concurrent insert/delete operations, and the history
// needed to rebase late arrivals.
//
// All positions and lengths are measured in Unicode scalar values (runes),
// never bytes, so multi-byte characters transform correctly.
//
// DocumentState is not safe for concurrent use. The owning room serializes
// all access (single writer per room); see pkg/room.
package ot

import "unicode/utf8"

// OpType identifies the kind of an operation.
type OpType string

const (
	OpInsert OpType = "insert"
	OpDelete OpType = "delete"

	// OpNoop marks an operation whose effect was entirely consumed by
	// transformation (e.g. a delete fully covered by a concurrent delete).
	// Noop operations still receive a version so client counters stay dense.
	OpNoop OpType = "noop"
)

// Operation is the unit exchanged between clients and the server.
//
// ID is client-chosen; the server deduplicates on (ClientID, ID) and assigns
// a fallback ID when the client omits one. For deletes, Content records the
// text the client believed it was deleting; only its length is authoritative
// for position math.
type Operation struct {
	ID          string `json:"id"`
	Type        OpType `json:"type"`
	Position    int    `json:"position"`
	Content     string `json:"content"`
	BaseVersion int    `json:"baseVersion"`
	ClientID    string `json:"clientId"`
	UserID      string `json:"userId,omitempty"`

	// Version is assigned by the server when the operation is applied.
	// Zero until then.
	Version int `json:"version,omitempty"`
}

// Length returns the operation's content length in runes.
func (op Operation) Length() int {
	return utf8.RuneCountInString(op.Content)
}

// IsNoop reports whether the operation has no effect on the document.
func (op Operation) IsNoop() bool {
	return op.Type == OpNoop || op.Length() == 0
}

// end returns the exclusive end of a delete's range.
func (op Operation) end() int {
	return op.Position + op.Length()
}
