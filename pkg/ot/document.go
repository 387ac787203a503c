package ot

import (
	"fmt"
	"time"
)

// Snapshot is an O(1) read of a document's current version and content.
type Snapshot struct {
	Version int    `json:"version"`
	Content string `json:"content"`
}

// ApplyResult describes a successfully applied operation.
type ApplyResult struct {
	// Op is the transformed operation as it was applied, carrying its
	// assigned Version. This is what peers receive in the broadcast.
	Op Operation

	// Version is the document version after the apply.
	Version int

	// Transforms is the number of concurrent operations the incoming op was
	// rebased over (zero when the client was up to date).
	Transforms int
}

// DocumentState is the authoritative state of one room's document: current
// content, a dense version counter, and the history tail since the last
// durable snapshot.
//
// Invariant: version == snapshotVersion + len(history), and replaying
// history over snapshotContent yields content.
//
// DocumentState is not safe for concurrent use; the owning room serializes
// all access.
type DocumentState struct {
	content []rune
	version int

	// history holds applied operations with versions
	// snapshotVersion+1 .. version, in order.
	history []Operation

	snapshotVersion int
	snapshotContent string

	lastModified time.Time
	lastModifier string
}

// NewDocument returns an empty document at version 0.
func NewDocument() *DocumentState {
	return &DocumentState{}
}

// RestoreDocument returns a document rebuilt from a durable snapshot.
// History before the snapshot version is gone; clients older than that
// recover through a full state sync.
func RestoreDocument(version int, content string) *DocumentState {
	return &DocumentState{
		content:         []rune(content),
		version:         version,
		snapshotVersion: version,
		snapshotContent: content,
	}
}

// Version returns the current document version.
func (d *DocumentState) Version() int { return d.version }

// Content returns the current document text.
func (d *DocumentState) Content() string { return string(d.content) }

// Len returns the current document length in runes.
func (d *DocumentState) Len() int { return len(d.content) }

// SnapshotVersion returns the version of the last durable snapshot the
// in-memory history is based on.
func (d *DocumentState) SnapshotVersion() int { return d.snapshotVersion }

// LastModified returns the time of the last applied operation and the user
// who produced it.
func (d *DocumentState) LastModified() (time.Time, string) {
	return d.lastModified, d.lastModifier
}

// Snapshot returns the current version and content.
func (d *DocumentState) Snapshot() Snapshot {
	return Snapshot{Version: d.version, Content: string(d.content)}
}

// Apply transforms op against every operation the submitting client has not
// seen, applies the result, and appends it to history with a fresh version.
//
// The apply is all-or-nothing: on error the document is unchanged.
func (d *DocumentState) Apply(op Operation, now time.Time) (ApplyResult, error) {
	if op.BaseVersion > d.version {
		return ApplyResult{}, &TransformError{
			Code: CodeStaleBase,
			Message: fmt.Sprintf("base version %d is ahead of document version %d",
				op.BaseVersion, d.version),
		}
	}
	if op.BaseVersion < d.snapshotVersion {
		return ApplyResult{}, &TransformError{
			Code: CodeHistoryTruncated,
			Message: fmt.Sprintf("base version %d predates history start %d",
				op.BaseVersion, d.snapshotVersion),
		}
	}

	// Rebase over every operation applied since the client's base version.
	concurrent := d.history[op.BaseVersion-d.snapshotVersion:]
	t := op
	for _, c := range concurrent {
		t = Transform(t, c)
	}

	t = d.clamp(t)

	d.content = applyToRunes(d.content, t)
	d.version++
	t.Version = d.version
	d.history = append(d.history, t)
	d.lastModified = now
	d.lastModifier = op.UserID

	return ApplyResult{Op: t, Version: d.version, Transforms: len(concurrent)}, nil
}

// clamp bounds a transformed operation to the current document: the position
// must lie in [0, len] and a delete cannot reach past the end.
func (d *DocumentState) clamp(t Operation) Operation {
	if t.Position < 0 {
		t.Position = 0
	}
	if t.Position > len(d.content) {
		t.Position = len(d.content)
	}

	if t.Type == OpDelete {
		if over := t.end() - len(d.content); over > 0 {
			runes := []rune(t.Content)
			keep := len(runes) - over
			if keep < 0 {
				keep = 0
			}
			t.Content = string(runes[:keep])
		}
		if t.Length() == 0 {
			t.Type = OpNoop
		}
	}
	return t
}

// applyToRunes splices an operation into a rune slice. Noop operations
// return the input untouched.
func applyToRunes(content []rune, op Operation) []rune {
	switch op.Type {
	case OpInsert:
		ins := []rune(op.Content)
		out := make([]rune, 0, len(content)+len(ins))
		out = append(out, content[:op.Position]...)
		out = append(out, ins...)
		out = append(out, content[op.Position:]...)
		return out
	case OpDelete:
		end := op.Position + op.Length()
		out := make([]rune, 0, len(content)-op.Length())
		out = append(out, content[:op.Position]...)
		out = append(out, content[end:]...)
		return out
	default:
		return content
	}
}

// OperationsSince returns applied operations with versions greater than
// fromVersion, in order. When excludeClientID is non-empty, operations
// submitted by that client are filtered out so a reconnecting client does
// not receive its own replays.
//
// Versions below the history start are unavailable; callers detect that via
// SnapshotVersion and send a full snapshot instead.
func (d *DocumentState) OperationsSince(fromVersion int, excludeClientID string) []Operation {
	start := fromVersion - d.snapshotVersion
	if start < 0 {
		start = 0
	}
	if start >= len(d.history) {
		return nil
	}

	out := make([]Operation, 0, len(d.history)-start)
	for _, op := range d.history[start:] {
		if excludeClientID != "" && op.ClientID == excludeClientID {
			continue
		}
		out = append(out, op)
	}
	return out
}

// FindApplied looks up an already-applied operation by its deduplication key
// (clientID, opID). Used to re-acknowledge retransmitted operations without
// applying them twice. Only the retained history tail is searched; older
// duplicates are indistinguishable from new operations.
func (d *DocumentState) FindApplied(clientID, opID string) (Operation, bool) {
	if opID == "" {
		return Operation{}, false
	}
	for i := len(d.history) - 1; i >= 0; i-- {
		if d.history[i].ClientID == clientID && d.history[i].ID == opID {
			return d.history[i], true
		}
	}
	return Operation{}, false
}

// TruncateHistoryBefore drops history entries at or below version. Callers
// must only invoke this after a durable snapshot at that version or later,
// otherwise lagging clients lose their only recovery path.
func (d *DocumentState) TruncateHistoryBefore(version int) error {
	if version > d.version {
		return &TransformError{
			Code: CodeInvalidTruncation,
			Message: fmt.Sprintf("cannot truncate at version %d beyond current %d",
				version, d.version),
		}
	}
	if version <= d.snapshotVersion {
		return nil
	}

	// Rebuild the base content at the truncation point by replaying the
	// dropped prefix over the previous base.
	base := []rune(d.snapshotContent)
	cut := version - d.snapshotVersion
	for _, op := range d.history[:cut] {
		base = applyToRunes(base, op)
	}

	remaining := make([]Operation, len(d.history)-cut)
	copy(remaining, d.history[cut:])

	d.history = remaining
	d.snapshotVersion = version
	d.snapshotContent = string(base)
	return nil
}
