package ot

// Transform rebases operation a over operation b, where b has already been
// applied to the document and a was produced without knowledge of b.
// It returns the adjusted copy of a; neither argument is mutated.
//
// When both operations target the same position, the operation with the
// lexicographically smaller ClientID wins and keeps its position; the other
// shifts. The tiebreak is what makes concurrent application deterministic
// regardless of arrival order.
func Transform(a, b Operation) Operation {
	if a.IsNoop() || b.IsNoop() {
		return a
	}

	switch b.Type {
	case OpInsert:
		return transformAgainstInsert(a, b)
	case OpDelete:
		return transformAgainstDelete(a, b)
	default:
		return a
	}
}

func transformAgainstInsert(a, b Operation) Operation {
	bl := b.Length()

	switch {
	case a.Position < b.Position:
		// a targets text before the insertion point; unaffected.
	case a.Position > b.Position:
		a.Position += bl
	default:
		// Same position. Two inserts race on the ClientID tiebreak: the
		// lexicographically smaller one wins and stays put. A delete at the
		// insertion point always shifts past the inserted text; deleting
		// text a peer just typed would never converge.
		if a.Type != OpInsert || a.ClientID >= b.ClientID {
			a.Position += bl
		}
	}
	return a
}

func transformAgainstDelete(a, b Operation) Operation {
	bl := b.Length()
	bStart, bEnd := b.Position, b.end()

	if a.Type == OpInsert {
		switch {
		case a.Position <= bStart:
			// Insertion point precedes the deleted range; unaffected.
		case a.Position >= bEnd:
			a.Position -= bl
		default:
			// Insertion point fell inside the deleted range; it collapses
			// to the start of that range.
			a.Position = bStart
		}
		return a
	}

	// Delete over delete: clip away the part of a's range that b already
	// removed, then shift left by the part of b's range preceding a.
	aStart, aEnd := a.Position, a.end()

	overlapStart := max(aStart, bStart)
	overlapEnd := min(aEnd, bEnd)
	if overlapEnd > overlapStart {
		runes := []rune(a.Content)
		cut := append([]rune{}, runes[:overlapStart-aStart]...)
		cut = append(cut, runes[overlapEnd-aStart:]...)
		a.Content = string(cut)
	}

	if bStart < aStart {
		a.Position = aStart - (min(aStart, bEnd) - bStart)
	}

	if a.Length() == 0 {
		a.Type = OpNoop
	}
	return a
}
