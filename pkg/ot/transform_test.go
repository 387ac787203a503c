package ot

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func insert(clientID string, pos int, content string) Operation {
	return Operation{Type: OpInsert, ClientID: clientID, Position: pos, Content: content}
}

func del(clientID string, pos int, content string) Operation {
	return Operation{Type: OpDelete, ClientID: clientID, Position: pos, Content: content}
}

func TestTransformInsertOverInsert(t *testing.T) {
	tests := []struct {
		name    string
		a, b    Operation
		wantPos int
	}{
		{"before insertion point", insert("a", 1, "x"), insert("b", 5, "yy"), 1},
		{"after insertion point shifts", insert("a", 5, "x"), insert("b", 1, "yy"), 7},
		{"same position smaller client wins", insert("a", 3, "x"), insert("b", 3, "yy"), 3},
		{"same position larger client shifts", insert("b", 3, "x"), insert("a", 3, "yy"), 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Transform(tt.a, tt.b)
			assert.Equal(t, tt.wantPos, got.Position)
			assert.Equal(t, tt.a.Content, got.Content)
			assert.Equal(t, OpInsert, got.Type)
		})
	}
}

func TestTransformDeleteOverInsert(t *testing.T) {
	tests := []struct {
		name    string
		a, b    Operation
		wantPos int
	}{
		{"delete before insert unchanged", del("a", 0, "ab"), insert("b", 5, "x"), 0},
		{"delete after insert shifts", del("a", 4, "ab"), insert("b", 1, "xyz"), 7},
		{"delete at insertion point shifts past it", del("a", 3, "ab"), insert("b", 3, "xyz"), 6},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Transform(tt.a, tt.b)
			assert.Equal(t, tt.wantPos, got.Position)
			assert.Equal(t, tt.a.Content, got.Content)
		})
	}
}

func TestTransformInsertOverDelete(t *testing.T) {
	tests := []struct {
		name    string
		a, b    Operation
		wantPos int
	}{
		{"before deleted range unchanged", insert("a", 1, "x"), del("b", 2, "yy"), 1},
		{"at start of deleted range unchanged", insert("a", 2, "x"), del("b", 2, "yy"), 2},
		{"after deleted range shifts left", insert("a", 6, "x"), del("b", 2, "yy"), 4},
		{"inside deleted range collapses to start", insert("a", 3, "x"), del("b", 2, "yy"), 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Transform(tt.a, tt.b)
			assert.Equal(t, tt.wantPos, got.Position)
		})
	}
}

func TestTransformDeleteOverDelete(t *testing.T) {
	tests := []struct {
		name        string
		a, b        Operation
		wantPos     int
		wantContent string
		wantNoop    bool
	}{
		{"disjoint before", del("a", 0, "ab"), del("b", 5, "xy"), 0, "ab", false},
		{"disjoint after shifts left", del("a", 5, "xy"), del("b", 0, "ab"), 3, "xy", false},
		{"overlap tail clipped", del("a", 2, "cd"), del("b", 1, "bc"), 1, "d", false},
		{"overlap head clipped", del("a", 1, "bc"), del("b", 2, "cd"), 1, "b", false},
		{"fully covered becomes noop", del("a", 2, "c"), del("b", 1, "bcd"), 1, "", true},
		{"identical ranges become noop", del("a", 1, "bc"), del("b", 1, "bc"), 1, "", true},
		{"covers b entirely", del("a", 1, "bcde"), del("b", 2, "cd"), 1, "be", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Transform(tt.a, tt.b)
			assert.Equal(t, tt.wantPos, got.Position)
			assert.Equal(t, tt.wantContent, got.Content)
			if tt.wantNoop {
				assert.Equal(t, OpNoop, got.Type)
			} else {
				assert.Equal(t, OpDelete, got.Type)
			}
		})
	}
}

func TestTransformNoopPassthrough(t *testing.T) {
	noop := Operation{Type: OpNoop, ClientID: "a", Position: 3}

	assert.Equal(t, noop, Transform(noop, insert("b", 0, "x")))

	a := insert("a", 3, "x")
	assert.Equal(t, a, Transform(a, noop))
}

// applyPair applies a, then b rebased over a, to a fresh document and
// returns the final content.
func applyPair(t *testing.T, initial string, a, b Operation) string {
	t.Helper()

	doc := RestoreDocument(0, initial)
	_, err := doc.Apply(a, time.Now())
	require.NoError(t, err)
	_, err = doc.Apply(b, time.Now())
	require.NoError(t, err)
	return doc.Content()
}

// Both application orders of two concurrent operations must converge to the
// same content. Exercises every position pair over a small document for
// insert/insert and every range pair for delete/delete, in both client-ID
// orders.
func TestConcurrentPairsConverge(t *testing.T) {
	const initial = "abcdef"
	n := len(initial)

	t.Run("InsertInsert", func(t *testing.T) {
		for pa := 0; pa <= n; pa++ {
			for pb := 0; pb <= n; pb++ {
				a := insert("a", pa, "X")
				b := insert("b", pb, "YZ")
				got1 := applyPair(t, initial, a, b)
				got2 := applyPair(t, initial, b, a)
				assert.Equal(t, got1, got2, "positions a=%d b=%d", pa, pb)
			}
		}
	})

	t.Run("DeleteDelete", func(t *testing.T) {
		for sa := 0; sa < n; sa++ {
			for ea := sa + 1; ea <= n; ea++ {
				for sb := 0; sb < n; sb++ {
					for eb := sb + 1; eb <= n; eb++ {
						a := del("a", sa, initial[sa:ea])
						b := del("b", sb, initial[sb:eb])
						got1 := applyPair(t, initial, a, b)
						got2 := applyPair(t, initial, b, a)
						assert.Equal(t, got1, got2,
							"ranges a=[%d,%d) b=[%d,%d)", sa, ea, sb, eb)
					}
				}
			}
		}
	})

	t.Run("InsertOutsideDeleteRange", func(t *testing.T) {
		// An insert landing strictly inside a concurrent delete's range is
		// absorbed or kept depending on order; outside the range both
		// orders must agree.
		for sb := 0; sb < n; sb++ {
			for eb := sb + 1; eb <= n; eb++ {
				for pa := 0; pa <= n; pa++ {
					if pa > sb && pa < eb {
						continue
					}
					a := insert("a", pa, "X")
					b := del("b", sb, initial[sb:eb])
					got1 := applyPair(t, initial, a, b)
					got2 := applyPair(t, initial, b, a)
					assert.Equal(t, got1, got2,
						"insert@%d delete=[%d,%d)", pa, sb, eb)
				}
			}
		}
	})
}

func TestInsertThenDeleteRestoresDocument(t *testing.T) {
	const initial = "hello world"

	for p := 0; p <= len(initial); p++ {
		for _, s := range []string{"x", "abc", "日本語"} {
			t.Run(fmt.Sprintf("pos%d_%s", p, s), func(t *testing.T) {
				doc := RestoreDocument(0, initial)

				_, err := doc.Apply(Operation{
					Type: OpInsert, ClientID: "a", Position: p, Content: s, BaseVersion: 0,
				}, time.Now())
				require.NoError(t, err)

				_, err = doc.Apply(Operation{
					Type: OpDelete, ClientID: "a", Position: p, Content: s, BaseVersion: 1,
				}, time.Now())
				require.NoError(t, err)

				assert.Equal(t, initial, doc.Content())
			})
		}
	}
}
