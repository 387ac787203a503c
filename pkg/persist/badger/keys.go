package badger

import "fmt"

// Key layout. Room IDs may contain any character except NUL, so a 0x00
// separator keeps prefixes unambiguous.
//
//	s\x00<roomID>              -> Snapshot (overwritten)
//	o\x00<roomID>\x00<version> -> Operation (append-only, zero-padded version)
//	c\x00<roomID>\x00<userID>  -> CursorRecord (overwritten)

const sep = "\x00"

func keySnapshot(roomID string) []byte {
	return []byte("s" + sep + roomID)
}

func keyOperation(roomID string, version int) []byte {
	return []byte(fmt.Sprintf("o%s%s%s%012d", sep, roomID, sep, version))
}

func prefixOperations(roomID string) []byte {
	return []byte("o" + sep + roomID + sep)
}

func keyCursor(roomID, userID string) []byte {
	return []byte("c" + sep + roomID + sep + userID)
}

func prefixCursors(roomID string) []byte {
	return []byte("c" + sep + roomID + sep)
}
