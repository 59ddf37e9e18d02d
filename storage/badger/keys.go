package badger

import (
	"encoding/binary"
	"strings"
	"time"
)

// Key prefixes for different data types
const (
	documentPrefix       = "doc"
	documentTimePrefix   = "doct"
	documentDeptPrefix   = "docd"
	documentStatusPrefix = "docs"
	historyPrefix        = "his"
	historyTimePrefix    = "hist"
	historyDeptPrefix    = "hisd"
	runPrefix            = "run"
	runEventPrefix       = "rune"
	runTerminalPrefix    = "runx"
	runTimePrefix        = "runt"
)

// makeDocumentKey generates a key for a document record by ID.
func makeDocumentKey(id string) []byte {
	return []byte(documentPrefix + ":" + id)
}

// makeTimeKey generates a composite index key.
// Format: prefix:[scope:]timestamp:id
// Timestamps are BigEndian so lexicographic order is chronological.
func makeTimeKey(prefix, scope string, ts time.Time, id string) []byte {
	head := makeScopePrefix(prefix, scope)
	buf := make([]byte, len(head)+8+1+len(id))
	offset := copy(buf, head)
	binary.BigEndian.PutUint64(buf[offset:], uint64(ts.UnixMicro()))
	offset += 8
	buf[offset] = ':'
	copy(buf[offset+1:], id)
	return buf
}

// makeScopePrefix generates the iteration prefix of a time index.
// Format: prefix:[scope:]
func makeScopePrefix(prefix, scope string) []byte {
	if scope == "" {
		return []byte(prefix + ":")
	}
	return []byte(prefix + ":" + strings.ToLower(scope) + ":")
}

// idFromTimeKey extracts the trailing ID of a key built by makeTimeKey.
func idFromTimeKey(key []byte, prefixLen int) string {
	return string(key[prefixLen+8+1:])
}

func makeHistoryKey(id string) []byte {
	return []byte(historyPrefix + ":" + id)
}

func makeRunKey(id string) []byte {
	return []byte(runPrefix + ":" + id)
}

func makeRunTerminalKey(id string) []byte {
	return []byte(runTerminalPrefix + ":" + id)
}

// makeRunEventPrefix generates the prefix of all events of a run.
// Format: prefix:runID:
func makeRunEventPrefix(runID string) []byte {
	return []byte(runEventPrefix + ":" + runID + ":")
}

// makeRunEventKey generates a key for one event of a run.
// Format: prefix:runID:seq
func makeRunEventKey(runID string, seq uint64) []byte {
	prefix := makeRunEventPrefix(runID)
	buf := make([]byte, len(prefix)+8)
	offset := copy(buf, prefix)
	binary.BigEndian.PutUint64(buf[offset:], seq)
	return buf
}

// seekEnd returns a key sorting after every key that starts with prefix,
// for reverse iteration.
func seekEnd(prefix []byte) []byte {
	end := make([]byte, len(prefix)+1)
	copy(end, prefix)
	end[len(prefix)] = 0xFF
	return end
}
