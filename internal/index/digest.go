package index

import (
	"encoding/hex"

	"lukechampine.com/blake3"
)

// contentDigest returns the hex-encoded Blake3 digest of content. This is
// the value file_state compares against to decide whether a file needs
// re-chunking.
func contentDigest(content []byte) string {
	sum := blake3.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// isBinaryContent reports whether content looks like binary data, using a
// null-byte heuristic over the first 512 bytes. Binary files are skipped
// rather than chunked.
func isBinaryContent(content []byte) bool {
	checkLen := 512
	if len(content) < checkLen {
		checkLen = len(content)
	}
	for i := 0; i < checkLen; i++ {
		if content[i] == 0 {
			return true
		}
	}
	return false
}
