package summary

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
)

// ComputeDigest hashes the ordered parts into a hex digest. Each part is
// length-prefixed, so ("ab", "c") and ("a", "bc") differ.
func ComputeDigest(parts ...string) string {
	h := sha256.New()
	var buf []byte
	for _, p := range parts {
		buf = strconv.AppendInt(buf[:0], int64(len(p)), 10)
		buf = append(buf, ':')
		h.Write(buf)
		h.Write([]byte(p))
	}
	return hex.EncodeToString(h.Sum(nil))
}
