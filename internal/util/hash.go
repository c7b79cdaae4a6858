// Package util provides shared utility functions.
package util

import (
	"fmt"
	"hash/fnv"
)

// ConnID computes a compact 4-byte identifier from a connection's remote
// address and accept ordinal. The hash is used solely for log correlation
// and does not need to be reversible.
func ConnID(remoteAddr string, ordinal int64) string {
	h := fnv.New32a()
	h.Write([]byte(remoteAddr))
	h.Write([]byte(fmt.Sprintf("#%d", ordinal)))
	return fmt.Sprintf("%08x", h.Sum32())
}
