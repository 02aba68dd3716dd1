package xhs

import (
	"math/big"
	"math/rand"
	"strings"
	"time"
)

// NewSearchID returns a fresh opaque search-session identifier in the format
// the web client emits: the millisecond timestamp shifted left 64 bits plus
// a random 31-bit integer, rendered in uppercase base 36.
func NewSearchID() string {
	n := big.NewInt(time.Now().UnixMilli())
	n.Lsh(n, 64)
	n.Add(n, big.NewInt(rand.Int63n(2147483646)))
	return strings.ToUpper(n.Text(36))
}
