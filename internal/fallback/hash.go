package fallback

import (
	"strconv"

	"github.com/cespare/xxhash/v2"
)

// InputHash returns a stable content hash of a request payload, used as the
// result cache key so structurally identical requests share entries.
func InputHash(payload []byte) string {
	return strconv.FormatUint(xxhash.Sum64(payload), 16)
}
