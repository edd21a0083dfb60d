package memory

import (
	"encoding/hex"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"

	"github.com/jordanhubbard/healloop/pkg/models"
)

// ContentKey hashes the parts of an entry that describe the failure and
// its fix. Run id, round and timestamp are excluded so the same error text
// seen again in a later run maps to the same key.
func ContentKey(e *models.MemoryEntry) string {
	h, _ := blake2b.New256(nil)
	for _, part := range []string{
		e.Goal,
		string(e.Signature),
		strings.Join(e.ChangedFiles, ","),
		e.BuildTail,
		e.TestTail,
		e.RuntimeTail,
		strconv.FormatBool(e.Succeeded()),
	} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// objectID derives a stable UUID from a content key.
func objectID(key string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte("healloop/memory/"+key)).String()
}

// searchText is the text indexed and matched for an entry.
func searchText(e *models.MemoryEntry) string {
	return strings.Join([]string{e.Goal, string(e.Signature), e.BuildTail, e.TestTail, e.RuntimeTail}, "\n")
}
