package knowledge

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
)

// recordNamespace scopes record identifiers so they can never collide with
// identifiers minted elsewhere in the system.
var recordNamespace = uuid.MustParse("7b7e1d2a-63f5-4f1e-9c31-8a4d5c2f9e60")

// RecordID derives a stable identifier from a document's origin and content.
// Re-ingesting the same source yields the same IDs, so upserts replace
// instead of duplicating. The ID is a name-based UUID because some backends
// only accept UUID point identifiers.
func RecordID(source string, chunkIndex int, content string) string {
	contentHash := sha256.Sum256([]byte(content))
	name := fmt.Sprintf("%s|%d|%s", source, chunkIndex, hex.EncodeToString(contentHash[:]))
	return uuid.NewSHA1(recordNamespace, []byte(name)).String()
}
