// internal/pipeline/fingerprint.go
package pipeline

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/puneetrinity/llmbackend1/internal/models"
)

// fingerprintLength truncates the sha256 digest to 32 hex chars, plenty to
// keep distinct requests apart while keeping cache keys short.
const fingerprintLength = 32

// Fingerprint returns the deterministic identity of a request: a digest over
// the normalized query, the result limit, and source inclusion. Equal
// requests always produce equal fingerprints; nothing else (clock, caller,
// client metadata) feeds the digest. It is the response cache key and the
// single-flight collapse key.
func Fingerprint(req *models.SearchRequest) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%d|%t", req.NormalizedQuery(), req.MaxResults, req.WantsSources())
	return hex.EncodeToString(h.Sum(nil))[:fingerprintLength]
}
