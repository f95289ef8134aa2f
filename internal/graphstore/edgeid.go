package graphstore

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
)

// EdgeID computes the deterministic edge key. Grounded on
// original_source/services/graph-service/database/db.py, which hashes
// "relation|from|to|mission" with SHA-1 and truncates to 16 hex chars.
func EdgeID(relation Relation, from, to, mission string) string {
	sum := sha1.Sum([]byte(fmt.Sprintf("%s|%s|%s|%s", relation, from, to, mission)))
	return hex.EncodeToString(sum[:])[:16]
}
