package storage

import (
	"encoding/hex"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// NewRevision returns the revision following prev: "<generation>-<random hex>".
// An empty or malformed prev starts at generation 1.
func NewRevision(prev string) string {
	u := uuid.New()
	return strconv.Itoa(RevisionGeneration(prev)+1) + "-" + hex.EncodeToString(u[:])
}

// RevisionGeneration returns the generation number of rev, or 0.
func RevisionGeneration(rev string) int {
	i := strings.IndexByte(rev, '-')
	if i <= 0 {
		return 0
	}
	n, err := strconv.Atoi(rev[:i])
	if err != nil || n < 0 {
		return 0
	}
	return n
}
