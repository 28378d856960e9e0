// Package merge builds the system hosts content from an ordered list of
// active scheme ids.
package merge

import (
	"encoding/hex"
	"strings"

	"github.com/mattjoyce/hostsmaster/internal/tree"
	"github.com/zeebo/blake3"
)

// Separator joins the content of consecutive schemes.
const Separator = "\n\n"

// Resolver maps an id to its item. *tree.Store satisfies it.
type Resolver interface {
	Lookup(id string) (*tree.Item, bool)
}

// Merge concatenates the content of the schemes named by ids, in ids order.
// Ids that no longer resolve, or resolve to a group, are skipped.
func Merge(ids []string, r Resolver) string {
	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		item, ok := r.Lookup(id)
		if !ok || !item.IsScheme() {
			continue
		}
		parts = append(parts, item.Content)
	}
	return strings.Join(parts, Separator)
}

// Digest returns the hex BLAKE3 digest of content.
func Digest(content string) string {
	sum := blake3.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}
