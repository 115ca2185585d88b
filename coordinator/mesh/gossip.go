package mesh

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru"
)

// deduper remembers applied gossip records by (origin id, version) so a
// record travelling several mesh paths is applied once.
type deduper struct {
	seen *lru.Cache
}

func newDeduper(size int) (*deduper, error) {
	seen, err := lru.New(size)
	if err != nil {
		return nil, err
	}
	return &deduper{seen: seen}, nil
}

// Seen marks the pair and reports whether it was already recorded.
func (d *deduper) Seen(originID string, version uint64) bool {
	key := fmt.Sprintf("%s|%d", originID, version)
	seen, _ := d.seen.ContainsOrAdd(key, struct{}{})
	return seen
}
