package web

import (
	"context"
	"strings"

	lru "github.com/hashicorp/golang-lru"
	"github.com/raidledger/guildops/guildops/database/models"
	"github.com/raidledger/guildops/guildops/database/repositories"
	"github.com/sahilm/fuzzy"
)

const searchCacheSize = 256

// DropSearcher does fuzzy name matching over the drop catalogue, with an LRU
// over normalized queries. Writers to the catalogue call Invalidate.
type DropSearcher struct {
	drops repositories.DropRepository
	cache *lru.Cache
}

func NewDropSearcher(drops repositories.DropRepository) *DropSearcher {
	cache, _ := lru.New(searchCacheSize)
	return &DropSearcher{drops: drops, cache: cache}
}

type dropSource []*models.Drop

func (s dropSource) String(i int) string { return s[i].Name }
func (s dropSource) Len() int            { return len(s) }

func (d *DropSearcher) Search(ctx context.Context, query string) ([]*models.Drop, error) {
	key := strings.ToLower(strings.TrimSpace(query))
	if cached, ok := d.cache.Get(key); ok {
		return cached.([]*models.Drop), nil
	}

	drops, err := d.drops.ListAll(ctx, 0)
	if err != nil {
		return nil, err
	}

	matches := fuzzy.FindFrom(key, dropSource(drops))
	results := make([]*models.Drop, 0, len(matches))
	for _, m := range matches {
		results = append(results, drops[m.Index])
	}

	d.cache.Add(key, results)
	return results, nil
}

// Invalidate drops all cached result sets.
func (d *DropSearcher) Invalidate() {
	d.cache.Purge()
}
