package fetch

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"flatseek/internal/filter"
	"flatseek/internal/model"
	"flatseek/internal/wgclient"
)

// OfferSearcher is the slice of the protocol client the collector needs.
type OfferSearcher interface {
	SearchOffers(ctx context.Context, sess *model.Session, q wgclient.SearchQuery) ([]model.Listing, int, error)
}

// Stats summarizes one collection pass for the run record.
type Stats struct {
	PagesFetched int
	RawSeen      int
	Malformed    int
}

// Collector paginates the search endpoint and filters locally. The
// server's own facet filtering has been observed to silently drop or
// leak matches (district in particular), so every facet is re-checked
// here and pagination continues past what the server claims matches.
type Collector struct {
	api      OfferSearcher
	log      *zap.Logger
	maxPages int
	pageSize int
}

func NewCollector(api OfferSearcher, maxPages, pageSize int, log *zap.Logger) *Collector {
	if maxPages <= 0 {
		maxPages = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	return &Collector{api: api, log: log, maxPages: maxPages, pageSize: pageSize}
}

// Collect walks pages until the page budget is spent, the feed runs dry,
// or enough locally matching listings are found (crit.TargetCount > 0).
// A page failure after transport retries ends the pass: whatever was
// collected so far is returned together with the error, and the cycle
// proceeds with it.
func (c *Collector) Collect(ctx context.Context, sess *model.Session, cityID string, crit model.FilterCriteria) ([]model.Listing, Stats, error) {
	var (
		collected []model.Listing
		stats     Stats
		seen      = map[string]struct{}{}
	)
	for page := 1; page <= c.maxPages; page++ {
		q := wgclient.SearchQuery{
			CityID:     cityID,
			Categories: crit.Categories,
			MaxRent:    crit.MaxRent,
			MinSize:    crit.MinSize,
			Page:       page,
			Limit:      c.pageSize,
		}
		listings, malformed, err := c.api.SearchOffers(ctx, sess, q)
		if err != nil {
			return collected, stats, fmt.Errorf("page %d: %w", page, err)
		}
		stats.Malformed += malformed
		if malformed > 0 {
			c.log.Warn("skipped malformed offer records",
				zap.Int("page", page), zap.Int("count", malformed))
		}
		if len(listings) == 0 {
			break
		}
		stats.PagesFetched++
		for _, l := range listings {
			if _, dup := seen[l.ID]; dup {
				continue
			}
			seen[l.ID] = struct{}{}
			stats.RawSeen++
			if filter.Matches(l, crit) {
				collected = append(collected, l)
			}
		}
		if crit.TargetCount > 0 && len(collected) >= crit.TargetCount {
			break
		}
	}
	return collected, stats, nil
}
