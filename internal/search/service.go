package search

import "github.com/rs/zerolog/log"

const matchLimit = 200

// Service is the facade the rest of the app talks to. meili may be nil when
// Meilisearch is not configured; callers then use their own fallback.
type Service struct {
	meili *Meili
}

// NewService creates a search service. meili may be nil.
func NewService(meili *Meili) *Service {
	return &Service{meili: meili}
}

// MatchOrderIDs resolves a free-text query to order ids. ok is false when
// Meilisearch is unavailable and the caller should fall back to SQL.
func (s *Service) MatchOrderIDs(q string) (ids []int64, ok bool) {
	if s.meili == nil || !s.meili.Healthy() {
		return nil, false
	}
	ids, err := s.meili.MatchOrderIDs(q, matchLimit)
	if err != nil {
		log.Warn().Err(err).Msg("meilisearch query failed, falling back to sql")
		return nil, false
	}
	return ids, true
}

// IndexOrder pushes one order record to Meilisearch (fire-and-forget).
func (s *Service) IndexOrder(record OrderRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexOrders([]OrderRecord{record}); err != nil {
			log.Warn().Err(err).Int64("order_id", record.ID).Msg("index order failed")
		}
	}()
}

// ReindexAll bulk-loads order records into Meilisearch. Called during
// bootstrap when Meilisearch is healthy.
func (s *Service) ReindexAll(records []OrderRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	if err := s.meili.IndexOrders(records); err != nil {
		log.Warn().Err(err).Int("count", len(records)).Msg("reindex orders failed")
		return
	}
	log.Info().Int("count", len(records)).Msg("reindexed orders")
}

// Close stops the underlying health monitor, if any.
func (s *Service) Close() {
	if s.meili != nil {
		s.meili.Close()
	}
}
