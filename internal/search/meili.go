// Package search resolves free-text admin queries to order ids via
// Meilisearch, with the store's ILIKE scan as fallback.
package search

import (
	"encoding/json"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"
	"github.com/rs/zerolog/log"
)

const idxOrders = "orderdesk_orders"

// OrderRecord is the searchable projection of an order.
type OrderRecord struct {
	ID            int64  `json:"id"`
	CustomerName  string `json:"customerName"`
	CustomerEmail string `json:"customerEmail"`
	BusinessName  string `json:"businessName"`
	Status        string `json:"status"`
}

// Meili wraps the Meilisearch client with a background health monitor.
type Meili struct {
	client  meili.ServiceManager
	healthy atomic.Bool
	done    chan struct{}
}

// NewMeili creates a Meilisearch client and configures the order index.
// The client starts degraded if the initial connection fails; the health
// loop will recover it.
func NewMeili(url, apiKey string) *Meili {
	client := meili.New(url, meili.WithAPIKey(apiKey))

	m := &Meili{
		client: client,
		done:   make(chan struct{}),
	}

	if _, err := client.Health(); err != nil {
		log.Warn().Err(err).Str("url", url).Msg("meilisearch unavailable")
		m.healthy.Store(false)
	} else {
		m.healthy.Store(true)
		m.configureIndex()
	}

	go m.healthLoop()
	return m
}

func (m *Meili) configureIndex() {
	if _, err := m.client.CreateIndex(&meili.IndexConfig{
		Uid:        idxOrders,
		PrimaryKey: "id",
	}); err != nil {
		log.Debug().Err(err).Str("index", idxOrders).Msg("create index (may already exist)")
	}

	index := m.client.Index(idxOrders)
	searchable := []string{"customerName", "customerEmail", "businessName"}
	if _, err := index.UpdateSearchableAttributes(&searchable); err != nil {
		log.Warn().Err(err).Str("index", idxOrders).Msg("update searchable attrs")
	}
	filterable := []interface{}{"status"}
	if _, err := index.UpdateFilterableAttributes(&filterable); err != nil {
		log.Warn().Err(err).Str("index", idxOrders).Msg("update filterable attrs")
	}
}

func (m *Meili) healthLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			_, err := m.client.Health()
			wasHealthy := m.healthy.Load()
			m.healthy.Store(err == nil)
			if err == nil && !wasHealthy {
				log.Info().Msg("meilisearch recovered, reconfiguring index")
				m.configureIndex()
			}
		}
	}
}

// Close stops the background health monitor.
func (m *Meili) Close() {
	close(m.done)
}

// Healthy reports whether Meilisearch is reachable.
func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

// MatchOrderIDs returns the ids of orders whose customer fields match q.
func (m *Meili) MatchOrderIDs(q string, limit int64) ([]int64, error) {
	resp, err := m.client.Index(idxOrders).Search(q, &meili.SearchRequest{
		Limit:                limit,
		AttributesToRetrieve: []string{"id"},
	})
	if err != nil {
		m.healthy.Store(false)
		return nil, err
	}

	ids := make([]int64, 0, len(resp.Hits))
	for _, hit := range resp.Hits {
		raw, ok := hit["id"]
		if !ok {
			continue
		}
		var id int64
		if err := json.Unmarshal(raw, &id); err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// IndexOrders adds or updates order records in the search index.
func (m *Meili) IndexOrders(records []OrderRecord) error {
	if len(records) == 0 {
		return nil
	}
	_, err := m.client.Index(idxOrders).AddDocuments(records, nil)
	return err
}
