package service

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/jjgordon89/JSG-Inspection-sub000/internal/domain/model"
)

// Prometheus-метрики кэша.
var (
	cacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fm_cache_hits_total",
		Help: "Общее количество попаданий в LRU-кэш метаданных.",
	})
	cacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fm_cache_misses_total",
		Help: "Общее количество промахов LRU-кэша метаданных.",
	})
)

// MetadataCache — LRU-кэш активных записей файлов с TTL.
// Записи из кэша только читаются; изменения идут через репозиторий
// с последующей инвалидацией.
type MetadataCache struct {
	cache *expirable.LRU[string, *model.FileRecord]
}

// NewMetadataCache создаёт кэш. maxSize — число записей, ttl — время жизни записи.
func NewMetadataCache(maxSize int, ttl time.Duration) *MetadataCache {
	return &MetadataCache{cache: expirable.NewLRU[string, *model.FileRecord](maxSize, nil, ttl)}
}

// Get возвращает запись при hit.
func (c *MetadataCache) Get(id string) (*model.FileRecord, bool) {
	val, ok := c.cache.Get(id)
	if ok {
		cacheHitsTotal.Inc()
		return val, true
	}
	cacheMissesTotal.Inc()
	return nil, false
}

// Set добавляет активную запись. Удалённые записи не кэшируются.
func (c *MetadataCache) Set(record *model.FileRecord) {
	if !record.IsActive() {
		return
	}
	c.cache.Add(record.ID, record)
}

// Invalidate удаляет записи из кэша.
func (c *MetadataCache) Invalidate(ids ...string) {
	for _, id := range ids {
		c.cache.Remove(id)
	}
}

// Len — количество записей в кэше.
func (c *MetadataCache) Len() int {
	return c.cache.Len()
}
