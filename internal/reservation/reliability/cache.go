package reliability

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	reportCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lers_report_cache_hits_total",
		Help: "Report cache hits.",
	})
	reportCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lers_report_cache_misses_total",
		Help: "Report cache misses.",
	})
)

// reportCache はレポート結果をキー単位で保持する。プロセスごとの in-memory キャッシュ
type reportCache struct {
	lru *expirable.LRU[string, any]
}

func newReportCache(size int, ttl time.Duration) *reportCache {
	if size <= 0 || ttl <= 0 {
		return nil
	}
	return &reportCache{lru: expirable.NewLRU[string, any](size, nil, ttl)}
}

func (c *reportCache) get(key string) (any, bool) {
	if c == nil {
		return nil, false
	}
	v, ok := c.lru.Get(key)
	if ok {
		reportCacheHits.Inc()
		return v, true
	}
	reportCacheMisses.Inc()
	return nil, false
}

func (c *reportCache) add(key string, v any) {
	if c == nil {
		return
	}
	c.lru.Add(key, v)
}

func (c *reportCache) purge() {
	if c == nil {
		return
	}
	c.lru.Purge()
}

// cached はキャッシュにあればそれを返し、なければ load した結果を保存する
func cached[T any](c *reportCache, key string, load func() (T, error)) (T, error) {
	if v, ok := c.get(key); ok {
		if t, ok := v.(T); ok {
			return t, nil
		}
	}
	res, err := load()
	if err != nil {
		return res, err
	}
	c.add(key, res)
	return res, nil
}
