package cache

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/boulderstats/occupancy-crawler/config"
	"github.com/bradfitz/gomemcache/memcache"
)

// GuardClient decides whether this replica should crawl a site in the
// current cycle. With several replicas running the same site list, the
// first one to claim a site wins and the rest skip it.
type GuardClient interface {
	Acquire(siteName string, ttl time.Duration) bool
	Close()
}

type MemcachedGuard struct {
	client *memcache.Client
}

func NewMemcachedGuard(cfg *config.GuardConfig) *MemcachedGuard {
	slog.Info("connecting to memcached...")
	ss := new(memcache.ServerList)
	err := ss.SetServers(cfg.Servers...)
	if err != nil {
		slog.Error("failed to set memcached servers.", slog.String("err", err.Error()))
		os.Exit(1)
	}
	g := &MemcachedGuard{
		client: memcache.NewFromSelector(ss),
	}
	slog.Info("pinging the memcached.")
	err = g.client.Ping()
	if err != nil {
		slog.Error("connection to the memcached is failed.", slog.String("err", err.Error()))
		os.Exit(1)
	}
	slog.Info("connected to memcached!")

	return g
}

// Acquire claims the site for this cycle. Add is atomic across replicas;
// losing the race means another replica already crawled the site. Guard
// outages fail open so a memcached problem never stops the crawl.
func (g *MemcachedGuard) Acquire(siteName string, ttl time.Duration) bool {
	key := fmt.Sprintf("%s-cycle-crawl", siteName)
	err := g.client.Add(&memcache.Item{
		Key:        key,
		Value:      []byte("1"),
		Expiration: int32(ttl.Seconds()),
	})
	if err != nil {
		if errors.Is(err, memcache.ErrNotStored) {
			slog.Debug("site already claimed for this cycle.", slog.String("key", key))
			return false
		}
		slog.Warn("failed to claim the site.", slog.String("key", key),
			slog.String("err", err.Error()))
	}

	return true
}

func (g *MemcachedGuard) Close() {
	slog.Info("closing memcached connection.")
	err := g.client.Close()
	if err != nil {
		slog.Error("failed to close memcached connection.", slog.String("err", err.Error()))
	}
}

// NoopGuard is used when the guard is disabled; every site is crawled.
type NoopGuard struct{}

func (NoopGuard) Acquire(string, time.Duration) bool { return true }

func (NoopGuard) Close() {}
