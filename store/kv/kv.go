// Package kv implements the typed cache engine over the KV store. It
// exclusively owns every volatile key of the sync core: the per-user chat
// sorted set, per-chat version hashes, list-item data, drafts, the
// vault-encrypted AI message lists, the client-encrypted sync lists, the
// AI LRU with cascade eviction, active-task mappings, message queues,
// embeds and app-settings entries. Other components interact with these
// keys only through this package.
package kv

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/glowingkitty/openmates-core/store"
)

// TTLConfig carries every key family's expiry as a typed value. The
// constants are configuration, not policy: every write refreshes the TTL
// of the key it touches.
type TTLConfig struct {
	ChatIDsVersions   time.Duration
	ChatVersions      time.Duration
	ChatListItemData  time.Duration
	ChatMessages      time.Duration
	UserDraft         time.Duration
	SyncCache         time.Duration
	TaskMapping       time.Duration
	MessageQueue      time.Duration
	Embed             time.Duration
	AppSettings       time.Duration
	PendingPermission time.Duration
}

// DefaultTTLConfig returns the production TTL set.
func DefaultTTLConfig() TTLConfig {
	return TTLConfig{
		ChatIDsVersions:   72 * time.Hour,
		ChatVersions:      72 * time.Hour,
		ChatListItemData:  72 * time.Hour,
		ChatMessages:      24 * time.Hour,
		UserDraft:         72 * time.Hour,
		SyncCache:         time.Hour,
		TaskMapping:       30 * time.Minute,
		MessageQueue:      30 * time.Minute,
		Embed:             24 * time.Hour,
		AppSettings:       24 * time.Hour,
		PendingPermission: 15 * time.Minute,
	}
}

// Config configures the cache engine.
type Config struct {
	TTL TTLConfig

	// TopNMessages bounds the AI LRU; chats beyond it are evicted with
	// cascade to their private embeds and app-settings entries.
	TopNMessages int64

	// AIListMaxLen bounds each chat's AI message list.
	AIListMaxLen int64
}

// DefaultConfig returns the production cache configuration.
func DefaultConfig() Config {
	return Config{
		TTL:          DefaultTTLConfig(),
		TopNMessages: 20,
		AIListMaxLen: 200,
	}
}

// ChatLoader is the narrow Records interface the engine needs for lazy
// list-item reconstruction. *store.Store satisfies it.
type ChatLoader interface {
	GetChat(ctx context.Context, find *store.FindChat) (*store.Chat, error)
}

// Engine is the typed facade over the KV store.
type Engine struct {
	rdb     redis.UniversalClient
	cfg     Config
	records ChatLoader
}

// NewEngine creates a cache engine on top of an existing redis client.
// records may be nil; reconstruction is then disabled.
func NewEngine(rdb redis.UniversalClient, cfg Config, records ChatLoader) *Engine {
	if cfg.TopNMessages <= 0 {
		cfg.TopNMessages = DefaultConfig().TopNMessages
	}
	if cfg.AIListMaxLen <= 0 {
		cfg.AIListMaxLen = DefaultConfig().AIListMaxLen
	}
	return &Engine{rdb: rdb, cfg: cfg, records: records}
}

// Client exposes the underlying redis client for pub/sub subscribers.
func (e *Engine) Client() redis.UniversalClient {
	return e.rdb
}

// Config returns the engine configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

// Ping verifies KV connectivity.
func (e *Engine) Ping(ctx context.Context) error {
	return e.rdb.Ping(ctx).Err()
}

func logFieldErr(err error) slog.Attr {
	return slog.String("error", err.Error())
}
