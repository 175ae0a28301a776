package cache

import (
	"context"
	"strings"
	"time"

	"mdstore/internal/config"
)

// Namespace is the Redis key prefix for the market data store.
const Namespace = "mdstore"

// Store is the subset of the go-zero cache the index listings use.
type Store interface {
	GetCtx(ctx context.Context, key string, val any) error
	SetWithExpireCtx(ctx context.Context, key string, val any, expire time.Duration) error
	DelCtx(ctx context.Context, keys ...string) error
	IsNotFound(err error) bool
}

// TTLClass represents a config-driven TTL bucket.
type TTLClass string

const (
	TTLShort  TTLClass = "short"
	TTLMedium TTLClass = "medium"
	TTLLong   TTLClass = "long"
)

// TTLSet normalises cache TTLs from config into time.Duration values.
type TTLSet struct {
	Short  time.Duration
	Medium time.Duration
	Long   time.Duration
}

// NewTTLSet converts config TTLs (in seconds) into durations.
func NewTTLSet(cfg config.CacheTTL) TTLSet {
	return TTLSet{
		Short:  durationOrDefault(cfg.Short, 10*time.Second),
		Medium: durationOrDefault(cfg.Medium, time.Minute),
		Long:   durationOrDefault(cfg.Long, 5*time.Minute),
	}
}

func durationOrDefault(seconds int, fallback time.Duration) time.Duration {
	if seconds < 0 {
		return 0
	}
	if seconds == 0 {
		return fallback
	}
	return time.Duration(seconds) * time.Second
}

// Duration returns the configured duration for the given TTL class.
func (t TTLSet) Duration(class TTLClass) time.Duration {
	switch class {
	case TTLShort:
		return t.Short
	case TTLMedium:
		return t.Medium
	case TTLLong:
		return t.Long
	default:
		return 0
	}
}

func formatKey(parts ...string) string {
	values := make([]string, 0, len(parts)+1)
	values = append(values, Namespace)
	for _, part := range parts {
		clean := strings.TrimSpace(part)
		if clean == "" {
			continue
		}
		values = append(values, clean)
	}
	return strings.Join(values, ":")
}

// --- Catalog Keys -----------------------------------------------------------

// SecurityKey caches one instrument catalog row.
func SecurityKey(symbol, board string) string {
	return formatKey("security", symbol, board)
}

// SecuritySearchKey caches a lookup result for a symbol pattern.
func SecuritySearchKey(pattern string) string {
	return formatKey("security", "search", pattern)
}

// --- Storage Index Keys -----------------------------------------------------

// DataTypesKey caches the available data type listing for a security.
func DataTypesKey(security string) string {
	return formatKey("datatypes", security)
}

// DatesKey caches the stored date range for one stream.
func DatesKey(security, file string) string {
	return formatKey("dates", security, file)
}

// --- TTL Helpers ------------------------------------------------------------

// SecurityTTL returns the TTL for catalog rows; metadata changes rarely.
func SecurityTTL(ttl TTLSet) time.Duration {
	return ttl.Duration(TTLLong)
}

// SecuritySearchTTL returns the TTL for lookup results.
func SecuritySearchTTL(ttl TTLSet) time.Duration {
	return ttl.Duration(TTLMedium)
}

// DataTypesTTL returns the TTL for data type listings.
func DataTypesTTL(ttl TTLSet) time.Duration {
	return ttl.Duration(TTLMedium)
}

// DatesTTL returns the TTL for date listings. Short, since a live save
// extends the range.
func DatesTTL(ttl TTLSet) time.Duration {
	return ttl.Duration(TTLShort)
}
