package model

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/zeromicro/go-zero/core/logx"
	"github.com/zeromicro/go-zero/core/stores/cache"
	"github.com/zeromicro/go-zero/core/stores/sqlx"

	mdcache "mdstore/internal/cache"
	"mdstore/pkg/data"
)

// ErrNotFound is returned when a catalog row does not exist.
var ErrNotFound = sqlx.ErrNotFound

// Security is one row of the instrument catalog.
type Security struct {
	Symbol      string `db:"symbol"`
	Board       string `db:"board"`
	PriceScale  int16  `db:"price_scale"`
	VolumeScale int16  `db:"volume_scale"`
	PriceStep   int64  `db:"price_step"`
}

// ID returns the domain identifier for the row.
func (s Security) ID() data.SecurityID {
	return data.SecurityID{Symbol: s.Symbol, Board: s.Board}
}

// Domain converts the row to the domain form.
func (s Security) Domain() data.Security {
	return data.Security{
		ID:          s.ID(),
		PriceScale:  uint8(s.PriceScale),
		VolumeScale: uint8(s.VolumeScale),
		PriceStep:   s.PriceStep,
	}
}

// SecuritiesModel is the instrument catalog backed by Postgres.
type SecuritiesModel interface {
	FindOne(ctx context.Context, id data.SecurityID) (*Security, error)
	Search(ctx context.Context, pattern string) ([]Security, error)
	Upsert(ctx context.Context, sec Security) error
}

type defaultSecuritiesModel struct {
	conn  sqlx.SqlConn
	cache cache.Cache
	ttl   time.Duration
}

var _ SecuritiesModel = (*defaultSecuritiesModel)(nil)

// NewSecuritiesModel builds the catalog model. The cache is optional; a
// nil cache disables caching.
func NewSecuritiesModel(conn sqlx.SqlConn, c cache.Cache, ttl time.Duration) SecuritiesModel {
	return &defaultSecuritiesModel{conn: conn, cache: c, ttl: ttl}
}

const securityFields = "symbol, board, price_scale, volume_scale, price_step"

func (m *defaultSecuritiesModel) FindOne(ctx context.Context, id data.SecurityID) (*Security, error) {
	key := mdcache.SecurityKey(id.Symbol, id.Board)
	if m.cache != nil {
		var cached Security
		if err := m.cache.GetCtx(ctx, key, &cached); err == nil {
			return &cached, nil
		} else if !m.cache.IsNotFound(err) {
			logx.WithContext(ctx).Errorf("get cache %s: %v", key, err)
		}
	}

	query := fmt.Sprintf("SELECT %s FROM securities WHERE symbol = $1 AND board = $2", securityFields)
	var row Security
	if err := m.conn.QueryRowCtx(ctx, &row, query, id.Symbol, id.Board); err != nil {
		if errors.Is(err, sqlx.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	if m.cache != nil && m.ttl > 0 {
		if err := m.cache.SetWithExpireCtx(ctx, key, &row, m.ttl); err != nil {
			logx.WithContext(ctx).Errorf("set cache %s: %v", key, err)
		}
	}
	return &row, nil
}

// Search matches "SYMBOL@BOARD" patterns where * is a wildcard on either
// side, e.g. "AAPL@*" or "*@NASDAQ". An empty pattern matches everything.
func (m *defaultSecuritiesModel) Search(ctx context.Context, pattern string) ([]Security, error) {
	symbolLike, boardLike := likePatterns(pattern)
	query := fmt.Sprintf(
		"SELECT %s FROM securities WHERE symbol ILIKE $1 AND board ILIKE $2 ORDER BY symbol, board",
		securityFields)
	var rows []Security
	if err := m.conn.QueryRowsCtx(ctx, &rows, query, symbolLike, boardLike); err != nil {
		return nil, err
	}
	return rows, nil
}

func (m *defaultSecuritiesModel) Upsert(ctx context.Context, sec Security) error {
	const query = `INSERT INTO securities (symbol, board, price_scale, volume_scale, price_step)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (symbol, board) DO UPDATE
SET price_scale = EXCLUDED.price_scale,
    volume_scale = EXCLUDED.volume_scale,
    price_step = EXCLUDED.price_step`
	if _, err := m.conn.ExecCtx(ctx, query,
		sec.Symbol, sec.Board, sec.PriceScale, sec.VolumeScale, sec.PriceStep); err != nil {
		return err
	}
	if m.cache != nil {
		key := mdcache.SecurityKey(sec.Symbol, sec.Board)
		if err := m.cache.DelCtx(ctx, key); err != nil {
			logx.WithContext(ctx).Errorf("del cache %s: %v", key, err)
		}
	}
	return nil
}

// likePatterns converts a "SYMBOL@BOARD" glob into a pair of SQL LIKE
// patterns. Absent parts match everything.
func likePatterns(pattern string) (symbolLike, boardLike string) {
	pattern = strings.TrimSpace(pattern)
	symbol, board := pattern, ""
	if s, b, ok := strings.Cut(pattern, "@"); ok {
		symbol, board = s, b
	}
	return globToLike(symbol), globToLike(board)
}

func globToLike(glob string) string {
	if glob == "" || glob == "*" {
		return "%"
	}
	return strings.ReplaceAll(glob, "*", "%")
}

// --- SecurityProvider adapter ----------------------------------------------

// CatalogProvider adapts the catalog model to data.SecurityProvider for
// the storage layer. Lookups that fail fall back to not-found so stores
// use default scales.
type CatalogProvider struct {
	Model SecuritiesModel
}

// LookupSecurity implements data.SecurityProvider.
func (p CatalogProvider) LookupSecurity(id data.SecurityID) (data.Security, bool) {
	row, err := p.Model.FindOne(context.Background(), id)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			logx.Errorf("catalog lookup %s: %v", id, err)
		}
		return data.Security{}, false
	}
	return row.Domain(), true
}
