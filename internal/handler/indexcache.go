package handler

import (
	"context"
	"time"

	"github.com/zeromicro/go-zero/core/logx"

	mdcache "mdstore/internal/cache"
	"mdstore/internal/svc"
	"mdstore/pkg/data"
)

// indexGet reads a cached listing response. A miss or a cache error
// reports false; errors other than a miss are logged and otherwise
// treated as misses.
func indexGet(ctx context.Context, svcCtx *svc.ServiceContext, key string, val any) bool {
	c := svcCtx.Index
	if c == nil {
		return false
	}
	err := c.GetCtx(ctx, key, val)
	if err == nil {
		return true
	}
	if !c.IsNotFound(err) {
		logx.WithContext(ctx).Errorf("get cache %s: %v", key, err)
	}
	return false
}

// indexSet stores a listing response with the given TTL. A zero TTL
// disables caching for that listing class.
func indexSet(ctx context.Context, svcCtx *svc.ServiceContext, key string, val any, ttl time.Duration) {
	c := svcCtx.Index
	if c == nil || ttl <= 0 {
		return
	}
	if err := c.SetWithExpireCtx(ctx, key, val, ttl); err != nil {
		logx.WithContext(ctx).Errorf("set cache %s: %v", key, err)
	}
}

// invalidateIndex drops the cached listings a write to the stream may
// have extended or shrunk.
func invalidateIndex(ctx context.Context, svcCtx *svc.ServiceContext, key data.StreamKey) {
	c := svcCtx.Index
	if c == nil {
		return
	}
	keys := []string{
		mdcache.DatesKey(key.Security.String(), data.FileName(key.TypeArg())),
		mdcache.DataTypesKey(key.Security.String()),
	}
	if err := c.DelCtx(ctx, keys...); err != nil {
		logx.WithContext(ctx).Errorf("invalidate cache %s: %v", key, err)
	}
}
