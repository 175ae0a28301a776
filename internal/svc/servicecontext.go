package svc

import (
	"log"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx driver
	"github.com/zeromicro/go-zero/core/stores/cache"
	"github.com/zeromicro/go-zero/core/stores/redis"
	"github.com/zeromicro/go-zero/core/stores/sqlx"
	"github.com/zeromicro/go-zero/core/syncx"

	mdcache "mdstore/internal/cache"
	"mdstore/internal/config"
	"mdstore/internal/model"
	"mdstore/pkg/data"
	"mdstore/pkg/notify"
	storagepkg "mdstore/pkg/storage"
	"mdstore/pkg/storage/remote"
)

type ServiceContext struct {
	Config config.Config

	Registry *storagepkg.Registry
	Drives   map[string]storagepkg.Drive
	Buffer   *storagepkg.Buffer

	Securities data.SecurityProvider
	Notifier   notify.Publisher

	// Bearer token -> granted permissions for the storage endpoints.
	Permissions map[string]remote.Permission

	// Optional Redis-backed cache for index listings (dates, data types,
	// lookups); nil disables caching.
	Index mdcache.Store

	// Optional Postgres-backed catalog; nil without a DSN.
	DBConn          sqlx.SqlConn
	SecuritiesModel model.SecuritiesModel

	TTLs mdcache.TTLSet
}

func NewServiceContext(c config.Config) *ServiceContext {
	svc := &ServiceContext{
		Config:      c,
		Permissions: buildPermissions(c.Auth),
		TTLs:        mdcache.NewTTLSet(c.TTL),
		Notifier:    notify.NoopPublisher{},
	}

	var node cache.Cache
	if strings.TrimSpace(c.Redis.Host) != "" {
		rds, err := redis.NewRedis(c.Redis)
		if err != nil {
			log.Fatalf("failed to connect redis: %v", err)
		}
		node = cache.NewNode(rds, syncx.NewSingleFlight(), cache.NewStat(mdcache.Namespace), model.ErrNotFound)
		svc.Index = node
	}

	// Catalog first: the registry consults it for price and volume scales.
	var securities data.SecurityProvider = data.StaticSecurityProvider{}
	if c.Postgres.DSN != "" {
		conn := sqlx.NewSqlConn("pgx", c.Postgres.DSN)
		svc.DBConn = conn
		svc.SecuritiesModel = model.NewSecuritiesModel(conn, node, mdcache.SecurityTTL(svc.TTLs))
		securities = model.CatalogProvider{Model: svc.SecuritiesModel}
	}
	svc.Securities = securities

	// Storage config is the heart of the service: build drives and registry.
	if c.Storage.Value == nil {
		log.Fatalf("storage config is required (set storage.file in the main config)")
	}
	registry, drives, err := c.Storage.Value.BuildRegistry(securities)
	if err != nil {
		log.Fatalf("failed to build storage registry: %v", err)
	}
	svc.Registry = registry
	svc.Drives = drives
	svc.Buffer = storagepkg.NewBuffer(registry, c.Storage.Value.FlushSize)

	if c.Notify.URL != "" {
		publisher, err := notify.NewNATSPublisher(c.Notify.URL, c.Notify.SubjectPrefix)
		if err != nil {
			log.Fatalf("failed to connect notify stream: %v", err)
		}
		svc.Notifier = publisher
	}

	return svc
}

// buildPermissions resolves the configured token grants into a lookup map.
func buildPermissions(auth []config.AuthTokenConf) map[string]remote.Permission {
	perms := make(map[string]remote.Permission, len(auth))
	for _, entry := range auth {
		p := remote.PermNone
		for _, name := range entry.Permissions {
			switch strings.ToLower(strings.TrimSpace(name)) {
			case "read":
				p |= remote.PermRead
			case "write":
				p |= remote.PermWrite
			}
		}
		perms[entry.Token] = p
	}
	return perms
}

// PermissionFor returns the grants for a bearer token. Unknown tokens
// get no permissions. When no tokens are configured at all the server
// runs open, granting full access.
func (s *ServiceContext) PermissionFor(token string) remote.Permission {
	if len(s.Permissions) == 0 {
		return remote.PermRead | remote.PermWrite
	}
	return s.Permissions[token]
}
