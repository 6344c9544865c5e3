//go:build integration

package test

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/halinh/authcore"
	"github.com/halinh/authcore/accountstore"
	"github.com/redis/go-redis/v9"
)

// redisMode describes which Redis backend the compatibility suite is running against.
type redisMode struct {
	name  string
	setup func(t *testing.T) redis.UniversalClient
}

// redisModes returns miniredis plus any real deployments named by
// REDIS_ADDR, REDIS_CLUSTER_ADDRS or REDIS_SENTINEL_ADDRS.
func redisModes(t *testing.T) []redisMode {
	t.Helper()
	modes := []redisMode{
		{
			name: "miniredis",
			setup: func(t *testing.T) redis.UniversalClient {
				t.Helper()
				mr := miniredis.RunT(t)
				rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
				t.Cleanup(func() { _ = rdb.Close() })
				return rdb
			},
		},
	}

	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		modes = append(modes, redisMode{
			name: "standalone:" + addr,
			setup: func(t *testing.T) redis.UniversalClient {
				t.Helper()
				return connect(t, redis.NewClient(&redis.Options{Addr: addr}))
			},
		})
	}

	if addrs := os.Getenv("REDIS_CLUSTER_ADDRS"); addrs != "" {
		modes = append(modes, redisMode{
			name: "cluster",
			setup: func(t *testing.T) redis.UniversalClient {
				t.Helper()
				return connect(t, redis.NewClusterClient(&redis.ClusterOptions{Addrs: splitAddrs(addrs)}))
			},
		})
	}

	if addrs := os.Getenv("REDIS_SENTINEL_ADDRS"); addrs != "" {
		master := os.Getenv("REDIS_SENTINEL_MASTER")
		if master == "" {
			master = "mymaster"
		}
		modes = append(modes, redisMode{
			name: "sentinel",
			setup: func(t *testing.T) redis.UniversalClient {
				t.Helper()
				return connect(t, redis.NewFailoverClient(&redis.FailoverOptions{
					MasterName:    master,
					SentinelAddrs: splitAddrs(addrs),
				}))
			},
		})
	}

	return modes
}

func connect(t *testing.T, rdb redis.UniversalClient) redis.UniversalClient {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		t.Skipf("cannot connect to Redis: %v", err)
	}
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

func splitAddrs(s string) []string {
	var addrs []string
	for _, a := range strings.Split(s, ",") {
		if a = strings.TrimSpace(a); a != "" {
			addrs = append(addrs, a)
		}
	}
	return addrs
}

// newEngine builds an engine in a per-test namespace so runs against a
// shared Redis never see each other's keys.
func newEngine(t *testing.T, rdb redis.UniversalClient) (*authcore.Engine, *accountstore.Memory) {
	t.Helper()
	cfg := authcore.DefaultConfig()
	cfg.JWT.AccessSecret = []byte("integration-access-secret")
	cfg.JWT.RefreshSecret = []byte("integration-refresh-secret")
	cfg.Session.Namespace = "authcore-it-" + strings.ReplaceAll(t.Name(), "/", "-")
	cfg.RateLimit.RedisPrefix = cfg.Session.Namespace + "-rl"
	cfg.Audit.Enabled = false

	accounts := accountstore.NewMemory()
	for _, id := range []string{"alice", "bob"} {
		if err := accounts.Create(context.Background(), &authcore.Account{
			ID: id, Email: id + "@example.com", Active: true, Locale: "vi", Timezone: "Asia/Ho_Chi_Minh",
		}); err != nil {
			t.Fatalf("seed %s: %v", id, err)
		}
	}

	engine, err := authcore.New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithAccountRepository(accounts).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(func() {
		_ = engine.RevokeSession(context.Background(), "alice", "")
		_ = engine.RevokeSession(context.Background(), "bob", "")
		engine.Close()
	})
	return engine, accounts
}
