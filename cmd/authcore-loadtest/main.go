package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/halinh/authcore"
	"github.com/halinh/authcore/accountstore"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

type seeded struct {
	access  string
	refresh string
}

func main() {
	var (
		users       = flag.Int("users", 10000, "number of accounts to seed, one session each")
		concurrency = flag.Int("concurrency", 256, "number of concurrent workers")
		ops         = flag.Int("ops", 100000, "operations per phase (authenticate + refresh)")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
		namespace   = flag.String("namespace", "authcore-loadtest", "session key namespace")
	)
	flag.Parse()

	if *users <= 0 || *concurrency <= 0 || *ops <= 0 {
		fmt.Fprintln(os.Stderr, "users, concurrency, and ops must be > 0")
		os.Exit(2)
	}

	ctx := context.Background()

	addr := *redisAddr
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}

	var (
		cleanup func()
		client  redis.UniversalClient
	)
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to start miniredis: %v\n", err)
			os.Exit(1)
		}
		addr = mr.Addr()
		client = redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		cleanup = func() {
			_ = client.Close()
			mr.Close()
		}
		fmt.Printf("using miniredis at %s\n", addr)
	} else {
		client = redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		cleanup = func() { _ = client.Close() }
		fmt.Printf("using redis at %s\n", addr)
	}
	defer cleanup()

	cfg := authcore.DefaultConfig()
	cfg.JWT.AccessSecret = []byte("loadtest-access-secret")
	cfg.JWT.RefreshSecret = []byte("loadtest-refresh-secret")
	cfg.Session.Namespace = *namespace
	cfg.Session.StoreTimeout = 5 * time.Second
	cfg.Audit.Enabled = false

	accounts := accountstore.NewMemory()
	engine, err := authcore.New().
		WithConfig(cfg).
		WithRedis(client).
		WithAccountRepository(accounts).
		WithLogger(zerolog.Nop()).
		Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "engine build failed: %v\n", err)
		os.Exit(1)
	}
	defer engine.Close()

	fmt.Printf("seeding %d accounts...\n", *users)
	startSeed := time.Now()
	states := make([]seeded, *users)
	for i := range states {
		account := &authcore.Account{
			ID:       fmt.Sprintf("user-%d", i),
			Email:    fmt.Sprintf("user-%d@loadtest.local", i),
			Active:   true,
			Locale:   "vi",
			Timezone: "Asia/Ho_Chi_Minh",
		}
		if err := accounts.Create(ctx, account); err != nil {
			fmt.Fprintf(os.Stderr, "create account failed: %v\n", err)
			os.Exit(1)
		}
		pair, err := engine.IssueTokens(ctx, account, authcore.DeviceInfo{UserAgent: "loadtest"})
		if err != nil {
			fmt.Fprintf(os.Stderr, "issue failed: %v\n", err)
			os.Exit(1)
		}
		states[i] = seeded{access: pair.AccessToken, refresh: pair.RefreshToken}
	}
	fmt.Printf("seeded in %s\n", time.Since(startSeed).Round(time.Millisecond))

	authStats := runPhase(*ops, *concurrency, 7919, func(r *rand.Rand) error {
		_, err := engine.Authenticate(ctx, states[r.Intn(len(states))].access)
		return err
	})
	refreshStats := runPhase(*ops, *concurrency, 6151, func(r *rand.Rand) error {
		_, err := engine.RefreshAccessToken(ctx, states[r.Intn(len(states))].refresh)
		return err
	})

	fmt.Println("---- results ----")
	printStats("authenticate", authStats)
	printStats("refresh", refreshStats)
}

func runPhase(ops, concurrency int, seedStep int64, op func(*rand.Rand) error) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, ops)
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)*seedStep))
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				t0 := time.Now()
				err := op(r)
				d := time.Since(t0)
				if err != nil {
					atomic.AddInt64(&failures, 1)
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()
	return computeStats(time.Since(start), latencies, failures)
}

type phaseStats struct {
	total    time.Duration
	ops      int
	failures int64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	opsPerS  float64
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return phaseStats{
		total:    total,
		ops:      len(samples),
		failures: failures,
		p50:      percentile(samples, 50),
		p95:      percentile(samples, 95),
		p99:      percentile(samples, 99),
		opsPerS:  float64(len(samples)) / total.Seconds(),
	}
}

func percentile(samples []time.Duration, p int) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	if p <= 0 {
		return samples[0]
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	return samples[(len(samples)-1)*p/100]
}

func printStats(name string, s phaseStats) {
	fmt.Printf("%s: ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.failures,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}
