//go:build integration

package test

import (
	"context"
	"errors"
	"testing"

	"github.com/halinh/authcore"
)

func issue(t *testing.T, engine *authcore.Engine, accounts interface {
	FindByID(context.Context, string) (*authcore.Account, error)
}, userID, ua string) authcore.TokenPair {
	t.Helper()
	a, err := accounts.FindByID(context.Background(), userID)
	if err != nil {
		t.Fatalf("find %s: %v", userID, err)
	}
	pair, err := engine.IssueTokens(context.Background(), a, authcore.DeviceInfo{UserAgent: ua})
	if err != nil {
		t.Fatalf("issue %s: %v", userID, err)
	}
	return pair
}

func TestRedisCompat_IssueRefreshRevoke(t *testing.T) {
	for _, mode := range redisModes(t) {
		t.Run(mode.name, func(t *testing.T) {
			engine, accounts := newEngine(t, mode.setup(t))
			ctx := context.Background()

			pair := issue(t, engine, accounts, "alice", "laptop")
			if _, err := engine.RefreshAccessToken(ctx, pair.RefreshToken); err != nil {
				t.Fatalf("refresh: %v", err)
			}
			if err := engine.RevokeSession(ctx, "alice", pair.Version); err != nil {
				t.Fatalf("revoke: %v", err)
			}
			_, err := engine.RefreshAccessToken(ctx, pair.RefreshToken)
			if !errors.Is(err, authcore.ErrRevokedToken) {
				t.Fatalf("expected revoked after revoke, got %v", err)
			}
		})
	}
}

func TestRedisCompat_RevokeAllIsScopedToUser(t *testing.T) {
	for _, mode := range redisModes(t) {
		t.Run(mode.name, func(t *testing.T) {
			engine, accounts := newEngine(t, mode.setup(t))
			ctx := context.Background()

			a1 := issue(t, engine, accounts, "alice", "laptop")
			a2 := issue(t, engine, accounts, "alice", "phone")
			b1 := issue(t, engine, accounts, "bob", "tablet")

			sessions, err := engine.ListSessions(ctx, "alice")
			if err != nil {
				t.Fatalf("list: %v", err)
			}
			if len(sessions) != 2 || sessions[0].Version != a2.Version {
				t.Fatalf("expected 2 sessions newest first, got %+v", sessions)
			}

			if err := engine.RevokeSession(ctx, "alice", ""); err != nil {
				t.Fatalf("revoke all: %v", err)
			}
			for _, tok := range []string{a1.RefreshToken, a2.RefreshToken} {
				if _, err := engine.RefreshAccessToken(ctx, tok); !errors.Is(err, authcore.ErrRevokedToken) {
					t.Fatalf("expected alice session revoked, got %v", err)
				}
			}
			if _, err := engine.RefreshAccessToken(ctx, b1.RefreshToken); err != nil {
				t.Fatalf("bob's session must survive: %v", err)
			}
		})
	}
}

func TestRedisCompat_RateLimitAndRepair(t *testing.T) {
	for _, mode := range redisModes(t) {
		t.Run(mode.name, func(t *testing.T) {
			engine, accounts := newEngine(t, mode.setup(t))
			ctx := context.Background()

			for i := 0; i < 3; i++ {
				if _, err := engine.CheckRateLimit(ctx, "203.0.113.1", authcore.PolicyRegister); err != nil {
					t.Fatalf("attempt %d: %v", i+1, err)
				}
			}
			if _, err := engine.CheckRateLimit(ctx, "203.0.113.1", authcore.PolicyRegister); !errors.Is(err, authcore.ErrRateLimited) {
				t.Fatalf("expected rate limited, got %v", err)
			}

			issue(t, engine, accounts, "bob", "tablet")
			fixed, err := engine.RepairSessions(ctx)
			if err != nil {
				t.Fatalf("repair: %v", err)
			}
			if fixed != 0 {
				t.Fatalf("records written with a TTL need no repair, fixed %d", fixed)
			}
		})
	}
}
