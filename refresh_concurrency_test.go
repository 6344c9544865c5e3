package authcore

import (
	"context"
	"sync"
	"testing"
)

// Refresh tokens are not rotated, so concurrent exchanges of the same token
// all succeed and keep the session version.
func TestRefreshConcurrencyAllSucceedWithSameVersion(t *testing.T) {
	f := newTestEngine(t, nil)
	pair := f.issue(t, "u1", DeviceInfo{})

	const n = 16
	var wg sync.WaitGroup
	wg.Add(n)

	results := make(chan error, n)
	grants := make(chan AccessGrant, n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			grant, err := f.engine.RefreshAccessToken(context.Background(), pair.RefreshToken)
			results <- err
			grants <- grant
		}()
	}
	wg.Wait()
	close(results)
	close(grants)

	for err := range results {
		if err != nil {
			t.Fatalf("unexpected refresh error: %v", err)
		}
	}
	for grant := range grants {
		claims, err := f.engine.VerifyAccess(context.Background(), grant.AccessToken)
		if err != nil {
			t.Fatalf("refreshed token invalid: %v", err)
		}
		if claims.Version != pair.Version {
			t.Fatalf("expected version %s, got %s", pair.Version, claims.Version)
		}
	}
}

func TestConcurrentLoginsProduceIndependentSessions(t *testing.T) {
	f := newTestEngine(t, nil)
	acct := f.accounts.get(t, "u1")

	const n = 12
	var wg sync.WaitGroup
	wg.Add(n)
	versions := make(chan string, n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			pair, err := f.engine.IssueTokens(context.Background(), acct, DeviceInfo{})
			if err != nil {
				t.Errorf("IssueTokens failed: %v", err)
				return
			}
			versions <- pair.Version
		}()
	}
	wg.Wait()
	close(versions)

	seen := map[string]bool{}
	for v := range versions {
		if seen[v] {
			t.Fatalf("duplicate version %s", v)
		}
		seen[v] = true
	}

	sessions, err := f.engine.ListSessions(context.Background(), "u1")
	if err != nil {
		t.Fatalf("ListSessions failed: %v", err)
	}
	if len(sessions) != n {
		t.Fatalf("expected %d sessions, got %d", n, len(sessions))
	}
}

func TestRevokeAllThenLoginLeavesFreshSession(t *testing.T) {
	f := newTestEngine(t, nil)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		f.issue(t, "u1", DeviceInfo{})
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		if err := f.engine.RevokeSession(ctx, "u1", ""); err != nil {
			t.Errorf("RevokeSession failed: %v", err)
		}
	}()
	var fresh TokenPair
	acct := f.accounts.get(t, "u1")
	go func() {
		defer wg.Done()
		pair, err := f.engine.IssueTokens(ctx, acct, DeviceInfo{})
		if err != nil {
			t.Errorf("IssueTokens failed: %v", err)
			return
		}
		fresh = pair
	}()
	wg.Wait()

	// Either ordering is accepted; a login that starts after revoke-all must survive it.
	after := f.issue(t, "u1", DeviceInfo{})
	if _, err := f.engine.VerifyRefresh(ctx, after.RefreshToken); err != nil {
		t.Fatalf("login after revoke-all failed: %v", err)
	}
	if fresh.Version == "" {
		t.Fatal("concurrent login did not complete")
	}
}
