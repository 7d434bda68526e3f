package membership

import (
	"testing"
	"time"

	"github.com/indutny/naughtd/internal/config"
)

func testConfig() *config.Config {
	return &config.Config{
		Replicate:      2,
		PingEvery:      config.PingWindow{Min: 1 * time.Second, Max: 3 * time.Second},
		AliveTimeout:   6 * time.Second,
		RemoveTimeout:  300 * time.Second,
		StableDelay:    12 * time.Second,
		RebalanceEvery: 12 * time.Second,
	}
}

func TestNewPeerStartsInactiveAndProbing(t *testing.T) {
	cfg := testConfig()
	now := time.Now()
	p := New("http://10.0.0.2:9000", cfg, now)

	if p.IsActive(now) {
		t.Fatalf("a freshly created peer must start inactive")
	}
	if p.IsStable(now) {
		t.Fatalf("a freshly created peer must not be stable yet")
	}
	if !p.ShouldPing(now) {
		t.Fatalf("a freshly created peer should be pinged immediately")
	}
	if p.DerivedState(now) != StateProbing {
		t.Fatalf("DerivedState = %s, want probing", p.DerivedState(now))
	}
}

func TestMarkAliveMakesPeerActive(t *testing.T) {
	cfg := testConfig()
	now := time.Now()
	p := New("http://10.0.0.2:9000", cfg, now)

	p.MarkAlive(cfg, now)
	if !p.IsActive(now) {
		t.Fatalf("peer should be active immediately after mark_alive")
	}
	if p.DerivedState(now) != StateActive {
		t.Fatalf("DerivedState = %s, want active", p.DerivedState(now))
	}

	past := now.Add(cfg.AliveTimeout + time.Millisecond)
	if p.IsActive(past) {
		t.Fatalf("peer should go stale once inactive_at has passed")
	}
	if p.DerivedState(past) != StateStale {
		t.Fatalf("DerivedState = %s, want stale", p.DerivedState(past))
	}
}

func TestShouldRemoveAfterRemoveAt(t *testing.T) {
	cfg := testConfig()
	now := time.Now()
	p := New("http://10.0.0.2:9000", cfg, now)
	p.MarkAlive(cfg, now)

	justBefore := now.Add(cfg.AliveTimeout + cfg.RemoveTimeout - time.Millisecond)
	if p.ShouldRemove(justBefore) {
		t.Fatalf("peer evicted too early")
	}
	atOrAfter := now.Add(cfg.AliveTimeout + cfg.RemoveTimeout)
	if !p.ShouldRemove(atOrAfter) {
		t.Fatalf("peer should be evicted once remove_at is reached")
	}
}

func TestEligibleRequiresActiveAndStable(t *testing.T) {
	cfg := testConfig()
	now := time.Now()
	p := New("http://10.0.0.2:9000", cfg, now)
	p.MarkAlive(cfg, now)

	if p.IsEligible(now) {
		t.Fatalf("a brand-new peer should not be eligible before stable_delay elapses")
	}

	// stable_delay (12s) outlasts alive_timeout (6s), so the peer must be
	// heard from again to still be active once it becomes stable.
	afterStable := now.Add(cfg.StableDelay)
	p.MarkAlive(cfg, afterStable)
	if !p.IsEligible(afterStable) {
		t.Fatalf("peer should be eligible once stable and still active")
	}
}

func TestTableRecvPingIgnoresSelf(t *testing.T) {
	cfg := testConfig()
	table := NewTable(cfg)
	now := time.Now()

	table.RecvPing("http://self:9000", Ping{Sender: "http://self:9000"}, now)
	if table.Len() != 0 {
		t.Fatalf("ping from self must be ignored, got %d peers", table.Len())
	}
}

func TestTableRecvPingMarksOnlySenderAlive(t *testing.T) {
	cfg := testConfig()
	table := NewTable(cfg)
	now := time.Now()

	table.RecvPing("http://self:9000", Ping{
		Sender: "http://a:9000",
		Peers:  []string{"http://b:9000"},
	}, now)

	a, ok := table.Peer("http://a:9000")
	if !ok {
		t.Fatalf("sender should have been inserted")
	}
	if !a.IsActive(now) {
		t.Fatalf("sender should be marked alive")
	}

	b, ok := table.Peer("http://b:9000")
	if !ok {
		t.Fatalf("advertised peer should have been inserted")
	}
	if b.IsActive(now) {
		t.Fatalf("advertised peer must NOT be marked alive merely by mention")
	}
}

func TestTableRemoveStale(t *testing.T) {
	cfg := testConfig()
	table := NewTable(cfg)
	now := time.Now()

	table.Upsert("http://a:9000", now)
	future := now.Add(cfg.RemoveTimeout + time.Second)
	removed := table.RemoveStale(future)
	if len(removed) != 1 || removed[0] != "http://a:9000" {
		t.Fatalf("RemoveStale = %v, want [http://a:9000]", removed)
	}
	if table.Len() != 0 {
		t.Fatalf("peer should have been removed from the table")
	}
}

func TestTableEligibleSnapshot(t *testing.T) {
	cfg := testConfig()
	table := NewTable(cfg)
	now := time.Now()

	table.Upsert("http://a:9000", now)
	table.MarkAlive("http://a:9000", now)

	if got := table.Eligible(now); len(got) != 0 {
		t.Fatalf("peer should not be eligible before stable_delay: %v", got)
	}
	// A fresh ping keeps the peer active past alive_timeout.
	table.MarkAlive("http://a:9000", now.Add(cfg.StableDelay))
	if got := table.Eligible(now.Add(cfg.StableDelay)); len(got) != 1 {
		t.Fatalf("peer should be eligible after stable_delay: %v", got)
	}
}
