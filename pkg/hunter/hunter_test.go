package hunter

import (
	"testing"
	"time"
)

func makeHunter(addr string, score int) Hunter {
	return Hunter{
		Address:    addr,
		Score:      score,
		CreatedAt:  time.Now().Add(-10 * 24 * time.Hour).Unix(),
		LastActive: time.Now().Unix(),
	}
}

func TestInsertWithinCapacity(t *testing.T) {
	p := NewPool(3)
	if !p.Insert(makeHunter("a", 70)) {
		t.Fatal("expected insert to succeed below capacity")
	}
	if p.Len() != 1 {
		t.Fatalf("expected len 1, got %d", p.Len())
	}
}

func TestInsertEvictsLowestOnlyIfCandidateBeatsIt(t *testing.T) {
	p := NewPool(2)
	p.Insert(makeHunter("a", 70))
	p.Insert(makeHunter("b", 80))

	if p.Insert(makeHunter("c", 75)) {
		_, ok := p.Get("a")
		if ok {
			t.Fatal("expected 'a' (score 70) to be evicted by candidate score 75")
		}
	} else {
		t.Fatal("expected candidate with higher score than the minimum to be admitted")
	}

	if p.Insert(makeHunter("d", 60)) {
		t.Fatal("expected candidate with score below or equal to pool minimum to be rejected")
	}
}

func TestInsertTieKeepsIncumbent(t *testing.T) {
	p := NewPool(1)
	p.Insert(makeHunter("a", 70))
	admitted := p.Insert(makeHunter("b", 70))
	if admitted {
		t.Fatal("expected tie to keep incumbent, candidate should be rejected")
	}
	if _, ok := p.Get("a"); !ok {
		t.Fatal("expected incumbent 'a' to remain")
	}
}

func TestDuplicateInsertKeepsHigherScore(t *testing.T) {
	p := NewPool(5)
	p.Insert(makeHunter("a", 70))
	p.Insert(makeHunter("a", 85))

	h, _ := p.Get("a")
	if h.Score != 85 {
		t.Fatalf("expected score 85 after duplicate insert with higher score, got %d", h.Score)
	}

	p.Insert(makeHunter("a", 60))
	h, _ = p.Get("a")
	if h.Score != 85 {
		t.Fatalf("expected score to remain 85 after duplicate insert with lower score, got %d", h.Score)
	}
}

func TestMinScoreMonotonicAtCapacity(t *testing.T) {
	p := NewPool(2)
	p.Insert(makeHunter("a", 70))
	p.Insert(makeHunter("b", 80))

	before, _ := p.MinScore()
	p.Insert(makeHunter("c", 90))
	after, _ := p.MinScore()

	if after < before {
		t.Fatalf("expected minimum score to never decrease on eviction, before=%d after=%d", before, after)
	}
}

func TestIsZombieRespectsMinAge(t *testing.T) {
	h := Hunter{
		CreatedAt:  time.Now().Unix(),
		LastActive: time.Now().Add(-30 * 24 * time.Hour).Unix(),
	}
	if h.IsZombie(time.Now()) {
		t.Fatal("expected brand-new hunter to be protected from zombie sweep regardless of last_active")
	}
}

func TestIsZombieFiresAfterThreshold(t *testing.T) {
	h := Hunter{
		CreatedAt:  time.Now().Add(-30 * 24 * time.Hour).Unix(),
		LastActive: time.Now().Add(-16 * 24 * time.Hour).Unix(),
	}
	if !h.IsZombie(time.Now()) {
		t.Fatal("expected hunter idle beyond ZombieThreshold to be a zombie")
	}
}

func TestSweepZombiesRemovesOnlyIdle(t *testing.T) {
	p := NewPool(10)
	active := makeHunter("active", 70)
	p.Insert(active)

	zombie := Hunter{
		Address:    "zombie",
		Score:      70,
		CreatedAt:  time.Now().Add(-30 * 24 * time.Hour).Unix(),
		LastActive: time.Now().Add(-16 * 24 * time.Hour).Unix(),
	}
	p.Insert(zombie)

	evicted := p.SweepZombies(time.Now())
	if len(evicted) != 1 || evicted[0] != "zombie" {
		t.Fatalf("expected only 'zombie' evicted, got %v", evicted)
	}
	if _, ok := p.Get("active"); !ok {
		t.Fatal("expected active hunter to remain")
	}
}
