package stream

import "testing"

func TestGuardAcceptsAdvancing(t *testing.T) {
	g := NewGuard(64)
	for _, seq := range []int64{1, 2, 3, 10} {
		if v := g.Admit(seq); v != VerdictAccept {
			t.Fatalf("Admit(%d) = %v, want accept", seq, v)
		}
	}
	if g.LastSeq() != 10 {
		t.Errorf("lastSeq = %d, want 10", g.LastSeq())
	}
}

func TestGuardIgnoresReplay(t *testing.T) {
	g := NewGuard(64)
	g.Admit(1)
	g.Admit(2)
	if v := g.Admit(1); v != VerdictIgnore {
		t.Fatalf("replayed seq 1 = %v, want ignore", v)
	}
	if v := g.Admit(2); v != VerdictIgnore {
		t.Fatalf("replayed seq 2 = %v, want ignore", v)
	}
	if v := g.Admit(3); v != VerdictAccept {
		t.Fatalf("seq 3 = %v, want accept", v)
	}
}

func TestGuardDetectsServerRestart(t *testing.T) {
	g := NewGuard(64)
	g.Admit(100)
	// 大幅回退且曾明显前进 → 服务端重启, 重置水位并接受。
	if v := g.Admit(5); v != VerdictReset {
		t.Fatalf("Admit(5) after 100 = %v, want reset", v)
	}
	if g.LastSeq() != 5 {
		t.Errorf("lastSeq after reset = %d, want 5", g.LastSeq())
	}
	if v := g.Admit(6); v != VerdictAccept {
		t.Errorf("Admit(6) after reset = %v, want accept", v)
	}
}

func TestGuardSmallRegressionIsReplay(t *testing.T) {
	g := NewGuard(64)
	g.Admit(100)
	if v := g.Admit(80); v != VerdictIgnore {
		t.Errorf("regression inside floor = %v, want ignore", v)
	}
}

func TestGuardNoRestartNearZero(t *testing.T) {
	// 水位尚未越过 floor 时, 回退一律按重放处理。
	g := NewGuard(64)
	g.Admit(10)
	if v := g.Admit(1); v != VerdictIgnore {
		t.Errorf("low-water regression = %v, want ignore", v)
	}
}

func TestGuardRebase(t *testing.T) {
	g := NewGuard(64)
	g.Rebase(42)
	if v := g.Admit(42); v != VerdictIgnore {
		t.Errorf("resumed duplicate = %v, want ignore", v)
	}
	if v := g.Admit(43); v != VerdictAccept {
		t.Errorf("next seq = %v, want accept", v)
	}
}
