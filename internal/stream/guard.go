// guard.go — 序列号去重/续传判定。
package stream

// Verdict is the guard's decision for one sequenced event.
type Verdict int

const (
	// VerdictAccept: new sequence, process and advance the high-water mark.
	VerdictAccept Verdict = iota
	// VerdictIgnore: already processed (reconnect replay), drop silently.
	VerdictIgnore
	// VerdictReset: server-side restart detected, high-water mark rebased
	// and the event processed.
	VerdictReset
)

// Guard tracks the last-seen transport sequence for one thread's stream and
// classifies each incoming sequence. Not safe for concurrent use; each
// subscription's read loop owns its guard.
type Guard struct {
	lastSeq      int64
	restartFloor int64
}

// NewGuard returns a guard with no events seen. restartFloor is the minimum
// regression margin treated as a server restart; values below 1 disable
// restart detection.
func NewGuard(restartFloor int64) *Guard {
	return &Guard{restartFloor: restartFloor}
}

// Admit decides the fate of an event carrying seq.
//
// A sequence at or below the high-water mark is normally a replayed
// duplicate. But if the stream had advanced well past zero and the new
// sequence regresses by at least the restart floor, the server has restarted
// its counter; keeping the old mark would silently discard every future
// event, so the mark is rebased instead.
func (g *Guard) Admit(seq int64) Verdict {
	if seq <= g.lastSeq {
		if g.restartFloor > 0 && g.lastSeq >= g.restartFloor && g.lastSeq-seq >= g.restartFloor {
			g.lastSeq = seq
			return VerdictReset
		}
		return VerdictIgnore
	}
	g.lastSeq = seq
	return VerdictAccept
}

// LastSeq returns the current high-water mark, used as the resume point on
// reconnect.
func (g *Guard) LastSeq() int64 { return g.lastSeq }

// Rebase restores a previously recorded high-water mark (session-lifetime
// resume memory).
func (g *Guard) Rebase(seq int64) {
	if seq > 0 {
		g.lastSeq = seq
	}
}
