package engine

import (
	"net/netip"
	"time"

	"github.com/jroosing/nsmesh/internal/roster"
	"github.com/jroosing/nsmesh/internal/wire"
)

// handleCmdLeave starts the leave sequence.
func (e *Engine) handleCmdLeave(now time.Time) []Effect {
	if e.joinStatus != Joined {
		return []Effect{Notice{Text: "not joined"}}
	}
	e.oksExpected = 0

	if e.roster.HasExactlyOne() {
		e.joinStatus = LeavingDNS
		e.oksExpected = 1
		e.armJoinLeave(now)
		return []Effect{SendDatagram{To: e.self.SSAddr, Msg: wire.Unr{Name: e.self.Name}}}
	}

	gns, effects := e.resolveGNSForLeave(now)
	if effects != nil {
		return effects
	}
	return e.beginLeavingUsers(gns, now)
}

// resolveGNSForLeave performs the getNameServer() call, inline for the
// common case where nameServer is already known. If it is not known, it
// asks the loop to resolve it asynchronously (ResolveNameServer) and
// leave continues from ContinueLeaveAfterResolve.
func (e *Engine) resolveGNSForLeave(now time.Time) (*roster.Contact, []Effect) {
	if c, ok := e.resolvedNameServer(); ok {
		return c, nil
	}
	e.pendingLeaveResolve = true
	return nil, []Effect{ResolveNameServer{}}
}

// beginLeavingUsers implements the remainder of the multi-member leave
// case: broadcast UNR to the family and move to LeavingUsers.
func (e *Engine) beginLeavingUsers(gns *roster.Contact, now time.Time) []Effect {
	var effects []Effect
	selfIsGNS := gns == nil || gns.Name == e.self.Name

	if !selfIsGNS {
		gns.OKExpected = true
		e.oksExpected++
		effects = append(effects, SendDatagram{To: netip.AddrPortFrom(gns.IP, gns.DNSPort), Msg: wire.Unr{Name: e.self.Name}})
	}

	e.roster.Iterate(func(c *roster.Contact) {
		if c.Name == e.self.Name {
			return
		}
		if !selfIsGNS && gns != nil && c.Name == gns.Name {
			return
		}
		c.OKExpected = true
		e.oksExpected++
		effects = append(effects, SendDatagram{To: netip.AddrPortFrom(c.IP, c.DNSPort), Msg: wire.Unr{Name: e.self.Name}})
	})

	e.joinStatus = LeavingUsers
	e.armJoinLeave(now)
	return effects
}

// ContinueLeaveAfterResolve is the loop's callback once a requested
// ResolveNameServer effect completes. found is false when the SS
// reports the family is now empty from its perspective.
func (e *Engine) ContinueLeaveAfterResolve(name string, found bool, now time.Time) []Effect {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.pendingLeaveResolve {
		return nil
	}
	e.pendingLeaveResolve = false
	if !found {
		e.nameServerName = ""
		return e.beginLeavingUsers(nil, now)
	}
	gns := e.roster.GetByName(name)
	if gns == nil {
		e.nameServerName = ""
		return e.beginLeavingUsers(nil, now)
	}
	e.nameServerName = name
	return e.beginLeavingUsers(gns, now)
}

// handleLeaveOk implements the LeavingUsers/SearchingNewDns success
// arms of the leave continuation.
func (e *Engine) handleLeaveOk(from netip.AddrPort, now time.Time) []Effect {
	switch e.joinStatus {
	case LeavingDNS:
		// Only reachable via the sole-member leave path, whose single
		// outstanding ack is the SS confirming our UNR.
		if from != e.self.SSAddr || e.oksExpected == 0 {
			return []Effect{Warning{Text: "unmatched OK during leave, dropped"}}
		}
		e.oksExpected--
		if e.oksExpected > 0 {
			return nil
		}
		return e.continueLeave(now)
	case LeavingUsers:
		c := e.roster.GetByPeerAddress(from)
		if c == nil || !c.OKExpected {
			return []Effect{Warning{Text: "unmatched OK during leave, dropped"}}
		}
		c.OKExpected = false
		e.oksExpected--
		if e.oksExpected > 0 {
			return nil
		}
		e.joinStatus = LeavingDNS
		return e.continueLeave(now)
	case SearchingNewDns:
		candidate := e.currentCandidate()
		if candidate == nil {
			return e.continueLeave(now)
		}
		effects := []Effect{SendDatagram{To: e.self.SSAddr, Msg: wire.Dns{Name: candidate.Name, IP: candidate.IP, DNSPort: candidate.DNSPort}}}
		e.nameServerName = ""
		e.clearCandidateCursor()
		e.joinStatus = LeavingForGood
		effects = append(effects, e.continueLeave(now)...)
		return effects
	default:
		return []Effect{Warning{Text: "unexpected OK, dropped"}}
	}
}

// handleLeaveNok implements the SearchingNewDns rejection arm: advance
// the candidate cursor and try the next one.
func (e *Engine) handleLeaveNok(now time.Time) []Effect {
	if e.joinStatus != SearchingNewDns {
		return []Effect{Warning{Text: "unexpected NOK, dropped"}}
	}
	e.candidateIdx++
	if c := e.currentCandidate(); c != nil {
		return []Effect{SendDatagram{To: netip.AddrPortFrom(c.IP, c.DNSPort),
			Msg: wire.Dns{Name: c.Name, IP: c.IP, DNSPort: c.DNSPort}}}
	}
	e.joinStatus = LeavingForGood
	return e.continueLeave(now)
}

// continueLeave drives the cascading, non-exclusive leave-state
// transitions: a single call may fall through several states in one
// pass, using a sequence of plain `if` blocks rather than an `else if`
// chain so each state's exit condition stays independently readable.
func (e *Engine) continueLeave(now time.Time) []Effect {
	var effects []Effect

	if e.joinStatus == LeavingDNS {
		name, _ := e.NameServer()
		if !e.isSelf(name) {
			e.joinStatus = LeavingForGood
		} else {
			candidate := e.initCandidateCursor()
			if candidate == nil {
				e.joinStatus = LeavingForGood
			} else {
				effects = append(effects, SendDatagram{To: netip.AddrPortFrom(candidate.IP, candidate.DNSPort),
					Msg: wire.Dns{Name: candidate.Name, IP: candidate.IP, DNSPort: candidate.DNSPort}})
				e.joinStatus = SearchingNewDns
			}
		}
	}

	if e.joinStatus == LeavingForGood {
		e.clearCandidateCursor()
		e.roster.Empty()
		e.nameServerName = ""
		e.oksExpected = 0
		e.joinStatus = NotJoined
		e.disarmJoinLeave()
		effects = append(effects, CloseSocket{}, Notice{Text: "left successfully"})
	}

	return effects
}

// forceLeaveAbort handles a leave-sequence timeout: force the Roster
// empty and the socket closed regardless of how far leave had
// progressed.
func (e *Engine) forceLeaveAbort(reason string) []Effect {
	e.clearCandidateCursor()
	e.roster.Empty()
	e.nameServerName = ""
	e.oksExpected = 0
	e.joinStatus = NotJoined
	e.disarmJoinLeave()
	return []Effect{Warning{Text: reason}, CloseSocket{}}
}

// initCandidateCursor initialises the successor cursor to the first
// Roster entry other than Self.
func (e *Engine) initCandidateCursor() *roster.Contact {
	e.candidateNames = nil
	e.roster.Iterate(func(c *roster.Contact) {
		if c.Name != e.self.Name {
			e.candidateNames = append(e.candidateNames, c.Name)
		}
	})
	e.candidateIdx = 0
	return e.currentCandidate()
}

// currentCandidate re-resolves the cursor's name against the live
// Roster on every read: a non-owning reference.
func (e *Engine) currentCandidate() *roster.Contact {
	for e.candidateIdx < len(e.candidateNames) {
		if c := e.roster.GetByName(e.candidateNames[e.candidateIdx]); c != nil {
			return c
		}
		e.candidateIdx++
	}
	return nil
}

func (e *Engine) clearCandidateCursor() {
	e.candidateNames = nil
	e.candidateIdx = 0
}

// advanceCandidateCursorPast advances the candidate cursor past name if
// it is currently being probed as a GNS successor candidate. The cursor
// must move before the Contact is actually removed from the Roster by
// the caller.
func (e *Engine) advanceCandidateCursorPast(name string) {
	if e.joinStatus != SearchingNewDns {
		return
	}
	if c := e.currentCandidate(); c != nil && c.Name == name {
		e.candidateIdx++
	}
}
