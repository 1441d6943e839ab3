package engine

import (
	"sync"
	"time"

	"github.com/jroosing/nsmesh/internal/roster"
	"github.com/jroosing/nsmesh/internal/wire"
)

// Engine is the single event-driven state machine that drives the
// join/leave/find protocol. One Engine value is owned by exactly one
// event loop goroutine (internal/loop); nothing else mutates it.
//
// mu exists for exactly one cross-goroutine reader: the admin API
// calls Snapshot from its own goroutine to render
// /api/v1/status and /api/v1/roster. It takes mu for the duration of
// that read. The event-loop goroutine takes the same lock around every
// top-level Handle*/BindSucceeded/BindFailed/ContinueLeaveAfterResolve/
// SetChatOpen call so a snapshot never observes a transition
// mid-flight; none of those entry points call each other, so this
// never nests.
type Engine struct {
	mu sync.Mutex

	self   Self
	roster *roster.Roster

	joinStatus JoinStatus
	findStatus FindStatus
	findMode   FindMode

	oksExpected int

	// candidateNames/candidateIdx implement the GNS-handover cursor.
	// Storing names rather than Roster pointers keeps the cursor a non-owning
	// reference: a removed Contact simply stops matching by name instead
	// of dangling.
	candidateNames []string
	candidateIdx   int

	// nameServerName is empty when unknown, else must name a Roster
	// entry. Never a second owner of the Contact.
	nameServerName string

	nameToFind string
	chatOpen   bool

	// pendingLeaveResolve is set while a leave sequence is waiting on a
	// ResolveNameServer effect before it can decide
	// whether Self is the GNS.
	pendingLeaveResolve bool

	joinLeaveDeadline time.Time
	hasJoinLeaveTimer bool
	findDeadline      time.Time
	hasFindTimer      bool
}

// New returns an Engine in NotJoined state with an empty Roster.
func New(self Self) *Engine {
	return &Engine{
		self:   self,
		roster: roster.New(),
	}
}

// JoinStatus returns the current join-sequence state.
func (e *Engine) JoinStatus() JoinStatus { return e.joinStatus }

// FindStatus returns the current find-sequence state.
func (e *Engine) FindStatus() FindStatus { return e.findStatus }

// JoinStatusLabel and FindStatusLabel satisfy status.Reporter.
func (e *Engine) JoinStatusLabel() string { return e.joinStatus.String() }
func (e *Engine) FindStatusLabel() string { return e.findStatus.String() }

// NameServer returns the name of the family's current GNS and whether it
// is known.
func (e *Engine) NameServer() (string, bool) {
	if e.nameServerName == "" {
		return "", false
	}
	return e.nameServerName, true
}

// Self returns this node's identity.
func (e *Engine) Self() Self { return e.self }

// Roster exposes the family roster for read-only inspection (status
// reporting, the admin API). Callers must not mutate the returned
// Contacts.
func (e *Engine) Roster() []*roster.Contact { return e.roster.All() }

// RosterLen reports the number of known family members, satisfying
// status.Reporter without that package importing internal/engine.
func (e *Engine) RosterLen() int { return e.roster.Len() }

// OksExpected returns the outstanding-acknowledgement counter: it
// equals the count of Roster entries with OKExpected set.
func (e *Engine) OksExpected() int { return e.oksExpected }

// RosterSnapshot is a value copy of one Contact, safe to read from a
// goroutine other than the event loop (the admin API).
type RosterSnapshot struct {
	Name     string
	IP       string
	TalkPort uint16
	DNSPort  uint16
}

// Snapshot is a point-in-time, lock-protected copy of everything the
// admin API reports: it is the one method that package is allowed to
// call, and it never touches a transition.
type Snapshot struct {
	JoinStatus     string
	FindStatus     string
	NameServerName string
	Roster         []RosterSnapshot
}

// Snapshot takes e.mu and copies out the current state. Safe to call
// concurrently with the event loop's Handle*/BindSucceeded/BindFailed/
// ContinueLeaveAfterResolve/SetChatOpen calls, which take the same lock.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	contacts := e.roster.All()
	out := make([]RosterSnapshot, len(contacts))
	for i, c := range contacts {
		out[i] = RosterSnapshot{Name: c.Name, IP: c.IP.String(), TalkPort: c.TalkPort, DNSPort: c.DNSPort}
	}
	return Snapshot{
		JoinStatus:     e.joinStatus.String(),
		FindStatus:     e.findStatus.String(),
		NameServerName: e.nameServerName,
		Roster:         out,
	}
}

// JoinStatusLabel, FindStatusLabel, NameServer and RosterLen let a
// Snapshot value satisfy status.Reporter, so internal/status.Take can
// render a Snapshot from either the owning event-loop goroutine (via
// *Engine directly) or the admin API's goroutine (via this value type,
// which is already a safe, lock-free copy).
func (s Snapshot) JoinStatusLabel() string { return s.JoinStatus }
func (s Snapshot) FindStatusLabel() string { return s.FindStatus }
func (s Snapshot) RosterLen() int          { return len(s.Roster) }

func (s Snapshot) NameServer() (string, bool) {
	if s.NameServerName == "" {
		return "", false
	}
	return s.NameServerName, true
}

// isSelf reports whether name is this node's own identity.
func (e *Engine) isSelf(name string) bool { return name == e.self.Name }

// resolvedNameServer looks the cached name server name up in the Roster,
// re-deriving the invariant "nameServer is either unknown or identical to
// some Roster entry" on every read instead of caching a pointer.
func (e *Engine) resolvedNameServer() (*roster.Contact, bool) {
	if e.nameServerName == "" {
		return nil, false
	}
	c := e.roster.GetByName(e.nameServerName)
	if c == nil {
		// The Roster entry vanished without notifying us; the invariant
		// self-heals back to "unknown" rather than returning a stale
		// name.
		e.nameServerName = ""
		return nil, false
	}
	return c, true
}

// armJoinLeave (re)arms the join/leave sequence timeout.
func (e *Engine) armJoinLeave(now time.Time) {
	e.hasJoinLeaveTimer = true
	e.joinLeaveDeadline = now.Add(SequenceTimeout)
}

func (e *Engine) disarmJoinLeave() {
	e.hasJoinLeaveTimer = false
}

func (e *Engine) armFind(now time.Time) {
	e.hasFindTimer = true
	e.findDeadline = now.Add(SequenceTimeout)
}

func (e *Engine) disarmFind() {
	e.hasFindTimer = false
}

// NextDeadline returns the earliest outstanding sequence deadline, if
// any, so the event loop can size its select timeout.
func (e *Engine) NextDeadline() (time.Time, bool) {
	switch {
	case e.hasJoinLeaveTimer && e.hasFindTimer:
		if e.joinLeaveDeadline.Before(e.findDeadline) {
			return e.joinLeaveDeadline, true
		}
		return e.findDeadline, true
	case e.hasJoinLeaveTimer:
		return e.joinLeaveDeadline, true
	case e.hasFindTimer:
		return e.findDeadline, true
	default:
		return time.Time{}, false
	}
}

// HandleTick checks whether any armed sequence deadline has elapsed as of
// now, and applies the corresponding timeout handling.
func (e *Engine) HandleTick(now time.Time) []Effect {
	e.mu.Lock()
	defer e.mu.Unlock()
	var effects []Effect
	if e.hasJoinLeaveTimer && !now.Before(e.joinLeaveDeadline) {
		e.disarmJoinLeave()
		if e.joinStatus.isJoining() {
			effects = append(effects, e.abortJoin("join sequence timed out")...)
		} else if e.joinStatus.isLeaving() {
			effects = append(effects, e.forceLeaveAbort("leave sequence timed out; remote state may be inconsistent")...)
		}
	}
	if e.hasFindTimer && !now.Before(e.findDeadline) {
		e.disarmFind()
		if e.findStatus != NotFinding {
			e.findStatus = NotFinding
			e.nameToFind = ""
			effects = append(effects, Notice{Text: "find timed out"})
		}
	}
	return effects
}

// HandleSendFailure is called by the loop whenever a SendDatagram effect
// could not actually be sent. It handles transport failure on send
// uniformly across every sequence, plus the REG-reply rollback.
func (e *Engine) HandleSendFailure(eff SendDatagram, now time.Time) []Effect {
	e.mu.Lock()
	defer e.mu.Unlock()
	var effects []Effect
	if eff.RollbackName != "" {
		e.roster.RemoveByName(eff.RollbackName)
		effects = append(effects, Warning{Text: "could not reply to " + eff.RollbackName + ", rolled back registration"})
	}
	switch {
	case e.joinStatus.isJoining():
		effects = append(effects, e.abortJoin("could not send during join")...)
	case e.joinStatus.isLeaving():
		effects = append(effects, e.forceLeaveAbort("could not send during leave")...)
	case e.findStatus != NotFinding:
		e.findStatus = NotFinding
		e.nameToFind = ""
		e.disarmFind()
		effects = append(effects, Notice{Text: "find failed: could not send"})
	}
	return effects
}

// BindSucceeded is called by the loop after a requested BindSocket effect
// completes successfully.
func (e *Engine) BindSucceeded(now time.Time) []Effect {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.joinStatus != WaitForDNS {
		return nil
	}
	e.armJoinLeave(now)
	return []Effect{
		SendDatagram{To: e.self.SSAddr, Msg: regMessage(e.self)},
	}
}

// BindFailed is called by the loop when the requested BindSocket effect
// failed: the whole join is aborted.
func (e *Engine) BindFailed(reason string) []Effect {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.joinStatus = NotJoined
	e.roster.Empty()
	e.disarmJoinLeave()
	return []Effect{Warning{Text: "could not bind directory socket: " + reason}}
}

// regMessage builds the REG datagram a joining node sends about itself,
// whether to the SS, to the GNS, or to another family member.
func regMessage(self Self) wire.Reg {
	return wire.Reg{Name: self.Name, IP: self.IP, TalkPort: self.TalkPort, DNSPort: self.DNSPort}
}
