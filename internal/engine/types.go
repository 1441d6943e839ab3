// Package engine implements the membership and resolution protocol state
// machine: join, leave, find, and simultaneous service of inbound
// directory requests, all multiplexed over one UDP socket.
//
// The Engine never touches a socket. Every exported Handle* method
// consumes one event (a user command, an inbound datagram, or a sequence
// timeout tick) and returns a slice of Effect values describing what the
// caller — internal/loop — should do next: send a datagram, bind or close
// the directory socket, print a notice, or dial a chat peer. Socket
// ownership and state mutation stay cleanly separated so the state
// machine can be driven and tested without any I/O.
package engine

import (
	"fmt"
	"net/netip"
	"strings"
	"time"

	"github.com/jroosing/nsmesh/internal/wire"
)

// JoinStatus is the engine's join-sequence state.
type JoinStatus int

const (
	NotJoined JoinStatus = iota
	WaitForDNS
	WaitForLST
	WaitForOK
	Joined
	LeavingDNS
	LeavingUsers
	SearchingNewDns
	LeavingForGood
)

func (s JoinStatus) String() string {
	switch s {
	case NotJoined:
		return "NotJoined"
	case WaitForDNS:
		return "WaitForDNS"
	case WaitForLST:
		return "WaitForLST"
	case WaitForOK:
		return "WaitForOK"
	case Joined:
		return "Joined"
	case LeavingDNS:
		return "LeavingDNS"
	case LeavingUsers:
		return "LeavingUsers"
	case SearchingNewDns:
		return "SearchingNewDns"
	case LeavingForGood:
		return "LeavingForGood"
	default:
		return fmt.Sprintf("JoinStatus(%d)", int(s))
	}
}

// isLeaving reports whether s is one of the leave-sequence transient
// states (everything between "leave requested" and "NotJoined").
func (s JoinStatus) isLeaving() bool {
	switch s {
	case LeavingDNS, LeavingUsers, SearchingNewDns, LeavingForGood:
		return true
	default:
		return false
	}
}

// isJoining reports whether s is one of the join-sequence transient
// states.
func (s JoinStatus) isJoining() bool {
	switch s {
	case WaitForDNS, WaitForLST, WaitForOK:
		return true
	default:
		return false
	}
}

// FindStatus is the engine's find-sequence state.
type FindStatus int

const (
	NotFinding FindStatus = iota
	WaitForFW
	WaitForRPL
)

func (s FindStatus) String() string {
	switch s {
	case NotFinding:
		return "NotFinding"
	case WaitForFW:
		return "WaitForFW"
	case WaitForRPL:
		return "WaitForRPL"
	default:
		return fmt.Sprintf("FindStatus(%d)", int(s))
	}
}

// FindMode distinguishes a plain lookup from one that should open a chat
// session on success.
type FindMode int

const (
	FindForFind FindMode = iota
	FindForConnect
)

func (m FindMode) String() string {
	if m == FindForConnect {
		return "FindForConnect"
	}
	return "FindForFind"
}

// SequenceTimeout bounds every transient join/leave/find sequence
// (on the order of 10 seconds).
const SequenceTimeout = 10 * time.Second

// Self is this node's immutable identity.
type Self struct {
	Name     string
	Surname  string
	IP       netip.Addr
	TalkPort uint16
	DNSPort  uint16
	SSAddr   netip.AddrPort
}

// NewSelf validates and constructs a Self from a raw full name.
func NewSelf(name string, ip netip.Addr, talkPort, dnsPort uint16, ssAddr netip.AddrPort) (Self, error) {
	if len(name) == 0 || len(name) > 127 {
		return Self{}, fmt.Errorf("name %q must be 1-127 bytes", name)
	}
	idx := strings.IndexByte(name, '.')
	if idx < 0 || strings.IndexByte(name[idx+1:], '.') >= 0 {
		return Self{}, fmt.Errorf("name %q must contain exactly one '.'", name)
	}
	return Self{
		Name:     name,
		Surname:  name[idx+1:],
		IP:       ip,
		TalkPort: talkPort,
		DNSPort:  dnsPort,
		SSAddr:   ssAddr,
	}, nil
}

// Command is a user-issued request into the engine.
type Command interface{ isCommand() }

// CmdJoin starts the join sequence.
type CmdJoin struct{}

// CmdLeave starts the leave sequence.
type CmdLeave struct{}

// CmdFind starts a find sequence for target, in the given mode.
type CmdFind struct {
	Target string
	Mode   FindMode
}

func (CmdJoin) isCommand()  {}
func (CmdLeave) isCommand() {}
func (CmdFind) isCommand()  {}

// Effect is a side effect the Engine asks its caller to perform.
type Effect interface{ isEffect() }

// SendDatagram asks the loop to send Msg to To on the directory socket.
// If RollbackName is non-empty and the send fails, the loop must call
// Engine.HandleSendFailure with this same effect so the engine can undo
// the roster insertion it made in anticipation of the send succeeding
// if the send fails.
type SendDatagram struct {
	To           netip.AddrPort
	Msg          wire.Message
	RollbackName string
}

func (SendDatagram) isEffect() {}

// BindSocket asks the loop to bind the directory UDP socket to
// Self.DNSPort. The loop must report the outcome via Engine.BindSucceeded
// or Engine.BindFailed before processing any further effects from the
// same batch.
type BindSocket struct{}

func (BindSocket) isEffect() {}

// CloseSocket asks the loop to close the directory UDP socket.
type CloseSocket struct{}

func (CloseSocket) isEffect() {}

// ResolveNameServer asks the loop to perform the single synchronous
// recv: send QRY Self.Name to the SS, wait for the FW reply, and report
// the result via Engine.ContinueLeaveAfterResolve.
type ResolveNameServer struct{}

func (ResolveNameServer) isEffect() {}

// DialChat asks the loop to open a chat session to a found contact
// (FindForConnect success).
type DialChat struct {
	Name     string
	IP       netip.Addr
	TalkPort uint16
}

func (DialChat) isEffect() {}

// Notice is a user-visible informational message.
type Notice struct{ Text string }

func (Notice) isEffect() {}

// Warning is a user-visible or log-only diagnostic for recoverable
// protocol errors (malformed messages, unmatched acks).
type Warning struct{ Text string }

func (Warning) isEffect() {}
