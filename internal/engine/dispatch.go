package engine

import (
	"net/netip"
	"time"

	"github.com/jroosing/nsmesh/internal/wire"
)

// HandleCommand consumes one user-issued command.
func (e *Engine) HandleCommand(cmd Command, now time.Time) []Effect {
	e.mu.Lock()
	defer e.mu.Unlock()
	switch c := cmd.(type) {
	case CmdJoin:
		return e.handleCmdJoin(now)
	case CmdLeave:
		return e.handleCmdLeave(now)
	case CmdFind:
		return e.handleCmdFind(c.Target, c.Mode, now)
	default:
		return nil
	}
}

// HandleDatagram consumes one inbound directory-socket datagram. It
// decodes raw, then routes by message kind and current engine state:
// QRY/REG/UNR are always served independently of any sequence in
// flight; DNS/LST/OK/NOK/FW/RPL are routed to whichever sequence is
// expecting them, falling back to the "served" path or an
// unmatched-and-dropped Warning.
func (e *Engine) HandleDatagram(from netip.AddrPort, raw []byte, now time.Time) []Effect {
	e.mu.Lock()
	defer e.mu.Unlock()
	msg, err := wire.Decode(raw)
	if err != nil {
		return []Effect{Warning{Text: "malformed datagram from " + from.String() + ": " + err.Error()}}
	}

	switch m := msg.(type) {
	case wire.Qry:
		return e.handleQry(from, m)
	case wire.Reg:
		return e.handleReg(from, m)
	case wire.Unr:
		return e.handleUnr(from, m)
	case wire.Dns:
		if e.joinStatus == WaitForDNS {
			return e.handleJoinDns(m, now)
		}
		return e.handleDnsPromotion(from, m)
	case wire.Lst:
		return e.handleJoinLst(m, now)
	case wire.Ok:
		switch {
		case e.joinStatus == WaitForOK:
			return e.handleJoinOk(from)
		case e.joinStatus == LeavingDNS, e.joinStatus == LeavingUsers, e.joinStatus == SearchingNewDns:
			return e.handleLeaveOk(from, now)
		default:
			return []Effect{Warning{Text: "unexpected OK from " + from.String() + ", dropped"}}
		}
	case wire.Nok:
		if e.joinStatus == SearchingNewDns {
			return e.handleLeaveNok(now)
		}
		return []Effect{Warning{Text: "unexpected NOK from " + from.String() + ", dropped"}}
	case wire.Fw:
		return e.handleFindFw(m, now)
	case wire.Rpl:
		return e.handleFindRpl(m)
	default:
		return []Effect{Warning{Text: "unhandled message type from " + from.String()}}
	}
}
