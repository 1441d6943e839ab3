package engine

import (
	"net/netip"
	"strings"
	"time"

	"github.com/jroosing/nsmesh/internal/wire"
)

// ChatOpen reports whether a chat session is already active, so a
// FindForConnect can be refused while one is open. The loop tells the
// engine this via SetChatOpen.
func (e *Engine) ChatOpen() bool { return e.chatOpen }

// SetChatOpen is called by the loop whenever a chat session opens or
// closes.
func (e *Engine) SetChatOpen(open bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.chatOpen = open
}

// handleCmdFind starts a find sequence.
func (e *Engine) handleCmdFind(target string, mode FindMode, now time.Time) []Effect {
	if e.joinStatus != Joined {
		return []Effect{Notice{Text: "not joined"}}
	}
	if e.findStatus != NotFinding {
		return []Effect{Notice{Text: "a find is already in progress"}}
	}
	if mode == FindForConnect && e.ChatOpen() {
		return []Effect{Notice{Text: "a chat session is already open"}}
	}

	full := target
	if !strings.Contains(full, ".") {
		full = target + "." + e.self.Surname
	}
	e.nameToFind = full
	e.findMode = mode

	if surname(full) == e.self.Surname {
		if c := e.roster.GetByName(full); c != nil {
			return e.reportFound(c.Name, c.IP, c.TalkPort)
		}
		e.findStatus = NotFinding
		e.nameToFind = ""
		return []Effect{Notice{Text: "user not found"}}
	}

	e.findStatus = WaitForFW
	e.armFind(now)
	return []Effect{SendDatagram{To: e.self.SSAddr, Msg: wire.Qry{Name: full}}}
}

// handleFindFw implements the WaitForFW arm of the find sequence.
func (e *Engine) handleFindFw(msg wire.Fw, now time.Time) []Effect {
	if e.findStatus != WaitForFW {
		return []Effect{Warning{Text: "unexpected FW, dropped"}}
	}
	if msg.Empty {
		e.findStatus = NotFinding
		e.nameToFind = ""
		e.disarmFind()
		return []Effect{Notice{Text: "surname unknown"}}
	}
	e.findStatus = WaitForRPL
	e.armFind(now)
	return []Effect{SendDatagram{To: netip.AddrPortFrom(msg.IP, msg.DNSPort), Msg: wire.Qry{Name: e.nameToFind}}}
}

// handleFindRpl implements the WaitForRPL arm of the find sequence.
func (e *Engine) handleFindRpl(msg wire.Rpl) []Effect {
	if e.findStatus != WaitForRPL {
		return []Effect{Warning{Text: "unexpected RPL, dropped"}}
	}
	e.findStatus = NotFinding
	e.disarmFind()
	if msg.Empty {
		e.nameToFind = ""
		return []Effect{Notice{Text: "user not found"}}
	}
	name := e.nameToFind
	e.nameToFind = ""
	return e.reportFound(name, msg.IP, msg.TalkPort)
}

// reportFound implements the shared success action: print on
// FindForFind, dial on FindForConnect.
func (e *Engine) reportFound(name string, ip netip.Addr, talkPort uint16) []Effect {
	if e.findMode == FindForConnect {
		return []Effect{DialChat{Name: name, IP: ip, TalkPort: talkPort}}
	}
	return []Effect{Notice{Text: name + " " + netip.AddrPortFrom(ip, talkPort).String()}}
}
