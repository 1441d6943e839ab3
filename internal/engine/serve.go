package engine

import (
	"net/netip"
	"strings"

	"github.com/jroosing/nsmesh/internal/roster"
	"github.com/jroosing/nsmesh/internal/wire"
)

// handleQry answers a name lookup from the local Roster regardless of
// join/find state.
func (e *Engine) handleQry(from netip.AddrPort, msg wire.Qry) []Effect {
	c := e.roster.GetByName(msg.Name)
	if c == nil {
		return []Effect{SendDatagram{To: from, Msg: wire.Rpl{Empty: true}}}
	}
	return []Effect{SendDatagram{To: from, Msg: wire.Rpl{Name: c.Name, IP: c.IP, TalkPort: c.TalkPort}}}
}

// handleReg admits a new family member, refusing a name already taken.
func (e *Engine) handleReg(from netip.AddrPort, msg wire.Reg) []Effect {
	if surname(msg.Name) != e.self.Surname {
		reason := "You do not have my surname (" + e.self.Surname + ")"
		return []Effect{SendDatagram{To: from, Msg: wire.Nok{Reason: reason}}}
	}

	duplicate := e.roster.GetByName(msg.Name) != nil
	if !duplicate {
		e.roster.Add(&roster.Contact{Name: msg.Name, IP: msg.IP, TalkPort: msg.TalkPort, DNSPort: msg.DNSPort})
	}

	if name, ok := e.NameServer(); ok && e.isSelf(name) {
		if duplicate {
			return []Effect{SendDatagram{To: from, Msg: wire.Lst{}}}
		}
		return []Effect{SendDatagram{To: from, Msg: e.rosterDump(), RollbackName: msg.Name}}
	}
	if duplicate {
		return []Effect{SendDatagram{To: from, Msg: wire.Ok{}}}
	}
	return []Effect{SendDatagram{To: from, Msg: wire.Ok{}, RollbackName: msg.Name}}
}

// rosterDump renders the full Roster as an Lst message.
func (e *Engine) rosterDump() wire.Lst {
	var lst wire.Lst
	e.roster.Iterate(func(c *roster.Contact) {
		lst.Contacts = append(lst.Contacts, wire.ListContact{Name: c.Name, IP: c.IP, TalkPort: c.TalkPort, DNSPort: c.DNSPort})
	})
	return lst
}

// handleUnr removes a departing contact from the Roster.
func (e *Engine) handleUnr(from netip.AddrPort, msg wire.Unr) []Effect {
	if name, ok := e.NameServer(); ok && name == msg.Name {
		e.nameServerName = ""
	}
	e.advanceCandidateCursorPast(msg.Name)
	e.roster.RemoveByName(msg.Name)
	return []Effect{SendDatagram{To: from, Msg: wire.Ok{}}}
}

// handleDnsPromotion handles a leaving GNS naming this node as its
// successor. Only reachable when joinStatus != WaitForDNS (the
// dispatcher routes the WaitForDNS case to handleJoinDns instead).
func (e *Engine) handleDnsPromotion(from netip.AddrPort, msg wire.Dns) []Effect {
	if e.joinStatus.isLeaving() || msg.Name != e.self.Name {
		return []Effect{SendDatagram{To: from, Msg: wire.Nok{Reason: "not accepting promotion"}}}
	}
	self := e.roster.GetByName(e.self.Name)
	if self == nil {
		self = &roster.Contact{Name: e.self.Name, IP: e.self.IP, TalkPort: e.self.TalkPort, DNSPort: e.self.DNSPort}
		e.roster.Add(self)
	}
	e.nameServerName = self.Name
	return []Effect{SendDatagram{To: from, Msg: wire.Ok{}}}
}

func surname(fullName string) string {
	_, s, found := strings.Cut(fullName, ".")
	if !found {
		return ""
	}
	return s
}
