package engine

import (
	"net/netip"
	"time"

	"github.com/jroosing/nsmesh/internal/roster"
	"github.com/jroosing/nsmesh/internal/wire"
)

// handleCmdJoin starts the join sequence.
func (e *Engine) handleCmdJoin(now time.Time) []Effect {
	if e.joinStatus != NotJoined {
		if e.joinStatus == Joined {
			name, _ := e.NameServer()
			return []Effect{Notice{Text: "already joined, GNS is " + name}}
		}
		return []Effect{Notice{Text: "join already in progress"}}
	}
	e.joinStatus = WaitForDNS
	return []Effect{BindSocket{}}
}

// abortJoin closes the socket, empties the Roster, and goes back to
// NotJoined, and — if this node had already been adopted as GNS by the
// SS — sends a best-effort UNR first.
func (e *Engine) abortJoin(reason string) []Effect {
	effects := []Effect{Warning{Text: "join aborted: " + reason}}
	if name, ok := e.NameServer(); ok && e.isSelf(name) && e.joinStatus >= WaitForDNS {
		effects = append(effects, SendDatagram{To: e.self.SSAddr, Msg: wire.Unr{Name: e.self.Name}})
	}
	e.joinStatus = NotJoined
	e.roster.Empty()
	e.nameServerName = ""
	e.oksExpected = 0
	e.disarmJoinLeave()
	effects = append(effects, CloseSocket{})
	return effects
}

// handleJoinDns handles the SS's answer naming the family's current
// GNS.
func (e *Engine) handleJoinDns(msg wire.Dns, now time.Time) []Effect {
	e.roster.Add(&roster.Contact{Name: msg.Name, IP: msg.IP, DNSPort: msg.DNSPort})
	e.nameServerName = msg.Name

	if e.isSelf(msg.Name) {
		if c := e.roster.GetByName(msg.Name); c != nil {
			c.TalkPort = e.self.TalkPort
		}
		e.joinStatus = Joined
		e.disarmJoinLeave()
		return []Effect{Notice{Text: "joined: new family, you are the GNS"}}
	}

	e.roster.Add(&roster.Contact{
		Name: e.self.Name, IP: e.self.IP, TalkPort: e.self.TalkPort, DNSPort: e.self.DNSPort,
	})
	gns := e.roster.GetByName(msg.Name)
	e.joinStatus = WaitForLST
	e.armJoinLeave(now)
	return []Effect{SendDatagram{To: netip.AddrPortFrom(gns.IP, gns.DNSPort), Msg: regMessage(e.self)}}
}

// handleJoinLst handles the GNS's roster dump in response to a REG.
func (e *Engine) handleJoinLst(msg wire.Lst, now time.Time) []Effect {
	if e.joinStatus != WaitForLST {
		return []Effect{Warning{Text: "unexpected LST, dropped"}}
	}
	if len(msg.Contacts) == 0 {
		effects := e.abortJoin("name already in use")
		return append([]Effect{Notice{Text: "name already in use"}}, effects...)
	}

	gnsName, _ := e.NameServer()
	var effects []Effect
	e.oksExpected = 0
	for _, lc := range msg.Contacts {
		if lc.Name == e.self.Name {
			continue
		}
		if lc.Name == gnsName {
			if c := e.roster.GetByName(gnsName); c != nil {
				c.TalkPort = lc.TalkPort
			}
			continue
		}
		c := &roster.Contact{Name: lc.Name, IP: lc.IP, TalkPort: lc.TalkPort, DNSPort: lc.DNSPort, OKExpected: true}
		e.roster.Add(c)
		e.oksExpected++
		effects = append(effects, SendDatagram{
			To:           netip.AddrPortFrom(lc.IP, lc.DNSPort),
			Msg:          regMessage(e.self),
			RollbackName: lc.Name,
		})
	}

	if e.oksExpected == 0 {
		e.joinStatus = Joined
		e.disarmJoinLeave()
		effects = append(effects, Notice{Text: "joined"})
	} else {
		e.joinStatus = WaitForOK
		e.armJoinLeave(now)
	}
	return effects
}

// handleJoinOk handles one acknowledgement during the fan-out REG
// broadcast that follows a roster dump.
func (e *Engine) handleJoinOk(from netip.AddrPort) []Effect {
	c := e.roster.GetByPeerAddress(from)
	if c == nil || !c.OKExpected {
		return []Effect{Warning{Text: "unmatched OK from " + from.String() + ", dropped"}}
	}
	c.OKExpected = false
	e.oksExpected--
	if e.oksExpected <= 0 {
		e.oksExpected = 0
		e.joinStatus = Joined
		e.disarmJoinLeave()
		return []Effect{Notice{Text: "joined"}}
	}
	return nil
}
