package engine

import (
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jroosing/nsmesh/internal/wire"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func newSelf(t *testing.T, name string, talkPort, dnsPort uint16) Self {
	t.Helper()
	self, err := NewSelf(name, netip.MustParseAddr("10.0.0.1"), talkPort, dnsPort,
		netip.MustParseAddrPort("10.0.0.99:9000"))
	require.NoError(t, err)
	return self
}

func TestJoinNewFamilyBecomesSoleGNS(t *testing.T) {
	e := New(newSelf(t, "alice.stark", 30000, 30001))

	effects := e.HandleCommand(CmdJoin{}, epoch)
	require.Equal(t, []Effect{BindSocket{}}, effects)
	require.Equal(t, WaitForDNS, e.JoinStatus())

	effects = e.BindSucceeded(epoch)
	require.Len(t, effects, 1)
	send, ok := effects[0].(SendDatagram)
	require.True(t, ok)
	assert.Equal(t, wire.Reg{Name: "alice.stark", IP: e.Self().IP, TalkPort: 30000, DNSPort: 30001}, send.Msg)

	effects = e.HandleDatagram(e.self.SSAddr, wire.Encode(wire.Dns{Name: "alice.stark", IP: e.Self().IP, DNSPort: 30001}), epoch)
	require.Equal(t, Joined, e.JoinStatus())
	require.Len(t, effects, 1)
	_, ok = effects[0].(Notice)
	assert.True(t, ok)

	name, known := e.NameServer()
	assert.True(t, known)
	assert.Equal(t, "alice.stark", name)
	assert.Equal(t, 1, e.roster.Len())
}

func TestJoinExistingFamilyFlowsThroughListAndOk(t *testing.T) {
	e := New(newSelf(t, "bob.stark", 31000, 31001))
	e.HandleCommand(CmdJoin{}, epoch)
	e.BindSucceeded(epoch)

	gnsAddr := netip.MustParseAddr("10.0.0.5")
	effects := e.HandleDatagram(e.self.SSAddr, wire.Encode(wire.Dns{Name: "alice.stark", IP: gnsAddr, DNSPort: 40000}), epoch)
	require.Equal(t, WaitForLST, e.JoinStatus())
	require.Len(t, effects, 1)
	send := effects[0].(SendDatagram)
	assert.Equal(t, netip.AddrPortFrom(gnsAddr, 40000), send.To)

	gnsFrom := netip.AddrPortFrom(gnsAddr, 40000)
	carolAddr := netip.MustParseAddr("10.0.0.6")
	lst := wire.Lst{Contacts: []wire.ListContact{
		{Name: "alice.stark", IP: gnsAddr, TalkPort: 40001, DNSPort: 40000},
		{Name: "carol.stark", IP: carolAddr, TalkPort: 41001, DNSPort: 41000},
	}}
	effects = e.HandleDatagram(gnsFrom, wire.Encode(lst), epoch)
	require.Equal(t, WaitForOK, e.JoinStatus())
	require.Len(t, effects, 1)
	regEff := effects[0].(SendDatagram)
	assert.Equal(t, netip.AddrPortFrom(carolAddr, 41000), regEff.To)
	assert.Equal(t, 1, e.OksExpected())

	effects = e.HandleDatagram(netip.AddrPortFrom(carolAddr, 41000), wire.Encode(wire.Ok{}), epoch)
	assert.Equal(t, Joined, e.JoinStatus())
	require.Len(t, effects, 1)
	_, ok := effects[0].(Notice)
	assert.True(t, ok)
}

func TestJoinRefusedOnNameCollisionEmptyLst(t *testing.T) {
	e := New(newSelf(t, "bob.stark", 31000, 31001))
	e.HandleCommand(CmdJoin{}, epoch)
	e.BindSucceeded(epoch)
	gnsAddr := netip.MustParseAddr("10.0.0.5")
	e.HandleDatagram(e.self.SSAddr, wire.Encode(wire.Dns{Name: "alice.stark", IP: gnsAddr, DNSPort: 40000}), epoch)

	effects := e.HandleDatagram(netip.AddrPortFrom(gnsAddr, 40000), wire.Encode(wire.Lst{}), epoch)
	assert.Equal(t, NotJoined, e.JoinStatus())
	assert.Equal(t, 0, e.roster.Len())

	var sawClose bool
	for _, eff := range effects {
		if _, ok := eff.(CloseSocket); ok {
			sawClose = true
		}
	}
	assert.True(t, sawClose)
}

func TestJoinRefusedWhenAlreadyJoined(t *testing.T) {
	e := New(newSelf(t, "alice.stark", 30000, 30001))
	e.HandleCommand(CmdJoin{}, epoch)
	e.BindSucceeded(epoch)
	e.HandleDatagram(e.self.SSAddr, wire.Encode(wire.Dns{Name: "alice.stark", IP: e.Self().IP, DNSPort: 30001}), epoch)
	require.Equal(t, Joined, e.JoinStatus())

	effects := e.HandleCommand(CmdJoin{}, epoch)
	require.Len(t, effects, 1)
	notice := effects[0].(Notice)
	assert.Contains(t, notice.Text, "alice.stark")
}

func joinAsSoleMember(t *testing.T, name string, talkPort, dnsPort uint16) *Engine {
	t.Helper()
	e := New(newSelf(t, name, talkPort, dnsPort))
	e.HandleCommand(CmdJoin{}, epoch)
	e.BindSucceeded(epoch)
	e.HandleDatagram(e.self.SSAddr, wire.Encode(wire.Dns{Name: name, IP: e.Self().IP, DNSPort: dnsPort}), epoch)
	require.Equal(t, Joined, e.JoinStatus())
	return e
}

func TestServeQryFoundAndNotFound(t *testing.T) {
	e := joinAsSoleMember(t, "alice.stark", 30000, 30001)
	from := netip.MustParseAddrPort("10.0.0.50:9999")

	effects := e.HandleDatagram(from, wire.Encode(wire.Qry{Name: "alice.stark"}), epoch)
	require.Len(t, effects, 1)
	send := effects[0].(SendDatagram)
	assert.Equal(t, wire.Rpl{Name: "alice.stark", IP: e.Self().IP, TalkPort: 30000}, send.Msg)

	effects = e.HandleDatagram(from, wire.Encode(wire.Qry{Name: "nobody.stark"}), epoch)
	require.Len(t, effects, 1)
	send = effects[0].(SendDatagram)
	assert.Equal(t, wire.Rpl{Empty: true}, send.Msg)
}

func TestServeRegWrongSurnameRejected(t *testing.T) {
	e := joinAsSoleMember(t, "alice.stark", 30000, 30001)
	from := netip.MustParseAddrPort("10.0.0.50:9999")

	effects := e.HandleDatagram(from, wire.Encode(wire.Reg{Name: "dave.lannister", IP: netip.MustParseAddr("10.0.0.50"), TalkPort: 1, DNSPort: 1}), epoch)
	require.Len(t, effects, 1)
	send := effects[0].(SendDatagram)
	nok, ok := send.Msg.(wire.Nok)
	require.True(t, ok)
	assert.Contains(t, nok.Reason, "stark")
	assert.Nil(t, e.roster.GetByName("dave.lannister"))
}

func TestServeRegAsGnsRepliesWithRosterDump(t *testing.T) {
	e := joinAsSoleMember(t, "alice.stark", 30000, 30001)
	from := netip.MustParseAddrPort("10.0.0.50:40000")

	effects := e.HandleDatagram(from, wire.Encode(wire.Reg{Name: "carol.stark", IP: netip.MustParseAddr("10.0.0.50"), TalkPort: 1, DNSPort: 40000}), epoch)
	require.Len(t, effects, 1)
	send := effects[0].(SendDatagram)
	lst, ok := send.Msg.(wire.Lst)
	require.True(t, ok)
	require.Len(t, lst.Contacts, 2)
	assert.Equal(t, "carol.stark", send.RollbackName)
	assert.NotNil(t, e.roster.GetByName("carol.stark"))
}

func TestServeUnrRemovesContactAndReplies(t *testing.T) {
	e := joinAsSoleMember(t, "alice.stark", 30000, 30001)
	from := netip.MustParseAddrPort("10.0.0.50:40000")
	e.HandleDatagram(from, wire.Encode(wire.Reg{Name: "carol.stark", IP: netip.MustParseAddr("10.0.0.50"), TalkPort: 1, DNSPort: 40000}), epoch)
	require.NotNil(t, e.roster.GetByName("carol.stark"))

	effects := e.HandleDatagram(from, wire.Encode(wire.Unr{Name: "carol.stark"}), epoch)
	require.Len(t, effects, 1)
	_, ok := effects[0].(SendDatagram)
	assert.True(t, ok)
	assert.Nil(t, e.roster.GetByName("carol.stark"))
}

func TestLeaveSoleMemberGoesThroughLeavingDns(t *testing.T) {
	e := joinAsSoleMember(t, "alice.stark", 30000, 30001)

	effects := e.HandleCommand(CmdLeave{}, epoch)
	require.Len(t, effects, 1)
	send := effects[0].(SendDatagram)
	assert.Equal(t, e.self.SSAddr, send.To)
	assert.Equal(t, wire.Unr{Name: "alice.stark"}, send.Msg)
	assert.Equal(t, LeavingDNS, e.JoinStatus())

	effects = e.HandleDatagram(e.self.SSAddr, wire.Encode(wire.Ok{}), epoch)
	assert.Equal(t, NotJoined, e.JoinStatus())
	var sawNotice bool
	for _, eff := range effects {
		if n, ok := eff.(Notice); ok && n.Text == "left successfully" {
			sawNotice = true
		}
	}
	assert.True(t, sawNotice)
}

func TestLeaveTimeoutForcesNotJoined(t *testing.T) {
	e := joinAsSoleMember(t, "alice.stark", 30000, 30001)
	e.HandleCommand(CmdLeave{}, epoch)
	require.Equal(t, LeavingDNS, e.JoinStatus())

	effects := e.HandleTick(epoch.Add(SequenceTimeout + time.Second))
	assert.Equal(t, NotJoined, e.JoinStatus())
	var sawWarning bool
	for _, eff := range effects {
		if _, ok := eff.(Warning); ok {
			sawWarning = true
		}
	}
	assert.True(t, sawWarning)
}

func TestFindSameFamilyFoundAndNotFound(t *testing.T) {
	e := joinAsSoleMember(t, "alice.stark", 30000, 30001)
	from := netip.MustParseAddrPort("10.0.0.50:40000")
	e.HandleDatagram(from, wire.Encode(wire.Reg{Name: "carol.stark", IP: netip.MustParseAddr("10.0.0.50"), TalkPort: 5000, DNSPort: 40000}), epoch)

	effects := e.HandleCommand(CmdFind{Target: "carol.stark", Mode: FindForFind}, epoch)
	require.Len(t, effects, 1)
	notice := effects[0].(Notice)
	assert.Contains(t, notice.Text, "carol.stark")
	assert.Equal(t, NotFinding, e.FindStatus())

	effects = e.HandleCommand(CmdFind{Target: "nobody.stark", Mode: FindForFind}, epoch)
	require.Len(t, effects, 1)
	notice = effects[0].(Notice)
	assert.Contains(t, notice.Text, "not found")
}

func TestFindCrossFamilySucceedsViaFwAndRpl(t *testing.T) {
	e := joinAsSoleMember(t, "alice.stark", 30000, 30001)

	effects := e.HandleCommand(CmdFind{Target: "dave.lannister", Mode: FindForFind}, epoch)
	require.Len(t, effects, 1)
	send := effects[0].(SendDatagram)
	assert.Equal(t, e.self.SSAddr, send.To)
	assert.Equal(t, WaitForFW, e.FindStatus())

	authAddr := netip.MustParseAddr("10.5.0.1")
	effects = e.HandleDatagram(e.self.SSAddr, wire.Encode(wire.Fw{Name: "dave.lannister", IP: authAddr, DNSPort: 50000}), epoch)
	require.Len(t, effects, 1)
	send = effects[0].(SendDatagram)
	assert.Equal(t, netip.AddrPortFrom(authAddr, 50000), send.To)
	assert.Equal(t, WaitForRPL, e.FindStatus())

	effects = e.HandleDatagram(netip.AddrPortFrom(authAddr, 50000), wire.Encode(wire.Rpl{Name: "dave.lannister", IP: netip.MustParseAddr("10.5.0.2"), TalkPort: 6000}), epoch)
	require.Len(t, effects, 1)
	notice := effects[0].(Notice)
	assert.Contains(t, notice.Text, "dave.lannister")
	assert.Equal(t, NotFinding, e.FindStatus())
}

func TestFindForConnectDialsOnSuccess(t *testing.T) {
	e := joinAsSoleMember(t, "alice.stark", 30000, 30001)
	from := netip.MustParseAddrPort("10.0.0.50:40000")
	e.HandleDatagram(from, wire.Encode(wire.Reg{Name: "carol.stark", IP: netip.MustParseAddr("10.0.0.50"), TalkPort: 5000, DNSPort: 40000}), epoch)

	effects := e.HandleCommand(CmdFind{Target: "carol.stark", Mode: FindForConnect}, epoch)
	require.Len(t, effects, 1)
	dial, ok := effects[0].(DialChat)
	require.True(t, ok)
	assert.Equal(t, "carol.stark", dial.Name)
}

func TestFindForConnectRefusedWhenChatOpen(t *testing.T) {
	e := joinAsSoleMember(t, "alice.stark", 30000, 30001)
	e.SetChatOpen(true)

	effects := e.HandleCommand(CmdFind{Target: "carol.stark", Mode: FindForConnect}, epoch)
	require.Len(t, effects, 1)
	notice := effects[0].(Notice)
	assert.Contains(t, notice.Text, "already open")
}

func TestFindTimeoutReportsAndResets(t *testing.T) {
	e := joinAsSoleMember(t, "alice.stark", 30000, 30001)
	e.HandleCommand(CmdFind{Target: "dave.lannister", Mode: FindForFind}, epoch)
	require.Equal(t, WaitForFW, e.FindStatus())

	effects := e.HandleTick(epoch.Add(SequenceTimeout + time.Second))
	assert.Equal(t, NotFinding, e.FindStatus())
	require.Len(t, effects, 1)
	notice := effects[0].(Notice)
	assert.Contains(t, notice.Text, "timed out")
}

func TestMalformedDatagramWarnsWithoutPanicking(t *testing.T) {
	e := joinAsSoleMember(t, "alice.stark", 30000, 30001)
	from := netip.MustParseAddrPort("10.0.0.50:9999")

	effects := e.HandleDatagram(from, []byte("BOGUS"), epoch)
	require.Len(t, effects, 1)
	_, ok := effects[0].(Warning)
	assert.True(t, ok)
}

func TestUnmatchedOkIsDroppedWithWarning(t *testing.T) {
	e := joinAsSoleMember(t, "alice.stark", 30000, 30001)
	from := netip.MustParseAddrPort("10.0.0.99:9999")

	effects := e.HandleDatagram(from, wire.Encode(wire.Ok{}), epoch)
	require.Len(t, effects, 1)
	_, ok := effects[0].(Warning)
	assert.True(t, ok)
}

// joinThreeMemberFamily builds alice as the sole founding GNS, then
// registers bob and carol so the family has three members with alice
// still serving as name server.
func joinThreeMemberFamily(t *testing.T) (e *Engine, bobAddr, carolAddr netip.AddrPort) {
	t.Helper()
	e = joinAsSoleMember(t, "alice.stark", 30000, 30001)

	bobAddr = netip.MustParseAddrPort("10.0.0.10:31001")
	e.HandleDatagram(bobAddr, wire.Encode(wire.Reg{Name: "bob.stark", IP: bobAddr.Addr(), TalkPort: 31000, DNSPort: 31001}), epoch)
	require.NotNil(t, e.roster.GetByName("bob.stark"))

	carolAddr = netip.MustParseAddrPort("10.0.0.11:32001")
	e.HandleDatagram(carolAddr, wire.Encode(wire.Reg{Name: "carol.stark", IP: carolAddr.Addr(), TalkPort: 32000, DNSPort: 32001}), epoch)
	require.NotNil(t, e.roster.GetByName("carol.stark"))

	require.Equal(t, 3, e.roster.Len())
	return e, bobAddr, carolAddr
}

func TestServeRegDuplicateNameRefusedWithEmptyLst(t *testing.T) {
	e := joinAsSoleMember(t, "alice.stark", 30000, 30001)
	original := netip.MustParseAddrPort("10.0.0.50:40000")
	e.HandleDatagram(original, wire.Encode(wire.Reg{Name: "carol.stark", IP: original.Addr(), TalkPort: 1, DNSPort: 40000}), epoch)
	require.NotNil(t, e.roster.GetByName("carol.stark"))

	impostor := netip.MustParseAddrPort("10.0.0.77:9999")
	effects := e.HandleDatagram(impostor, wire.Encode(wire.Reg{Name: "carol.stark", IP: impostor.Addr(), TalkPort: 2, DNSPort: 9999}), epoch)
	require.Len(t, effects, 1)
	send := effects[0].(SendDatagram)
	lst, ok := send.Msg.(wire.Lst)
	require.True(t, ok)
	assert.Empty(t, lst.Contacts)
	assert.Empty(t, send.RollbackName)

	// The original registration must survive untouched.
	c := e.roster.GetByName("carol.stark")
	require.NotNil(t, c)
	assert.Equal(t, original.Addr(), c.IP)
	assert.Equal(t, uint16(40000), c.DNSPort)
}

func TestLeaveGnsHandoverSuccessorAcceptsViaOk(t *testing.T) {
	e, bobAddr, _ := joinThreeMemberFamily(t)

	effects := e.HandleCommand(CmdLeave{}, epoch)
	require.Len(t, effects, 2)
	require.Equal(t, LeavingUsers, e.JoinStatus())
	require.Equal(t, 2, e.OksExpected())

	// Both bob and carol ack the UNR broadcast; the second ack rolls
	// straight through LeavingDNS into proposing bob (the first
	// candidate) as the new name server.
	effects = e.HandleDatagram(bobAddr, wire.Encode(wire.Ok{}), epoch)
	assert.Nil(t, effects)
	require.Equal(t, LeavingUsers, e.JoinStatus())

	effects = e.HandleDatagram(e.roster.GetByName("carol.stark").DNSAddr(), wire.Encode(wire.Ok{}), epoch)
	require.Equal(t, SearchingNewDns, e.JoinStatus())
	require.Len(t, effects, 1)
	proposal := effects[0].(SendDatagram)
	assert.Equal(t, bobAddr, proposal.To)
	dnsMsg, ok := proposal.Msg.(wire.Dns)
	require.True(t, ok)
	assert.Equal(t, "bob.stark", dnsMsg.Name)

	// bob accepts: alice tells the SS bob is now the name server, then
	// tears everything down locally.
	effects = e.HandleDatagram(bobAddr, wire.Encode(wire.Ok{}), epoch)
	require.Equal(t, NotJoined, e.JoinStatus())
	require.Equal(t, 0, e.roster.Len())

	var sawDnsToSS, sawClose, sawNotice bool
	for _, eff := range effects {
		switch v := eff.(type) {
		case SendDatagram:
			if v.To == e.self.SSAddr {
				if m, ok := v.Msg.(wire.Dns); ok && m.Name == "bob.stark" {
					sawDnsToSS = true
				}
			}
		case CloseSocket:
			sawClose = true
		case Notice:
			if v.Text == "left successfully" {
				sawNotice = true
			}
		}
	}
	assert.True(t, sawDnsToSS, "expected a DNS update to the SS naming bob as successor")
	assert.True(t, sawClose)
	assert.True(t, sawNotice)
}

func TestLeaveGnsHandoverCandidateRejectsAdvancesCursor(t *testing.T) {
	e, bobAddr, carolAddr := joinThreeMemberFamily(t)

	e.HandleCommand(CmdLeave{}, epoch)
	e.HandleDatagram(bobAddr, wire.Encode(wire.Ok{}), epoch)
	effects := e.HandleDatagram(carolAddr, wire.Encode(wire.Ok{}), epoch)
	require.Equal(t, SearchingNewDns, e.JoinStatus())
	require.Len(t, effects, 1)
	proposal := effects[0].(SendDatagram)
	assert.Equal(t, bobAddr, proposal.To)

	// bob refuses; the cursor must move on to carol.
	effects = e.HandleDatagram(bobAddr, wire.Encode(wire.Nok{Reason: "busy"}), epoch)
	require.Equal(t, SearchingNewDns, e.JoinStatus())
	require.Len(t, effects, 1)
	retry := effects[0].(SendDatagram)
	assert.Equal(t, carolAddr, retry.To)
	dnsMsg, ok := retry.Msg.(wire.Dns)
	require.True(t, ok)
	assert.Equal(t, "carol.stark", dnsMsg.Name)

	// carol also refuses; no candidates remain, so leave completes anyway.
	effects = e.HandleDatagram(carolAddr, wire.Encode(wire.Nok{Reason: "busy"}), epoch)
	require.Equal(t, NotJoined, e.JoinStatus())
	var sawClose bool
	for _, eff := range effects {
		if _, ok := eff.(CloseSocket); ok {
			sawClose = true
		}
	}
	assert.True(t, sawClose)
}

func TestHandleDnsPromotionAcceptsAndSetsSelfAsNameServer(t *testing.T) {
	e := joinAsSoleMember(t, "bob.stark", 31000, 31001)
	from := netip.MustParseAddrPort("10.0.0.20:30001")

	effects := e.HandleDatagram(from, wire.Encode(wire.Dns{Name: "bob.stark", IP: e.Self().IP, DNSPort: 31001}), epoch)
	require.Len(t, effects, 1)
	send := effects[0].(SendDatagram)
	_, ok := send.Msg.(wire.Ok)
	require.True(t, ok)

	name, known := e.NameServer()
	require.True(t, known)
	assert.Equal(t, "bob.stark", name)
}

func TestHandleDnsPromotionRefusedWhenNameMismatch(t *testing.T) {
	e := joinAsSoleMember(t, "bob.stark", 31000, 31001)
	from := netip.MustParseAddrPort("10.0.0.20:30001")

	effects := e.HandleDatagram(from, wire.Encode(wire.Dns{Name: "someoneelse.stark", IP: e.Self().IP, DNSPort: 31001}), epoch)
	require.Len(t, effects, 1)
	send := effects[0].(SendDatagram)
	nok, ok := send.Msg.(wire.Nok)
	require.True(t, ok)
	assert.Contains(t, nok.Reason, "not accepting")
}

func TestHandleDnsPromotionRefusedWhileLeaving(t *testing.T) {
	e := joinAsSoleMember(t, "bob.stark", 31000, 31001)
	e.HandleCommand(CmdLeave{}, epoch)
	require.Equal(t, LeavingDNS, e.JoinStatus())

	from := netip.MustParseAddrPort("10.0.0.20:30001")
	effects := e.HandleDatagram(from, wire.Encode(wire.Dns{Name: "bob.stark", IP: e.Self().IP, DNSPort: 31001}), epoch)
	require.Len(t, effects, 1)
	send := effects[0].(SendDatagram)
	_, ok := send.Msg.(wire.Nok)
	require.True(t, ok)
}

func TestSnapshotReflectsCommittedState(t *testing.T) {
	e := joinAsSoleMember(t, "alice.stark", 30000, 30001)

	snap := e.Snapshot()
	assert.Equal(t, "Joined", snap.JoinStatus)
	name, ok := snap.NameServer()
	require.True(t, ok)
	assert.Equal(t, "alice.stark", name)
	require.Len(t, snap.Roster, 1)
	assert.Equal(t, "alice.stark", snap.Roster[0].Name)
	assert.Equal(t, 1, snap.RosterLen())
}
