// Package loop is the event loop: a single goroutine that multiplexes
// the directory UDP socket, the chat TCP listener, the (optional)
// active chat peer, and the interactive command stream, feeding every
// event to exactly one engine.Engine and executing the effects it
// returns.
//
// This loop runs exactly one consuming goroutine: every engine
// transition must execute atomically with respect to every other one.
// Reader goroutines (the directory socket, the chat listener, the
// interactive command source) only ever feed channels; they never touch
// the engine themselves.
package loop

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/netip"
	"strings"
	"time"

	"github.com/jroosing/nsmesh/internal/chat"
	"github.com/jroosing/nsmesh/internal/cli"
	"github.com/jroosing/nsmesh/internal/engine"
	"github.com/jroosing/nsmesh/internal/helpers"
	"github.com/jroosing/nsmesh/internal/logging"
	"github.com/jroosing/nsmesh/internal/status"
	"github.com/jroosing/nsmesh/internal/wire"
)

// Loop owns every socket and the single engine.Engine for one running
// node. Construct with New, then call Run from the goroutine that
// should own the engine for the process lifetime.
type Loop struct {
	engine   *engine.Engine
	log      logging.Handle
	counters *status.Counters
	startAt  time.Time

	dir    *directorySocket
	chatLn *chat.Listener
	sess   *chat.Session

	cmds  *cli.Lexer
	cmdCh chan cli.Line

	out io.Writer

	exitRequested bool
}

// New opens the chat TCP listener, bound once for the process lifetime,
// and wires up an Engine for self. Failure to bind the chat listener is
// an unrecoverable setup failure; the caller should exit non-zero.
func New(e *engine.Engine, log logging.Handle, counters *status.Counters, stdin io.Reader, stdout io.Writer) (*Loop, error) {
	chatLn, err := chat.Listen(e.Self().TalkPort)
	if err != nil {
		return nil, fmt.Errorf("loop: chat listen: %w", err)
	}
	return &Loop{
		engine:   e,
		log:      log,
		counters: counters,
		startAt:  time.Now(),
		chatLn:   chatLn,
		cmds:     cli.NewLexer(stdin),
		out:      stdout,
	}, nil
}

// StartedAt reports when this Loop was constructed, for status rendering.
func (l *Loop) StartedAt() time.Time { return l.startAt }

// Run drives the event loop until the interactive command stream is
// exhausted, an explicit exit command completes the leave sequence it
// triggers, or ctx is cancelled (an OS-level interrupt).
func (l *Loop) Run(ctx context.Context) error {
	defer l.shutdownSockets()

	l.cmdCh = make(chan cli.Line)
	cmdDone := make(chan struct{})
	defer close(cmdDone)
	go l.readCommands(cmdDone)

	ctxDone := ctx.Done()

	for {
		var timer *time.Timer
		var timeoutC <-chan time.Time
		if dl, ok := l.engine.NextDeadline(); ok {
			d := time.Until(dl)
			if d < 0 {
				d = 0
			}
			timer = time.NewTimer(d)
			timeoutC = timer.C
		}

		var dirIn <-chan inboundDatagram
		if l.dir != nil {
			dirIn = l.dir.in
		}
		var chatConns <-chan net.Conn
		if l.chatLn != nil {
			chatConns = l.chatLn.Conns()
		}
		var chatLines <-chan string
		if l.sess != nil {
			chatLines = l.sess.Lines()
		}

		select {
		case <-ctxDone:
			ctxDone = nil
			l.beginExit()
		case line, ok := <-l.cmdCh:
			if !ok {
				l.cmdCh = nil
				l.beginExit()
			} else {
				l.handleLine(line)
			}
		case dg := <-dirIn:
			l.trackInbound(dg.data)
			l.apply(l.engine.HandleDatagram(dg.from, dg.data, time.Now()))
		case conn := <-chatConns:
			l.handleInboundChat(conn)
		case text, ok := <-chatLines:
			l.handleChatLine(text, ok)
		case <-timeoutC:
			l.apply(l.engine.HandleTick(time.Now()))
		}

		if timer != nil {
			timer.Stop()
		}

		if l.exitRequested && l.engine.JoinStatus() == engine.NotJoined {
			return nil
		}
	}
}

func (l *Loop) readCommands(done <-chan struct{}) {
	defer close(l.cmdCh)
	for {
		line, ok := l.cmds.Next()
		if !ok {
			return
		}
		select {
		case l.cmdCh <- line:
		case <-done:
			return
		}
	}
}

// beginExit implements the cancellation semantics: request exit once,
// and if currently Joined kick off the leave sequence so the loop can
// wind down cleanly instead of abandoning remote state.
func (l *Loop) beginExit() {
	if l.exitRequested {
		return
	}
	l.exitRequested = true
	if l.engine.JoinStatus() == engine.Joined {
		fmt.Fprintln(l.out, "leaving before exit...")
		l.apply(l.engine.HandleCommand(engine.CmdLeave{}, time.Now()))
	}
}

func (l *Loop) shutdownSockets() {
	if l.dir != nil {
		_ = l.dir.close()
		l.dir = nil
	}
	if l.sess != nil {
		_ = l.sess.Close()
		l.sess = nil
	}
	if l.chatLn != nil {
		_ = l.chatLn.Close()
	}
}

// apply executes every effect the engine just returned, in order. A few
// effects (BindSocket, a failed SendDatagram) themselves feed new events
// back into the engine; apply recurses on whatever effects those
// produce so one HandleX call's consequences are always fully drained
// before the loop selects again.
func (l *Loop) apply(effects []engine.Effect) {
	for _, eff := range effects {
		switch e := eff.(type) {
		case engine.SendDatagram:
			l.sendDatagram(e)
		case engine.BindSocket:
			l.bindSocket()
		case engine.CloseSocket:
			if l.dir != nil {
				_ = l.dir.close()
				l.dir = nil
			}
		case engine.ResolveNameServer:
			l.resolveNameServer()
		case engine.DialChat:
			l.dialChat(e)
		case engine.Notice:
			l.report(e.Text)
		case engine.Warning:
			l.log.Logger.Warn(e.Text)
			l.report(e.Text)
		default:
			l.log.Logger.Error("loop: unhandled effect", "type", fmt.Sprintf("%T", eff))
		}
	}
}

func (l *Loop) report(text string) {
	fmt.Fprintln(l.out, text)
	l.trackOutcome(text)
}

// trackOutcome bumps the process counters off the same user-visible
// text the engine already produces, rather than teaching the engine
// about internal/status: the engine stays a pure state machine with no
// ambient-infrastructure dependency.
func (l *Loop) trackOutcome(text string) {
	switch {
	case strings.HasPrefix(text, "joined"):
		l.counters.RecordJoinSucceeded()
	case strings.HasPrefix(text, "join aborted"):
		l.counters.RecordJoinAborted()
	case strings.Contains(text, "sequence timed out") || strings.Contains(text, "timed out"):
		l.counters.RecordSequenceTimeout()
	}
}

func (l *Loop) sendDatagram(eff engine.SendDatagram) {
	if l.dir == nil {
		l.log.Logger.Error("loop: send requested with no bound directory socket")
		return
	}
	payload := wire.Encode(eff.Msg)
	if err := l.dir.send(eff.To, payload); err != nil {
		l.log.Logger.Warn("loop: send failed", "to", eff.To, "err", err)
		l.apply(l.engine.HandleSendFailure(eff, time.Now()))
		return
	}
	// Rpl is the one reply shape that unambiguously answers a QRY.
	// REG and UNR are counted on the inbound side instead, in
	// trackInbound: their acks (a bare Ok, or an Lst for a GNS) are also
	// reused for the join/leave handshake, so they aren't attributable
	// to a single request kind from here.
	if _, ok := eff.Msg.(wire.Rpl); ok {
		l.counters.RecordQryServed()
	}
}

// trackInbound bumps the REG/UNR-served counters off the raw datagram
// before it reaches the engine: the engine stays a pure state machine
// with no internal/status dependency, so counting happens here instead,
// on whichever request kind actually arrived regardless of outcome.
func (l *Loop) trackInbound(data []byte) {
	msg, err := wire.Decode(data)
	if err != nil {
		return
	}
	switch msg.(type) {
	case wire.Reg:
		l.counters.RecordRegServed()
	case wire.Unr:
		l.counters.RecordUnrServed()
	}
}

func (l *Loop) bindSocket() {
	self := l.engine.Self()
	d, err := bindDirectorySocket(self.DNSPort)
	if err != nil {
		l.apply(l.engine.BindFailed(err.Error()))
		return
	}
	l.dir = d
	l.apply(l.engine.BindSucceeded(time.Now()))
}

// resolveNameServer performs the single synchronous recv needed to
// re-resolve the family's GNS: send QRY myName to the SS and block
// (this goroutine only — nothing else drives the engine) until an FW
// reply arrives or the sequence timeout elapses. Any other datagram
// that arrives meanwhile is not dropped: it is routed through the
// engine normally so concurrent protocol traffic during the wait isn't
// lost.
func (l *Loop) resolveNameServer() {
	self := l.engine.Self()
	if l.dir == nil {
		l.apply(l.engine.ContinueLeaveAfterResolve("", false, time.Now()))
		return
	}
	if err := l.dir.send(self.SSAddr, wire.Encode(wire.Qry{Name: self.Name})); err != nil {
		l.log.Logger.Warn("loop: resolveNameServer send failed", "err", err)
		l.apply(l.engine.ContinueLeaveAfterResolve("", false, time.Now()))
		return
	}

	deadline := time.NewTimer(engine.SequenceTimeout)
	defer deadline.Stop()
	for {
		select {
		case dg := <-l.dir.in:
			msg, err := wire.Decode(dg.data)
			if err != nil {
				l.log.Logger.Warn("loop: malformed datagram during resolve", "from", dg.from)
				continue
			}
			if fw, ok := msg.(wire.Fw); ok {
				if fw.Empty {
					l.apply(l.engine.ContinueLeaveAfterResolve("", false, time.Now()))
				} else {
					l.apply(l.engine.ContinueLeaveAfterResolve(fw.Name, true, time.Now()))
				}
				return
			}
			// Not our reply; let the engine handle whatever it is so an
			// interleaved REG/QRY/UNR during the wait is still served.
			switch msg.(type) {
			case wire.Reg:
				l.counters.RecordRegServed()
			case wire.Unr:
				l.counters.RecordUnrServed()
			}
			l.apply(l.engine.HandleDatagram(dg.from, dg.data, time.Now()))
		case <-deadline.C:
			l.apply(l.engine.ContinueLeaveAfterResolve("", false, time.Now()))
			return
		}
	}
}

func (l *Loop) dialChat(eff engine.DialChat) {
	addr := netip.AddrPortFrom(eff.IP, eff.TalkPort)
	sess, err := chat.Dial(addr, l.engine.Self().Name, eff.Name)
	if err != nil {
		l.report(fmt.Sprintf("call to %s failed: %v", eff.Name, err))
		return
	}
	l.sess = sess
	l.engine.SetChatOpen(true)
	l.report(fmt.Sprintf("connected to %s at %s", eff.Name, addr))
}

func (l *Loop) handleInboundChat(conn net.Conn) {
	if l.sess != nil {
		chat.Reject(conn, l.engine.Self().Name)
		l.log.Logger.Info("loop: rejected inbound chat, already busy", "remote", conn.RemoteAddr())
		return
	}
	l.sess = chat.Accept(conn, l.engine.Self().Name, "")
	l.engine.SetChatOpen(true)
	l.report(fmt.Sprintf("incoming chat connection from %s accepted", conn.RemoteAddr()))
}

// handleLine dispatches one interactive command.
func (l *Loop) handleLine(line cli.Line) {
	switch line.Kind {
	case cli.CmdJoin:
		l.counters.RecordJoinAttempted()
		l.apply(l.engine.HandleCommand(engine.CmdJoin{}, time.Now()))
	case cli.CmdLeave:
		l.counters.RecordLeave()
		l.apply(l.engine.HandleCommand(engine.CmdLeave{}, time.Now()))
	case cli.CmdFind:
		if line.Arg == "" {
			fmt.Fprintln(l.out, "usage: find <name>[.surname]")
			return
		}
		l.counters.RecordFind()
		l.apply(l.engine.HandleCommand(engine.CmdFind{Target: line.Arg, Mode: engine.FindForFind}, time.Now()))
	case cli.CmdConnect:
		if line.Arg == "" {
			fmt.Fprintln(l.out, "usage: connect <name>[.surname]")
			return
		}
		l.counters.RecordFind()
		l.apply(l.engine.HandleCommand(engine.CmdFind{Target: line.Arg, Mode: engine.FindForConnect}, time.Now()))
	case cli.CmdDisconnect:
		l.closeChatSession("disconnected")
	case cli.CmdMessage:
		l.sendChatLine(line.Arg, false)
	case cli.CmdMessageRaw:
		l.sendChatLine(line.Arg, true)
	case cli.CmdRickroll:
		if l.sess == nil {
			fmt.Fprintln(l.out, "no chat session open")
			return
		}
		if err := l.sess.Rickroll(); err != nil {
			fmt.Fprintln(l.out, "send failed:", err)
		}
	case cli.CmdVerbose:
		level := helpers.ClampInt(line.VerboseLevel(), 0, 1)
		l.log.SetVerbosity(level)
		fmt.Fprintf(l.out, "verbosity set to %d\n", level)
	case cli.CmdList:
		l.printRoster()
	case cli.CmdStatus:
		l.printStatus()
	case cli.CmdHelp:
		l.printHelp()
	case cli.CmdExit:
		l.beginExit()
	default:
		fmt.Fprintln(l.out, "unrecognized command, type 'help' for a list")
	}
}

func (l *Loop) sendChatLine(text string, raw bool) {
	if l.sess == nil {
		fmt.Fprintln(l.out, "no chat session open")
		return
	}
	if text == "" {
		fmt.Fprintln(l.out, "usage: message <text>")
		return
	}
	var err error
	if raw {
		err = l.sess.SendRaw(text)
	} else {
		err = l.sess.Send(text)
	}
	if err != nil {
		fmt.Fprintln(l.out, "send failed:", err)
	}
}

func (l *Loop) closeChatSession(reason string) {
	if l.sess == nil {
		fmt.Fprintln(l.out, "no chat session open")
		return
	}
	_ = l.sess.Close()
	l.sess = nil
	l.engine.SetChatOpen(false)
	fmt.Fprintln(l.out, reason)
}

func (l *Loop) printRoster() {
	contacts := l.engine.Roster()
	if len(contacts) == 0 {
		fmt.Fprintln(l.out, "roster is empty")
		return
	}
	ns, _ := l.engine.NameServer()
	for _, c := range contacts {
		marker := ""
		if c.Name == ns {
			marker = " (GNS)"
		}
		fmt.Fprintf(l.out, "%-30s %s talk=%d dns=%d%s\n", c.Name, c.IP, c.TalkPort, c.DNSPort, marker)
	}
}

func (l *Loop) printStatus() {
	snap := status.Take(l.startAt, l.counters, l.engine)
	fmt.Fprintf(l.out, "join=%s find=%s roster=%d uptime=%s\n", snap.JoinStatus, snap.FindStatus, snap.RosterSize, snap.Uptime)
	if snap.NameServer != "" {
		fmt.Fprintf(l.out, "name server: %s\n", snap.NameServer)
	}
	fmt.Fprintf(l.out, "cpu=%.1f%% mem=%.1f/%.1f MB (%.1f%%)\n", snap.CPUPercent, snap.MemUsedMB, snap.MemTotalMB, snap.MemPercent)
	fmt.Fprintf(l.out, "joins: attempted=%d succeeded=%d aborted=%d leaves=%d finds=%d timeouts=%d\n",
		snap.Counters.JoinsAttempted, snap.Counters.JoinsSucceeded, snap.Counters.JoinsAborted,
		snap.Counters.Leaves, snap.Counters.Finds, snap.Counters.SequenceTimeouts)
}

func (l *Loop) printHelp() {
	fmt.Fprintln(l.out, "commands: join, leave, find <name>, connect <name>, disconnect,")
	fmt.Fprintln(l.out, "          message <text>, mraw <text>, rickroll, list, status,")
	fmt.Fprintln(l.out, "          verbose <n>, help, exit")
}

func (l *Loop) handleChatLine(text string, ok bool) {
	if !ok {
		if err := l.sess.Err(); err != nil {
			l.report(fmt.Sprintf("chat session ended: %v", err))
		} else {
			l.report("chat session closed by peer")
		}
		_ = l.sess.Close()
		l.sess = nil
		l.engine.SetChatOpen(false)
		return
	}
	fmt.Fprintln(l.out, text)
}
