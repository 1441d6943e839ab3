// Package chat implements the TCP chat collaborator: a single listen
// socket accepting at most one peer at a time, framed
// `MSS name.surname;text` messages, and raw unframed sends for
// debugging.
//
// There is exactly one directory socket, one optional chat peer, and a
// single cooperative event loop, so the accept loop is just one
// listener feeding a channel the loop selects on, with at most one
// connection handler running at a time.
package chat

import (
	"bufio"
	"fmt"
	"net"
	"net/netip"
	"strconv"
	"strings"
	"time"
)

const (
	dialTimeout  = 10 * time.Second
	idleTimeout  = 5 * time.Minute
	maxLineBytes = 1 << 16

	// BusyMessage is sent to a second inbound connection while a peer is
	// already active.
	BusyMessage = "Sorry, I am busy right now."

	// RickrollText is the payload for the `rickroll` interactive command,
	// a novelty inherited from the original client.
	RickrollText = "Never gonna give you up, never gonna let you down, never gonna run around and desert you."
)

// Listener accepts inbound chat connections on the node's talk port.
// It runs its own accept loop and publishes accepted connections on a
// channel so the single-threaded event loop can select on it alongside
// the directory socket and stdin.
type Listener struct {
	ln    net.Listener
	conns chan net.Conn
	done  chan struct{}
}

// Listen binds the chat TCP listen socket.
func Listen(port uint16) (*Listener, error) {
	ln, err := net.Listen("tcp", net.JoinHostPort("", strconv.Itoa(int(port))))
	if err != nil {
		return nil, fmt.Errorf("chat: listen: %w", err)
	}
	l := &Listener{ln: ln, conns: make(chan net.Conn), done: make(chan struct{})}
	go l.acceptLoop()
	return l, nil
}

func (l *Listener) acceptLoop() {
	for {
		c, err := l.ln.Accept()
		if err != nil {
			return
		}
		select {
		case l.conns <- c:
		case <-l.done:
			_ = c.Close()
			return
		}
	}
}

// Conns is the channel of freshly-accepted connections the event loop
// selects on.
func (l *Listener) Conns() <-chan net.Conn { return l.conns }

// Close stops accepting new connections.
func (l *Listener) Close() error {
	close(l.done)
	return l.ln.Close()
}

// Reject handles a second inbound connection while busy: it is told
// `MSS myName;<BusyMessage>` and closed immediately.
func Reject(conn net.Conn, selfName string) {
	defer conn.Close()
	_ = conn.SetWriteDeadline(time.Now().Add(time.Second))
	fmt.Fprintf(conn, "MSS %s;%s\n", selfName, BusyMessage)
}

// Session is one active chat connection, either accepted or dialed.
type Session struct {
	conn     net.Conn
	selfName string
	peerName string
	lines    chan string
	errc     chan error
}

// Accept wraps an already-accepted connection as the active Session.
func Accept(conn net.Conn, selfName, peerName string) *Session {
	return newSession(conn, selfName, peerName)
}

// Dial opens a chat connection to a peer found via the directory
// protocol (a FindForConnect success).
func Dial(addr netip.AddrPort, selfName, peerName string) (*Session, error) {
	conn, err := net.DialTimeout("tcp", addr.String(), dialTimeout)
	if err != nil {
		return nil, fmt.Errorf("chat: dial %s: %w", addr, err)
	}
	return newSession(conn, selfName, peerName), nil
}

func newSession(conn net.Conn, selfName, peerName string) *Session {
	s := &Session{conn: conn, selfName: selfName, peerName: peerName, lines: make(chan string, 16), errc: make(chan error, 1)}
	go s.readLoop()
	return s
}

// readLoop scans the stream for framed `MSS name;text` messages and
// reformats them as `name: text`, passing any other line through
// verbatim since raw sends bypass framing.
func (s *Session) readLoop() {
	defer close(s.lines)
	scanner := bufio.NewScanner(s.conn)
	scanner.Buffer(make([]byte, 4096), maxLineBytes)
	for scanner.Scan() {
		_ = s.conn.SetReadDeadline(time.Now().Add(idleTimeout))
		s.lines <- formatIncoming(scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		s.errc <- err
	}
}

func formatIncoming(raw string) string {
	rest, ok := strings.CutPrefix(raw, "MSS ")
	if !ok {
		return raw
	}
	name, text, found := strings.Cut(rest, ";")
	if !found {
		return raw
	}
	return name + ": " + text
}

// Lines delivers reformatted incoming messages; it closes when the
// peer disconnects.
func (s *Session) Lines() <-chan string { return s.lines }

// Err reports the terminal read error, if any, after Lines closes.
func (s *Session) Err() error {
	select {
	case err := <-s.errc:
		return err
	default:
		return nil
	}
}

// Send frames text as an MSS message.
func (s *Session) Send(text string) error {
	_ = s.conn.SetWriteDeadline(time.Now().Add(dialTimeout))
	_, err := fmt.Fprintf(s.conn, "MSS %s;%s\n", s.selfName, text)
	if err != nil {
		return fmt.Errorf("chat: send: %w", err)
	}
	return nil
}

// SendRaw writes text unframed, bypassing the MSS wrapper (the `mraw`
// interactive command).
func (s *Session) SendRaw(text string) error {
	_ = s.conn.SetWriteDeadline(time.Now().Add(dialTimeout))
	_, err := fmt.Fprintf(s.conn, "%s\n", text)
	if err != nil {
		return fmt.Errorf("chat: send raw: %w", err)
	}
	return nil
}

// Rickroll sends the `rickroll` command's payload raw, bypassing the
// MSS wrapper the same way SendRaw does.
func (s *Session) Rickroll() error { return s.SendRaw(RickrollText) }

// PeerName is the name this session was opened with (empty if the peer
// connected to us without a preceding directory handshake).
func (s *Session) PeerName() string { return s.peerName }

// Close ends the session.
func (s *Session) Close() error { return s.conn.Close() }
