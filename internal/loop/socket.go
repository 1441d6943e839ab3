package loop

import (
	"net"
	"net/netip"

	"golang.org/x/sys/unix"

	"github.com/jroosing/nsmesh/internal/pool"
)

// Socket buffer sizes sized generously (4MB each): the directory
// socket is as exposed to burst traffic (a big family's REG fan-out, a
// LST dump) as any other UDP listener, even though it mostly carries a
// trickle of short text datagrams.
const (
	socketRecvBufferSize = 4 * 1024 * 1024
	socketSendBufferSize = 4 * 1024 * 1024

	// maxDatagramSize bounds one directory-protocol payload. The widest
	// message is an LST dump, one line per Roster entry; this comfortably
	// covers families far larger than any single GNS is likely to serve.
	maxDatagramSize = 16 * 1024
)

// datagramBufferPool reduces allocations for inbound directory packets.
var datagramBufferPool = pool.New(func() *[]byte {
	buf := make([]byte, maxDatagramSize)
	return &buf
})

// inboundDatagram is one received directory-socket packet, already
// copied out of the pooled buffer so it can safely outlive the read.
type inboundDatagram struct {
	from netip.AddrPort
	data []byte
}

// directorySocket owns the node's single UDP directory socket, bound
// exclusively to myDnsPort from open to close; re-binding is not
// supported. A reader goroutine feeds raw packets to the event loop
// over a channel, the same fan-in-to-one-consumer shape chat.Listener
// uses for inbound TCP connections — the loop itself remains the only
// goroutine that ever calls into the engine.
type directorySocket struct {
	conn *net.UDPConn
	in   chan inboundDatagram
	done chan struct{}
}

// bindDirectorySocket binds port and starts the packet reader.
func bindDirectorySocket(port uint16) (*directorySocket, error) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: int(port)})
	if err != nil {
		return nil, err
	}
	if rc, rcErr := conn.SyscallConn(); rcErr == nil {
		_ = rc.Control(func(fd uintptr) {
			_ = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_RCVBUF, socketRecvBufferSize)
			_ = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_SNDBUF, socketSendBufferSize)
		})
	}
	d := &directorySocket{conn: conn, in: make(chan inboundDatagram), done: make(chan struct{})}
	go d.recvLoop()
	return d, nil
}

func (d *directorySocket) recvLoop() {
	for {
		bufPtr := datagramBufferPool.Get()
		buf := *bufPtr
		n, addr, err := d.conn.ReadFromUDPAddrPort(buf)
		if err != nil {
			datagramBufferPool.Put(bufPtr)
			return
		}
		payload := make([]byte, n)
		copy(payload, buf[:n])
		datagramBufferPool.Put(bufPtr)

		select {
		case d.in <- inboundDatagram{from: addr, data: payload}:
		case <-d.done:
			return
		}
	}
}

// send writes payload to addr, translating a short write into an error
// the same way a real send failure would be reported.
func (d *directorySocket) send(addr netip.AddrPort, payload []byte) error {
	n, err := d.conn.WriteToUDPAddrPort(payload, addr)
	if err != nil {
		return err
	}
	if n != len(payload) {
		return net.ErrClosed
	}
	return nil
}

// close stops the reader goroutine and closes the socket. Safe to call
// once; the event loop nils its reference immediately after.
func (d *directorySocket) close() error {
	close(d.done)
	return d.conn.Close()
}
