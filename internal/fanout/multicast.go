package fanout

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"golang.org/x/net/ipv4"

	"wordle/server/internal/protocol"
)

// Multicaster sends datagrams to a fixed IPv4 multicast group.
type Multicaster struct {
	conn *net.UDPConn
	pc   *ipv4.PacketConn
}

// DialMulticast connects to the group at addr with the given hop limit.
func DialMulticast(addr string, ttl int, loopback bool) (*Multicaster, error) {
	group, err := net.ResolveUDPAddr("udp4", addr)
	if err != nil {
		return nil, fmt.Errorf("resolve multicast group: %w", err)
	}
	if !group.IP.IsMulticast() {
		return nil, fmt.Errorf("%s is not a multicast address", group.IP)
	}
	conn, err := net.DialUDP("udp4", nil, group)
	if err != nil {
		return nil, fmt.Errorf("dial multicast group: %w", err)
	}
	pc := ipv4.NewPacketConn(conn)
	if err := pc.SetMulticastTTL(ttl); err != nil {
		conn.Close()
		return nil, fmt.Errorf("set multicast ttl: %w", err)
	}
	if err := pc.SetMulticastLoopback(loopback); err != nil {
		conn.Close()
		return nil, fmt.Errorf("set multicast loopback: %w", err)
	}
	return &Multicaster{conn: conn, pc: pc}, nil
}

// Send writes one datagram, honouring the context deadline.
func (m *Multicaster) Send(ctx context.Context, payload []byte) error {
	if len(payload) > protocol.MaxDatagramBytes {
		return fmt.Errorf("datagram of %d bytes exceeds %d", len(payload), protocol.MaxDatagramBytes)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Time{}
	}
	if err := m.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	_, err := m.conn.Write(payload)
	return err
}

// Close releases the socket.
func (m *Multicaster) Close() error {
	return m.conn.Close()
}

// Listener receives shared game datagrams from a multicast group.
type Listener struct {
	pc    *ipv4.PacketConn
	raw   net.PacketConn
	group *net.UDPAddr
	ifi   *net.Interface
}

// ListenMulticast joins the group at addr on ifi, or the system default
// interface when ifi is nil.
func ListenMulticast(addr string, ifi *net.Interface) (*Listener, error) {
	group, err := net.ResolveUDPAddr("udp4", addr)
	if err != nil {
		return nil, fmt.Errorf("resolve multicast group: %w", err)
	}
	raw, err := net.ListenPacket("udp4", fmt.Sprintf("0.0.0.0:%d", group.Port))
	if err != nil {
		return nil, fmt.Errorf("listen multicast port: %w", err)
	}
	pc := ipv4.NewPacketConn(raw)
	if err := pc.JoinGroup(ifi, &net.UDPAddr{IP: group.IP}); err != nil {
		raw.Close()
		return nil, fmt.Errorf("join multicast group: %w", err)
	}
	return &Listener{pc: pc, raw: raw, group: group, ifi: ifi}, nil
}

// Receive blocks until a datagram arrives or ctx is done.
func (l *Listener) Receive(ctx context.Context) (protocol.SharedGame, error) {
	buf := make([]byte, protocol.MaxDatagramBytes)
	stop := context.AfterFunc(ctx, func() { _ = l.raw.SetReadDeadline(time.Now()) })
	defer stop()
	n, _, _, err := l.pc.ReadFrom(buf)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return protocol.SharedGame{}, ctxErr
		}
		return protocol.SharedGame{}, err
	}
	return protocol.DecodeShare(buf[:n])
}

// Close leaves the group and releases the socket.
func (l *Listener) Close() error {
	leaveErr := l.pc.LeaveGroup(l.ifi, &net.UDPAddr{IP: l.group.IP})
	return errors.Join(leaveErr, l.raw.Close())
}

var _ Sender = (*Multicaster)(nil)
