// Package udp streams navigation states to a UDP listener as one JSON object
// per datagram.
package udp

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net"
	"sync"
	"time"

	"indoornav/internal/fusion"
)

// errLogEvery limits how often repeated send failures are logged.
const errLogEvery = 10 * time.Second

type udpConn interface {
	io.Writer
	io.Closer
}

type (
	resolveFunc func(network, address string) (*net.UDPAddr, error)
	dialFunc    func(network string, laddr, raddr *net.UDPAddr) (udpConn, error)
)

type Broadcaster struct {
	dest string
	conn udpConn
	now  func() time.Time

	mu        sync.Mutex
	sent      uint64
	failed    uint64
	lastErrAt time.Time
}

func NewBroadcaster(dest string) (*Broadcaster, error) {
	return newBroadcaster(dest, net.ResolveUDPAddr, func(network string, laddr, raddr *net.UDPAddr) (udpConn, error) {
		return net.DialUDP(network, laddr, raddr)
	})
}

func newBroadcaster(dest string, resolve resolveFunc, dial dialFunc) (*Broadcaster, error) {
	addr, err := resolve("udp", dest)
	if err != nil {
		return nil, fmt.Errorf("udp: resolve %s: %w", dest, err)
	}

	// DialUDP selects a suitable local address automatically.
	conn, err := dial("udp", nil, addr)
	if err != nil {
		return nil, fmt.Errorf("udp: dial %s: %w", dest, err)
	}
	return &Broadcaster{dest: dest, conn: conn, now: time.Now}, nil
}

func (b *Broadcaster) Dest() string { return b.dest }

// Send writes one datagram. Empty payloads are skipped.
func (b *Broadcaster) Send(payload []byte) error {
	if len(payload) == 0 {
		return nil
	}
	_, err := b.conn.Write(payload)
	return err
}

// Publish implements fusion.Sink. Failures are counted and logged at most
// once per errLogEvery; the fusion loop never sees them.
func (b *Broadcaster) Publish(st fusion.State) {
	payload, err := json.Marshal(st)
	if err == nil {
		err = b.Send(payload)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if err == nil {
		b.sent++
		return
	}
	b.failed++
	if now := b.now(); b.lastErrAt.IsZero() || now.Sub(b.lastErrAt) >= errLogEvery {
		b.lastErrAt = now
		log.Printf("udp: send to %s failed (%d failures): %v", b.dest, b.failed, err)
	}
}

// Stats reports datagrams sent and failed so far.
func (b *Broadcaster) Stats() (sent, failed uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sent, b.failed
}

func (b *Broadcaster) Close() error {
	if b.conn == nil {
		return nil
	}
	return b.conn.Close()
}
