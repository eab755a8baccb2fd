// Package capture implements the bounded packet-capture ring and its
// snapshot flush (spec.md §3 Captured packet record, §4.2, §5 Resource
// policy). Payload decoding uses gopacket/gopacket + gopacket/layers,
// the same decode stack grimm-is-flywall pulls in for its own packet
// inspection, rather than hand-rolled byte offsets — both style and
// dependency are adopted from the pack (see DESIGN.md).
package capture

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"

	"github.com/ofcontrol/fplf/internal/logging"
)

// Packet is one captured packet record (spec.md §3).
type Packet struct {
	Timestamp int64  `json:"timestamp"`
	DPID      uint64 `json:"dpid"`
	InPort    uint32 `json:"in_port"`
	EthSrc    string `json:"eth_src"`
	EthDst    string `json:"eth_dst"`
	Protocol  string `json:"protocol"`
	SrcIP     string `json:"src_ip,omitempty"`
	DstIP     string `json:"dst_ip,omitempty"`
	SrcPort   uint16 `json:"src_port,omitempty"`
	DstPort   uint16 `json:"dst_port,omitempty"`
	Length    int    `json:"length"`
	TCPFlags  uint8  `json:"tcp_flags,omitempty"`
	TTL       uint8  `json:"ttl,omitempty"`
	ToS       uint8  `json:"tos,omitempty"`
	Window    uint16 `json:"window,omitempty"`
}

// Decode builds a Packet record from a raw Ethernet frame as delivered
// in a PACKET_IN's payload, the way the capture handler (a single
// producer, per spec.md §4.2) turns wire bytes into a structured
// record before enqueuing it.
func Decode(dpid uint64, inPort uint32, ts time.Time, raw []byte) (Packet, error) {
	p := Packet{
		Timestamp: ts.Unix(),
		DPID:      dpid,
		InPort:    inPort,
		Length:    len(raw),
		Protocol:  "unknown",
	}

	pkt := gopacket.NewPacket(raw, layers.LayerTypeEthernet, gopacket.DecodeOptions{
		Lazy:   true,
		NoCopy: true,
	})

	if eth, ok := pkt.Layer(layers.LayerTypeEthernet).(*layers.Ethernet); ok {
		p.EthSrc = eth.SrcMAC.String()
		p.EthDst = eth.DstMAC.String()
	}

	if ip4, ok := pkt.Layer(layers.LayerTypeIPv4).(*layers.IPv4); ok {
		p.Protocol = "ipv4"
		p.SrcIP = ip4.SrcIP.String()
		p.DstIP = ip4.DstIP.String()
		p.TTL = ip4.TTL
		p.ToS = ip4.TOS
	}

	if tcp, ok := pkt.Layer(layers.LayerTypeTCP).(*layers.TCP); ok {
		p.Protocol = "tcp"
		p.SrcPort = uint16(tcp.SrcPort)
		p.DstPort = uint16(tcp.DstPort)
		p.Window = tcp.Window
		p.TCPFlags = tcpFlagByte(tcp)
	} else if udp, ok := pkt.Layer(layers.LayerTypeUDP).(*layers.UDP); ok {
		p.Protocol = "udp"
		p.SrcPort = uint16(udp.SrcPort)
		p.DstPort = uint16(udp.DstPort)
	}

	return p, nil
}

func tcpFlagByte(tcp *layers.TCP) uint8 {
	var b uint8
	if tcp.FIN {
		b |= 1 << 0
	}
	if tcp.SYN {
		b |= 1 << 1
	}
	if tcp.RST {
		b |= 1 << 2
	}
	if tcp.PSH {
		b |= 1 << 3
	}
	if tcp.ACK {
		b |= 1 << 4
	}
	if tcp.URG {
		b |= 1 << 5
	}
	return b
}

// Config controls ring size and flush triggers (spec.md §4.2 defaults).
type Config struct {
	Dir        string
	MaxSize    int           // default 10000
	FlushEvery time.Duration // default 30s
}

// DefaultConfig returns spec.md's stated defaults.
func DefaultConfig(dir string) Config {
	return Config{Dir: dir, MaxSize: 10_000, FlushEvery: 30 * time.Second}
}

// Ring is the bounded, single-producer/single-consumer capture buffer.
// Push is called from the PACKET_IN handler (the IO worker, spec.md
// §5) and must never block; the flusher drains it on its own
// schedule. A mutex protects the short critical section of swapping
// the backing slice, which is cheap enough not to violate the "IO
// workers may not block on external I/O" rule — it never touches disk.
type Ring struct {
	mu      sync.Mutex
	buf     []Packet
	maxSize int
	drops   atomic.Int64

	dir        string
	flushEvery time.Duration
	log        *logging.Component

	stop chan struct{}
	done chan struct{}
}

// NewRing creates a Ring per cfg.
func NewRing(cfg Config, log *logging.Component) *Ring {
	return &Ring{
		buf:        make([]Packet, 0, cfg.MaxSize),
		maxSize:    cfg.MaxSize,
		dir:        cfg.Dir,
		flushEvery: cfg.FlushEvery,
		log:        log,
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Push enqueues p. If the ring is at capacity, it triggers a
// size-based flush synchronously (spec.md §4.2: flush on size or
// period) and resets; if for any reason that still fails to make
// room, it drops the packet and increments the drop counter rather
// than blocking the caller (spec.md §4.2, §7 BufferOverflow).
func (r *Ring) Push(p Packet) {
	r.mu.Lock()
	if len(r.buf) >= r.maxSize {
		batch := r.buf
		r.buf = make([]Packet, 0, r.maxSize)
		r.mu.Unlock()

		err := r.writeSnapshot(batch)
		if err != nil && r.log != nil {
			r.log.Err("capture: size-triggered flush failed: %v", err)
		}

		r.mu.Lock()
		if err != nil && len(r.buf) == 0 {
			// The batch was not written; keep it buffered so the next
			// flush retries it, which leaves no room for p.
			r.buf = batch
		}
	}

	if len(r.buf) >= r.maxSize {
		r.drops.Add(1)
		r.mu.Unlock()
		return
	}

	r.buf = append(r.buf, p)
	r.mu.Unlock()
}

// Drops returns the number of packets dropped for lack of room.
func (r *Ring) Drops() int64 {
	return r.drops.Load()
}

// Len reports the current number of buffered, unflushed packets.
func (r *Ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.buf)
}

// Flush drains whatever is currently buffered and writes it as a
// snapshot file, the time-triggered path (spec.md §4.2).
func (r *Ring) Flush() error {
	r.mu.Lock()
	if len(r.buf) == 0 {
		r.mu.Unlock()
		return nil
	}
	batch := r.buf
	r.buf = make([]Packet, 0, r.maxSize)
	r.mu.Unlock()

	return r.writeSnapshot(batch)
}

// writeSnapshot serializes batch to a timestamped, immutable-once-closed
// JSON file (spec.md §4.2 contract, §6 filename pattern).
func (r *Ring) writeSnapshot(batch []Packet) error {
	if len(batch) == 0 {
		return nil
	}
	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return fmt.Errorf("capture: mkdir %s: %w", r.dir, err)
	}

	name := fmt.Sprintf("captured_packets_%d.json", time.Now().UnixNano())
	path := filepath.Join(r.dir, name)
	tmp := path + ".tmp"

	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("capture: create %s: %w", tmp, err)
	}
	enc := json.NewEncoder(f)
	if err := enc.Encode(batch); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("capture: encode snapshot: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("capture: close %s: %w", tmp, err)
	}

	// Rename into place so the offline pipeline never observes a
	// partially-written file (same atomic-publish idiom as the
	// classifier export, spec.md §4.9 step 6).
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("capture: rename %s: %w", tmp, err)
	}
	if r.log != nil {
		r.log.Debug("capture: flushed %d packets to %s", len(batch), path)
	}
	return nil
}

// RunFlusher starts the periodic flush timer; it runs until Stop is
// called, in its own goroutine independent of the IO workers (spec.md
// §5 capture flusher).
func (r *Ring) RunFlusher() {
	go func() {
		defer close(r.done)
		ticker := time.NewTicker(r.flushEvery)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := r.Flush(); err != nil && r.log != nil {
					r.log.Err("capture: periodic flush failed: %v", err)
				}
			case <-r.stop:
				return
			}
		}
	}()
}

// Stop halts the flusher goroutine, waiting for it to exit.
func (r *Ring) Stop() {
	close(r.stop)
	<-r.done
}
