// Package hostmap implements the pre-seeded host map and the reactive
// L2 learning table layered on top of it (spec.md §4.3).
//
// The file-parsing style here (whitespace-separated fields, "#"
// comments, skip-with-warning on malformed lines) is grounded on the
// teacher's own small text-format parsers — ovs/flowstats.go's
// UnmarshalText and ovs/matchparser.go's field-splitting helpers — generalized
// from a single documented line format to a whole file.
package hostmap

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/ofcontrol/fplf/ctlerr"
	"github.com/ofcontrol/fplf/internal/logging"
)

// Location is where a host was last seen attached to the fabric.
type Location struct {
	DPID uint64
	Port uint32
}

// Entry is one host-map record (spec.md §3 Host entry).
type Entry struct {
	MAC    string // normalized net.HardwareAddr.String()
	HostID string
	Location
	IP net.IP // optional, refined by observation
}

// Table is the combined pre-seeded host map and reactive L2 learning
// table. It is owned exclusively by the compute worker (spec.md §5);
// it is not safe for concurrent mutation, only for the single-writer
// access pattern the controller's compute worker provides. A mutex is
// still used so that the read-only observability endpoint can take a
// consistent copy.
type Table struct {
	mu       sync.RWMutex
	byMAC    map[string]*Entry
	byIP     map[string]*Entry
	byHostID map[string]*Entry
	log      *logging.Component
}

// New creates an empty Table.
func New(log *logging.Component) *Table {
	return &Table{
		byMAC:    make(map[string]*Entry),
		byIP:     make(map[string]*Entry),
		byHostID: make(map[string]*Entry),
		log:      log,
	}
}

// LoadFile parses a host-map file and seeds the table, replacing any
// existing entries. Used at startup; a reconnected switch must use
// LoadFileForSwitch instead, or it wipes every other switch's entries.
//
// Line format: "# mac dpid port [host_id] [ip]"; blank lines and lines
// starting with # are skipped. The trailing ip field is an extension
// beyond spec.md §6's documented columns, seeding the reverse IP index
// the offline classifier join needs (spec.md §4.9 step 5) without a
// live capture stream. Malformed or unparsable lines are skipped with
// a warning, never fatal (spec.md §6).
func (t *Table) LoadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("hostmap: open %s: %w", path, err)
	}
	defer f.Close()
	return t.Load(f)
}

// Load parses host-map records from r, as LoadFile does for a path.
func (t *Table) Load(r io.Reader) error {
	entries, err := t.parse(r)
	if err != nil {
		return err
	}

	byMAC := make(map[string]*Entry, len(entries))
	byHostID := make(map[string]*Entry)
	byIP := make(map[string]*Entry)
	for _, e := range entries {
		byMAC[e.MAC] = e
		if e.HostID != "" {
			byHostID[e.HostID] = e
		}
		if e.IP != nil {
			byIP[e.IP.String()] = e
		}
	}

	t.mu.Lock()
	t.byMAC = byMAC
	t.byHostID = byHostID
	t.byIP = byIP
	t.mu.Unlock()

	return nil
}

// LoadFileForSwitch re-seeds only dpid's entries from the host-map file
// at path, merging them into the existing table rather than replacing
// it wholesale. Pair with ReseedSwitch(dpid) beforehand to drop dpid's
// stale entries before the fresh ones are merged in; entries belonging
// to every other switch, whether file-seeded or reactively learned via
// Learn/LearnIP, are left untouched. Spec.md §3's "on reconnect they
// are re-seeded from file" is a per-switch guarantee, not a whole-table
// reload, so onSwitchUp must call this instead of LoadFile.
func (t *Table) LoadFileForSwitch(path string, dpid uint64) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("hostmap: open %s: %w", path, err)
	}
	defer f.Close()

	entries, err := t.parse(f)
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	for _, e := range entries {
		if e.Location.DPID != dpid {
			continue
		}
		t.byMAC[e.MAC] = e
		if e.HostID != "" {
			t.byHostID[e.HostID] = e
		}
		if e.IP != nil {
			t.byIP[e.IP.String()] = e
		}
	}
	return nil
}

// parse reads host-map records out of r without touching the table,
// shared by Load and LoadFileForSwitch so the two differ only in how
// they merge, not how they scan.
func (t *Table) parse(r io.Reader) ([]*Entry, error) {
	var entries []*Entry

	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		fields := strings.Fields(line)
		if len(fields) < 3 {
			t.warn(lineNo, line, "need at least mac, dpid, port")
			continue
		}

		mac, err := net.ParseMAC(fields[0])
		if err != nil {
			t.warn(lineNo, line, "invalid mac: %v", err)
			continue
		}

		dpid, err := strconv.ParseUint(fields[1], 0, 64)
		if err != nil {
			t.warn(lineNo, line, "invalid dpid: %v", err)
			continue
		}

		port, err := strconv.ParseUint(fields[2], 0, 32)
		if err != nil {
			t.warn(lineNo, line, "invalid port: %v", err)
			continue
		}

		hostID := ""
		if len(fields) >= 4 {
			hostID = fields[3]
		}

		// An optional 5th field seeds the reverse IP index directly,
		// so the offline classifier join (spec.md §4.9 step 5) has
		// somewhere to resolve (ip_src, ip_dst) without a live
		// PACKET_IN stream to learn addresses from (spec.md §4.3
		// Learn/LearnIP is the online equivalent).
		var ip net.IP
		if len(fields) >= 5 {
			ip = net.ParseIP(fields[4])
			if ip == nil {
				t.warn(lineNo, line, "invalid ip %q, ignoring", fields[4])
			}
		}

		entries = append(entries, &Entry{
			MAC:    mac.String(),
			HostID: hostID,
			Location: Location{
				DPID: dpid,
				Port: uint32(port),
			},
			IP: ip,
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("hostmap: scan: %w", err)
	}
	return entries, nil
}

func (t *Table) warn(lineNo int, line, format string, args ...interface{}) {
	if t.log == nil {
		return
	}
	msg := fmt.Sprintf(format, args...)
	t.log.Warn("hostmap: skipping line %d (%q): %s", lineNo, line, msg)
}

// Locate resolves a MAC to its last-known location. It is O(1), as
// required by spec.md §4.3.
func (t *Table) Locate(mac net.HardwareAddr) (Location, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	e, ok := t.byMAC[mac.String()]
	if !ok {
		return Location{}, ctlerr.ErrUnknownHost
	}
	return e.Location, nil
}

// HostID returns the symbolic host id for mac, if seeded with one.
func (t *Table) HostID(mac net.HardwareAddr) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	e, ok := t.byMAC[mac.String()]
	if !ok || e.HostID == "" {
		return "", false
	}
	return e.HostID, true
}

// HostIDByIP resolves a host id from an observed IP address, used by
// the offline classifier join (spec.md §4.9 step 5).
func (t *Table) HostIDByIP(ip net.IP) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	e, ok := t.byIP[ip.String()]
	if !ok || e.HostID == "" {
		return "", false
	}
	return e.HostID, true
}

// Learn refines the table from an observed source MAC at (dpid, port).
// Per the invariant in spec.md §3/§4.3, a learned observation only
// updates a *new* MAC; if mac is already seeded and the observed port
// differs from the seeded one, the observation is logged and ignored
// to defend against loops during rerouting.
func (t *Table) Learn(mac net.HardwareAddr, dpid uint64, port uint32) {
	key := mac.String()

	t.mu.Lock()
	defer t.mu.Unlock()

	if e, ok := t.byMAC[key]; ok {
		if e.Location.DPID != dpid || e.Location.Port != port {
			if t.log != nil {
				t.log.Warn("hostmap: ignoring relearn of %s at dpid=%d port=%d (seeded at dpid=%d port=%d)",
					key, dpid, port, e.Location.DPID, e.Location.Port)
			}
			return
		}
		return
	}

	t.byMAC[key] = &Entry{
		MAC:      key,
		Location: Location{DPID: dpid, Port: port},
	}
}

// LearnIP refines the reverse IP index for mac once an IP is observed
// on the wire (e.g. via ARP or an IPv4 packet's source address).
func (t *Table) LearnIP(mac net.HardwareAddr, ip net.IP) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.byMAC[mac.String()]
	if !ok {
		return
	}
	e.IP = ip
	t.byIP[ip.String()] = e
}

// ReseedSwitch is invoked on switch reconnect (spec.md §3): all entries
// attributed to dpid are dropped so a subsequent LoadFileForSwitch call
// can re-seed them cleanly, honoring "on reconnect they are re-seeded
// from file" without disturbing any other switch's entries.
func (t *Table) ReseedSwitch(dpid uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for k, e := range t.byMAC {
		if e.Location.DPID == dpid {
			delete(t.byMAC, k)
			if e.HostID != "" {
				delete(t.byHostID, e.HostID)
			}
			if e.IP != nil {
				delete(t.byIP, e.IP.String())
			}
		}
	}
}

// Size returns the number of learned/seeded entries, for the
// observability endpoint.
func (t *Table) Size() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.byMAC)
}
