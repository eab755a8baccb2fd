// Package classify implements the classification table: the
// (src_host, dst_host) -> traffic class mapping loaded from a CSV file
// and consumed by the router (spec.md §3 Classification record, §4.9,
// §6). The atomic pointer-swap reload pattern follows §9's "resolve
// the cyclic observation by publishing an atomically-swapped immutable
// snapshot" design note, and is grounded on the teacher's own
// write-once, read-many texture for small value types (ovs/flowstats.go).
package classify

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"sync/atomic"
)

// Class is the closed tagged set of traffic classes (spec.md §9:
// "model it as a sum type, never as string comparisons at call
// sites").
type Class uint8

const (
	ClassUnknown Class = iota
	ClassFTP
	ClassHTTP
	ClassSSH
	ClassVideo
)

// String renders the class the way it appears in the classification
// CSV (spec.md §6 traffic_type column).
func (c Class) String() string {
	switch c {
	case ClassFTP:
		return "FTP"
	case ClassHTTP:
		return "HTTP"
	case ClassSSH:
		return "SSH"
	case ClassVideo:
		return "VIDEO"
	default:
		return "UNKNOWN"
	}
}

// ParseClass maps a traffic_type column value to a Class, falling back
// to ClassUnknown for anything unrecognized (spec.md §7
// ClassifierUnavailable handling applies one level up, at table-load
// time; a single bad row never aborts the whole load).
func ParseClass(s string) Class {
	switch s {
	case "FTP":
		return ClassFTP
	case "HTTP":
		return ClassHTTP
	case "SSH":
		return ClassSSH
	case "VIDEO":
		return ClassVideo
	default:
		return ClassUnknown
	}
}

// Priority returns the class's routing priority (spec.md §3: priority
// ∈ {4,3,2,1,0}).
func (c Class) Priority() int {
	switch c {
	case ClassVideo:
		return 4
	case ClassSSH:
		return 3
	case ClassHTTP:
		return 2
	case ClassFTP:
		return 1
	default:
		return 0
	}
}

// Record is one classification table entry (spec.md §3 Classification
// record).
type Record struct {
	SrcHostID  string
	DstHostID  string
	Class      Class
	Confidence float64
}

type key struct {
	src, dst string
}

// Table is an immutable (src_host, dst_host) -> Record mapping. A new
// Table is built on each reload and swapped in atomically, so readers
// never observe a half-loaded table (spec.md §9).
type Table struct {
	records map[key]Record
}

// Lookup resolves a classification record for (srcHostID, dstHostID).
// Per spec.md §3's invariant, the caller is responsible for only
// calling Lookup when both ids come from the learned MAC-to-host
// mapping; an absent entry here means ClassUnknown/priority 0.
func (t *Table) Lookup(srcHostID, dstHostID string) (Record, bool) {
	if t == nil {
		return Record{}, false
	}
	r, ok := t.records[key{srcHostID, dstHostID}]
	return r, ok
}

// Len reports how many records the table holds.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.records)
}

// csv columns, per spec.md §6. The controller reads src_host,
// dst_host, traffic_type and confidence; flow_id and any other
// columns are not modeled as struct fields.
const (
	colFlowID           = "flow_id"
	colSrcHost          = "src_host"
	colDstHost          = "dst_host"
	colTrafficType      = "traffic_type"
	colConfidence       = "confidence"
)

// LoadFile reads a classification CSV from path and builds a Table.
func LoadFile(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("classify: open %s: %w", path, err)
	}
	defer f.Close()
	return Load(f)
}

// Load parses a classification CSV from r.
func Load(r io.Reader) (*Table, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("classify: read header: %w", err)
	}
	idx := make(map[string]int, len(header))
	for i, h := range header {
		idx[h] = i
	}
	for _, required := range []string{colSrcHost, colDstHost, colTrafficType, colConfidence} {
		if _, ok := idx[required]; !ok {
			return nil, fmt.Errorf("classify: missing required column %q", required)
		}
	}

	records := make(map[key]Record)
	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("classify: read row: %w", err)
		}

		src := row[idx[colSrcHost]]
		dst := row[idx[colDstHost]]
		if src == "" || dst == "" {
			continue
		}
		cls := ParseClass(row[idx[colTrafficType]])
		var confidence float64
		fmt.Sscanf(row[idx[colConfidence]], "%g", &confidence)

		rec := Record{SrcHostID: src, DstHostID: dst, Class: cls, Confidence: confidence}
		records[key{src, dst}] = rec

		// Synthesize the reverse direction if the file didn't carry
		// it explicitly (spec.md §3: "the loader synthesises the
		// reverse if absent").
		revKey := key{dst, src}
		if _, ok := records[revKey]; !ok {
			records[revKey] = Record{SrcHostID: dst, DstHostID: src, Class: cls, Confidence: confidence}
		}
	}

	return &Table{records: records}, nil
}

// Reloader holds the atomically-swapped pointer to the current Table,
// refreshed on a periodic tick by the controller's classification
// reloader worker (spec.md §5, §9).
type Reloader struct {
	path    string
	current atomic.Pointer[Table]
}

// NewReloader creates a Reloader for path. Call Reload once before
// serving traffic to perform the initial load.
func NewReloader(path string) *Reloader {
	return &Reloader{path: path}
}

// Reload re-reads the classification file and swaps it in. On error,
// the previously loaded Table (if any) remains in effect — a missing
// or corrupt file degrades to ClassifierUnavailable handling by the
// router (spec.md §7), it never panics the reloader.
func (r *Reloader) Reload() error {
	t, err := LoadFile(r.path)
	if err != nil {
		return err
	}
	r.current.Store(t)
	return nil
}

// Table returns the currently active table (possibly nil before the
// first successful Reload).
func (r *Reloader) Table() *Table {
	return r.current.Load()
}

// Store installs tbl directly, bypassing the file read. Used to seed a
// Reloader from an already-parsed Table, e.g. in tests that construct
// a Table from an in-memory reader rather than a path on disk.
func (r *Reloader) Store(tbl *Table) {
	r.current.Store(tbl)
}
