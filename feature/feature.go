// Package feature implements the offline feature extractor: it reads
// capture snapshot files in timestamp order, aggregates packets into
// bidirectional flows keyed by the canonical unordered 5-tuple, and
// emits the statistical attributes listed in spec.md §3/§4.8.
//
// The file-driven, one-record-struct-per-row shape follows the
// teacher's ovs.FlowStats: a plain value struct with exported fields
// and no hidden state, built up incrementally by an aggregator rather
// than computed in one pass.
package feature

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"sort"

	"github.com/ofcontrol/fplf/capture"
)

// Key is the canonical unordered 5-tuple identifying a bidirectional
// flow (spec.md §3 Flow record).
type Key struct {
	IPA, IPB     string
	PortA, PortB uint16
	Proto        string
}

// canonicalKey orders (ip,port) pairs lexicographically so that
// packets seen in either direction of a conversation hash to the same
// Key.
func canonicalKey(srcIP string, srcPort uint16, dstIP string, dstPort uint16, proto string) (Key, bool) {
	a := endpoint{ip: srcIP, port: srcPort}
	b := endpoint{ip: dstIP, port: dstPort}
	forward := true
	if b.less(a) {
		a, b = b, a
		forward = false
	}
	return Key{IPA: a.ip, IPB: b.ip, PortA: a.port, PortB: b.port, Proto: proto}, forward
}

type endpoint struct {
	ip   string
	port uint16
}

func (e endpoint) less(o endpoint) bool {
	if e.ip != o.ip {
		return e.ip < o.ip
	}
	return e.port < o.port
}

// Flow accumulates the packets belonging to one bidirectional
// conversation and derives the statistical attributes of spec.md §3
// once extraction is complete.
type Flow struct {
	Key Key

	firstTimestamp int64
	lastTimestamp  int64

	totalPackets int
	fwdPackets   int
	bwdPackets   int
	fwdBytes     int64
	bwdBytes     int64

	sizes    []float64
	fwdSizes []float64
	bwdSizes []float64

	fwdTimestamps []int64
	bwdTimestamps []int64

	tcpFlagCounts [8]int
	windowSum     int64
	windowCount   int
	ttlSum        int64
	ttlCount      int
	tosSum        int64
	tosCount      int
}

// Row is one emitted feature record (spec.md §3 Flow record, §4.8).
type Row struct {
	IPA          string `json:"ip_a"`
	IPB          string `json:"ip_b"`
	PortA, PortB uint16 `json:"-"`
	Proto        string `json:"proto"`
	TotalPackets int    `json:"total_packets"`
	FwdPackets   int    `json:"fwd_packets"`
	BwdPackets   int    `json:"bwd_packets"`
	FwdBytes     int64  `json:"fwd_bytes"`
	BwdBytes     int64  `json:"bwd_bytes"`
	DurationSecs float64 `json:"flow_duration"`
	PacketsPerSecond float64 `json:"packets_per_second"`
	BytesPerSecond   float64 `json:"bytes_per_second"`

	SizeMin, SizeMax, SizeMean, SizeStd float64

	FwdSizeMin, FwdSizeMax, FwdSizeMean, FwdSizeStd float64
	BwdSizeMin, BwdSizeMax, BwdSizeMean, BwdSizeStd float64

	IAMean, IAStd, IAMin, IAMax float64

	FwdIAMean, FwdIAStd, FwdIAMin, FwdIAMax float64
	BwdIAMean, BwdIAStd, BwdIAMin, BwdIAMax float64

	TCPFlagCounts [8]int  `json:"tcp_flag_counts"`
	MeanWindow    float64 `json:"mean_window"`
	MeanTTL       float64 `json:"mean_ttl"`
	MeanToS       float64 `json:"mean_tos"`

	SrcIP   string `json:"src_ip"`
	DstIP   string `json:"dst_ip"`
	SrcPort uint16 `json:"src_port"`
	DstPort uint16 `json:"dst_port"`
}

// FeatureValue resolves a named feature column to its value in r, the
// join the classifier uses to assemble a model's declared feature
// vector (spec.md §4.9 step 1). Unrecognized names report !ok so the
// caller can zero-fill rather than guess.
func (r Row) FeatureValue(name string) (float64, bool) {
	switch name {
	case "total_packets":
		return float64(r.TotalPackets), true
	case "fwd_packets":
		return float64(r.FwdPackets), true
	case "bwd_packets":
		return float64(r.BwdPackets), true
	case "fwd_bytes":
		return float64(r.FwdBytes), true
	case "bwd_bytes":
		return float64(r.BwdBytes), true
	case "flow_duration":
		return r.DurationSecs, true
	case "packets_per_second":
		return r.PacketsPerSecond, true
	case "bytes_per_second":
		return r.BytesPerSecond, true
	case "size_min":
		return r.SizeMin, true
	case "size_max":
		return r.SizeMax, true
	case "size_mean":
		return r.SizeMean, true
	case "size_std":
		return r.SizeStd, true
	case "fwd_size_min":
		return r.FwdSizeMin, true
	case "fwd_size_max":
		return r.FwdSizeMax, true
	case "fwd_size_mean":
		return r.FwdSizeMean, true
	case "fwd_size_std":
		return r.FwdSizeStd, true
	case "bwd_size_min":
		return r.BwdSizeMin, true
	case "bwd_size_max":
		return r.BwdSizeMax, true
	case "bwd_size_mean":
		return r.BwdSizeMean, true
	case "bwd_size_std":
		return r.BwdSizeStd, true
	case "ia_mean":
		return r.IAMean, true
	case "ia_std":
		return r.IAStd, true
	case "ia_min":
		return r.IAMin, true
	case "ia_max":
		return r.IAMax, true
	case "fwd_ia_mean":
		return r.FwdIAMean, true
	case "fwd_ia_std":
		return r.FwdIAStd, true
	case "fwd_ia_min":
		return r.FwdIAMin, true
	case "fwd_ia_max":
		return r.FwdIAMax, true
	case "bwd_ia_mean":
		return r.BwdIAMean, true
	case "bwd_ia_std":
		return r.BwdIAStd, true
	case "bwd_ia_min":
		return r.BwdIAMin, true
	case "bwd_ia_max":
		return r.BwdIAMax, true
	case "mean_window":
		return r.MeanWindow, true
	case "mean_ttl":
		return r.MeanTTL, true
	case "mean_tos":
		return r.MeanToS, true
	case "tcp_flag_0", "tcp_flag_1", "tcp_flag_2", "tcp_flag_3",
		"tcp_flag_4", "tcp_flag_5", "tcp_flag_6", "tcp_flag_7":
		bit := int(name[len(name)-1] - '0')
		return float64(r.TCPFlagCounts[bit]), true
	default:
		return 0, false
	}
}

// Aggregator folds a sequence of capture.Packet values, in arrival
// order, into per-flow accumulators.
type Aggregator struct {
	flows map[Key]*Flow
	// first seen direction's representative endpoints, kept so the
	// emitted Row can report a stable src/dst rather than the
	// canonical (lexicographic) ordering.
	firstSrc     map[Key]string
	firstDst     map[Key]string
	firstSrcPort map[Key]uint16
	firstDstPort map[Key]uint16
}

// NewAggregator creates an empty Aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{
		flows:        make(map[Key]*Flow),
		firstSrc:     make(map[Key]string),
		firstDst:     make(map[Key]string),
		firstSrcPort: make(map[Key]uint16),
		firstDstPort: make(map[Key]uint16),
	}
}

// Add folds one captured packet into its flow's accumulator. Packets
// with no IP layer (Protocol == "unknown") are skipped: the flow
// model is strictly IP-keyed (spec.md §3 Flow record key).
func (a *Aggregator) Add(p capture.Packet) {
	if p.SrcIP == "" || p.DstIP == "" {
		return
	}
	key, forward := canonicalKey(p.SrcIP, p.SrcPort, p.DstIP, p.DstPort, p.Protocol)

	f, ok := a.flows[key]
	if !ok {
		f = &Flow{Key: key, firstTimestamp: p.Timestamp, lastTimestamp: p.Timestamp}
		a.flows[key] = f
		a.firstSrc[key] = p.SrcIP
		a.firstDst[key] = p.DstIP
		a.firstSrcPort[key] = p.SrcPort
		a.firstDstPort[key] = p.DstPort
	}

	if p.Timestamp < f.firstTimestamp {
		f.firstTimestamp = p.Timestamp
	}
	if p.Timestamp > f.lastTimestamp {
		f.lastTimestamp = p.Timestamp
	}

	size := float64(p.Length)
	f.totalPackets++
	f.sizes = append(f.sizes, size)

	if forward {
		f.fwdPackets++
		f.fwdBytes += int64(p.Length)
		f.fwdSizes = append(f.fwdSizes, size)
		f.fwdTimestamps = append(f.fwdTimestamps, p.Timestamp)
	} else {
		f.bwdPackets++
		f.bwdBytes += int64(p.Length)
		f.bwdSizes = append(f.bwdSizes, size)
		f.bwdTimestamps = append(f.bwdTimestamps, p.Timestamp)
	}

	for bit := 0; bit < 8; bit++ {
		if p.TCPFlags&(1<<uint(bit)) != 0 {
			f.tcpFlagCounts[bit]++
		}
	}
	if p.Window != 0 {
		f.windowSum += int64(p.Window)
		f.windowCount++
	}
	if p.TTL != 0 {
		f.ttlSum += int64(p.TTL)
		f.ttlCount++
	}
	if p.ToS != 0 {
		f.tosSum += int64(p.ToS)
		f.tosCount++
	}
}

// Rows emits one Row per accumulated flow, in deterministic key order
// so re-running extraction on the same snapshots is reproducible.
func (a *Aggregator) Rows() []Row {
	keys := make([]Key, 0, len(a.flows))
	for k := range a.flows {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		return keyLess(keys[i], keys[j])
	})

	rows := make([]Row, 0, len(keys))
	for _, k := range keys {
		rows = append(rows, a.flows[k].row(a.firstSrc[k], a.firstDst[k], a.firstSrcPort[k], a.firstDstPort[k]))
	}
	return rows
}

func keyLess(a, b Key) bool {
	if a.IPA != b.IPA {
		return a.IPA < b.IPA
	}
	if a.IPB != b.IPB {
		return a.IPB < b.IPB
	}
	if a.PortA != b.PortA {
		return a.PortA < b.PortA
	}
	if a.PortB != b.PortB {
		return a.PortB < b.PortB
	}
	return a.Proto < b.Proto
}

// row derives the statistical attributes of spec.md §3 from a flow's
// accumulated packets. Flows with fewer than 2 packets still emit a
// row (per spec.md §4.8), with std/inter-arrival fields left at their
// zero value.
func (f *Flow) row(srcIP, dstIP string, srcPort, dstPort uint16) Row {
	duration := float64(f.lastTimestamp-f.firstTimestamp) / 1.0
	if duration < 0 {
		duration = 0
	}

	r := Row{
		IPA: f.Key.IPA, IPB: f.Key.IPB,
		PortA: f.Key.PortA, PortB: f.Key.PortB,
		Proto:        f.Key.Proto,
		TotalPackets: f.totalPackets,
		FwdPackets:   f.fwdPackets,
		BwdPackets:   f.bwdPackets,
		FwdBytes:     f.fwdBytes,
		BwdBytes:     f.bwdBytes,
		DurationSecs: duration,
		TCPFlagCounts: f.tcpFlagCounts,
		SrcIP:        srcIP,
		DstIP:        dstIP,
		SrcPort:      srcPort,
		DstPort:      dstPort,
	}

	if duration > 0 {
		r.PacketsPerSecond = float64(f.totalPackets) / duration
		r.BytesPerSecond = float64(f.fwdBytes+f.bwdBytes) / duration
	}

	r.SizeMin, r.SizeMax, r.SizeMean, r.SizeStd = stats(f.sizes)
	r.FwdSizeMin, r.FwdSizeMax, r.FwdSizeMean, r.FwdSizeStd = stats(f.fwdSizes)
	r.BwdSizeMin, r.BwdSizeMax, r.BwdSizeMean, r.BwdSizeStd = stats(f.bwdSizes)

	ia := interArrivals(f.fwdTimestamps, f.bwdTimestamps)
	r.IAMin, r.IAMax, r.IAMean, r.IAStd = stats(ia)

	fwdIA := interArrivalsOneDirection(f.fwdTimestamps)
	r.FwdIAMin, r.FwdIAMax, r.FwdIAMean, r.FwdIAStd = stats(fwdIA)
	bwdIA := interArrivalsOneDirection(f.bwdTimestamps)
	r.BwdIAMin, r.BwdIAMax, r.BwdIAMean, r.BwdIAStd = stats(bwdIA)

	if f.windowCount > 0 {
		r.MeanWindow = float64(f.windowSum) / float64(f.windowCount)
	}
	if f.ttlCount > 0 {
		r.MeanTTL = float64(f.ttlSum) / float64(f.ttlCount)
	}
	if f.tosCount > 0 {
		r.MeanToS = float64(f.tosSum) / float64(f.tosCount)
	}

	return r
}

// interArrivals merges both directions' timestamps and returns the
// deltas between consecutive packets, giving the flow's overall
// inter-arrival series (spec.md §3's undirected ia_mean/std/min/max).
func interArrivals(fwd, bwd []int64) []float64 {
	all := make([]int64, 0, len(fwd)+len(bwd))
	all = append(all, fwd...)
	all = append(all, bwd...)
	sort.Slice(all, func(i, j int) bool { return all[i] < all[j] })
	return deltas(all)
}

// interArrivalsOneDirection returns the deltas between consecutive
// packets of a single direction's timestamps, already in arrival order
// (spec.md §4.8: "Inter-arrival times are computed per direction").
func interArrivalsOneDirection(timestamps []int64) []float64 {
	ts := make([]int64, len(timestamps))
	copy(ts, timestamps)
	sort.Slice(ts, func(i, j int) bool { return ts[i] < ts[j] })
	return deltas(ts)
}

// deltas returns the consecutive differences of a sorted int64 series.
func deltas(sorted []int64) []float64 {
	if len(sorted) < 2 {
		return nil
	}
	out := make([]float64, 0, len(sorted)-1)
	for i := 1; i < len(sorted); i++ {
		out = append(out, float64(sorted[i]-sorted[i-1]))
	}
	return out
}

// stats returns (min, max, mean, stddev) of vals: all-zero for an
// empty slice, and stddev 0 for a single-element slice (spec.md §4.8:
// "undefined std/ia").
func stats(vals []float64) (min, max, mean, std float64) {
	if len(vals) == 0 {
		return 0, 0, 0, 0
	}
	min, max = vals[0], vals[0]
	var sum float64
	for _, v := range vals {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
		sum += v
	}
	mean = sum / float64(len(vals))
	if len(vals) < 2 {
		return min, max, mean, 0
	}
	var variance float64
	for _, v := range vals {
		d := v - mean
		variance += d * d
	}
	variance /= float64(len(vals))
	std = math.Sqrt(variance)
	return min, max, mean, std
}

// LoadSnapshot decodes one capture snapshot file (as written by
// capture.Ring's writeSnapshot) into its constituent packets.
func LoadSnapshot(path string) ([]capture.Packet, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("feature: read snapshot %s: %w", path, err)
	}
	var packets []capture.Packet
	if err := json.Unmarshal(b, &packets); err != nil {
		return nil, fmt.Errorf("feature: decode snapshot %s: %w", path, err)
	}
	return packets, nil
}

// ExtractFiles ingests snapshot files in the order given (callers are
// expected to have sorted them by the timestamp embedded in their
// filename, per spec.md §4.2's ordering contract) and returns one Row
// per observed flow.
func ExtractFiles(paths []string) ([]Row, error) {
	agg := NewAggregator()
	for _, path := range paths {
		packets, err := LoadSnapshot(path)
		if err != nil {
			return nil, err
		}
		for _, p := range packets {
			agg.Add(p)
		}
	}
	return agg.Rows(), nil
}
