// Package classifier implements the offline classifier & export
// pipeline (spec.md §4.9): it loads a trained model blob as an opaque
// artifact, scores each extracted flow feature row, applies the
// well-known-port override, joins the result with the host map, and
// atomically publishes the classification table file the controller
// reloads.
//
// The model itself (weights, scaler, label order) is produced by the
// training collaborator named as external in spec.md §1; this package
// only ever reads it. The value-struct-plus-JSON-decode shape mirrors
// feature.Row's own decode idiom, and the write-then-rename publish
// follows capture.Ring.writeSnapshot's atomic-file idiom (spec.md §4.9
// step 6, §9's "atomically-swapped immutable snapshot" design note).
package classifier

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"math"
	"net"
	"os"
	"path/filepath"
	"strconv"

	"github.com/google/uuid"

	"github.com/ofcontrol/fplf/classify"
	"github.com/ofcontrol/fplf/feature"
	"github.com/ofcontrol/fplf/hostmap"
)

// Model is the opaque artifact produced by the external training
// collaborator: the feature column order, class label encoder, and a
// linear model's per-class weights/bias over the standardized feature
// vector (spec.md §4.9 steps 1-2).
type Model struct {
	FeatureOrder []string             `json:"feature_order"`
	Labels       []string             `json:"labels"`
	ScalerMean   map[string]float64   `json:"scaler_mean"`
	ScalerVar    map[string]float64   `json:"scaler_var"`
	Weights      [][]float64          `json:"weights"` // [label][feature]
	Bias         []float64            `json:"bias"`    // [label]
}

// LoadModel reads a model blob from path.
func LoadModel(path string) (*Model, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("classifier: read model %s: %w", path, err)
	}
	var m Model
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("classifier: decode model %s: %w", path, err)
	}
	if len(m.Labels) == 0 || len(m.Weights) != len(m.Labels) || len(m.Bias) != len(m.Labels) {
		return nil, fmt.Errorf("classifier: model %s: labels/weights/bias size mismatch", path)
	}
	for i, w := range m.Weights {
		if len(w) != len(m.FeatureOrder) {
			return nil, fmt.Errorf("classifier: model %s: weight row %d has %d entries, want %d", path, i, len(w), len(m.FeatureOrder))
		}
	}
	return &m, nil
}

// vector assembles row's feature vector in the model's declared
// column order and applies the stored scaler (spec.md §4.9 steps 1-2).
// Missing columns are zero-filled before scaling, per step 1.
func (m *Model) vector(row feature.Row) []float64 {
	vec := make([]float64, len(m.FeatureOrder))
	for i, name := range m.FeatureOrder {
		v, ok := row.FeatureValue(name)
		if !ok {
			v = 0
		}
		mean := m.ScalerMean[name]
		std := math.Sqrt(m.ScalerVar[name])
		if std > 0 {
			vec[i] = (v - mean) / std
		} else {
			vec[i] = v - mean
		}
	}
	return vec
}

// Predict scores row against every class and returns the argmax label
// with its softmax confidence (spec.md §4.9 steps 2-3).
func (m *Model) Predict(row feature.Row) (label string, confidence float64) {
	vec := m.vector(row)

	scores := make([]float64, len(m.Labels))
	for c := range m.Labels {
		s := m.Bias[c]
		w := m.Weights[c]
		for j, x := range vec {
			s += w[j] * x
		}
		scores[c] = s
	}

	probs := softmax(scores)
	best := 0
	for i := 1; i < len(probs); i++ {
		if probs[i] > probs[best] {
			best = i
		}
	}
	return m.Labels[best], probs[best]
}

func softmax(scores []float64) []float64 {
	max := scores[0]
	for _, s := range scores[1:] {
		if s > max {
			max = s
		}
	}
	exps := make([]float64, len(scores))
	var sum float64
	for i, s := range scores {
		exps[i] = math.Exp(s - max)
		sum += exps[i]
	}
	if sum == 0 {
		return exps
	}
	for i := range exps {
		exps[i] /= sum
	}
	return exps
}

// portOverrideTable is the well-known-port reliability lever (spec.md
// §4.9 step 4), checked dst port first, then src port.
var portOverrideTable = map[uint16]classify.Class{
	80:   classify.ClassHTTP,
	8080: classify.ClassHTTP,
	443:  classify.ClassHTTP,
	20:   classify.ClassFTP,
	21:   classify.ClassFTP,
	22:   classify.ClassSSH,
	5004: classify.ClassVideo,
	5006: classify.ClassVideo,
	1935: classify.ClassVideo,
}

// applyPortOverride implements spec.md §4.9 step 4 exactly: "if the
// flow's dst port (else src port) is a well-known port ..., override
// the predicted class ... and set confidence=1.0".
func applyPortOverride(dstPort, srcPort uint16, predicted classify.Class, confidence float64) (classify.Class, float64) {
	if cls, ok := portOverrideTable[dstPort]; ok {
		return cls, 1.0
	}
	if cls, ok := portOverrideTable[srcPort]; ok {
		return cls, 1.0
	}
	return predicted, confidence
}

// Classification is one row of the classification table file (spec.md
// §6 columns), before the host-map join keys it by symbolic host id.
type Classification struct {
	FlowID           string
	SrcHost, DstHost string
	SrcIP, DstIP     string
	SrcPort, DstPort uint16
	Protocol         string
	Class            classify.Class
	Confidence       float64
	TotalPackets     int
	TotalBytes       int64
	FlowDuration     float64
	PacketsPerSecond float64
}

// ClassifyRow runs the per-flow pipeline of spec.md §4.9 steps 1-4: it
// assembles the feature vector, invokes the model, takes the argmax,
// and applies the well-known-port override.
func ClassifyRow(row feature.Row, model *Model) Classification {
	label, confidence := model.Predict(row)
	cls := classify.ParseClass(label)
	cls, confidence = applyPortOverride(row.DstPort, row.SrcPort, cls, confidence)

	return Classification{
		SrcIP:            row.SrcIP,
		DstIP:            row.DstIP,
		SrcPort:          row.SrcPort,
		DstPort:          row.DstPort,
		Protocol:         row.Proto,
		Class:            cls,
		Confidence:       confidence,
		TotalPackets:     row.TotalPackets,
		TotalBytes:       row.FwdBytes + row.BwdBytes,
		FlowDuration:     row.DurationSecs,
		PacketsPerSecond: row.PacketsPerSecond,
	}
}

// Export runs the full offline pipeline over rows: classify each flow,
// join with hosts by (src_ip, dst_ip) (spec.md §4.9 step 5, dropping
// flows with no host-mapped endpoint), synthesize the reverse-direction
// record, and atomically publish the classification CSV file at
// outPath (spec.md §4.9 step 6, §6 columns). It returns the number of
// rows written (both directions counted).
func Export(rows []feature.Row, model *Model, hosts *hostmap.Table, outPath string) (int, error) {
	joined := make([]Classification, 0, 2*len(rows))

	for _, row := range rows {
		c := ClassifyRow(row, model)

		srcHost, ok1 := hosts.HostIDByIP(net.ParseIP(row.SrcIP))
		dstHost, ok2 := hosts.HostIDByIP(net.ParseIP(row.DstIP))
		if !ok1 || !ok2 {
			continue
		}

		c.FlowID = uuid.NewString()
		c.SrcHost, c.DstHost = srcHost, dstHost
		joined = append(joined, c)

		// Synthesize the reverse direction explicitly (spec.md §3:
		// "both directions of a conversation are stored as two
		// records").
		rev := c
		rev.FlowID = uuid.NewString()
		rev.SrcHost, rev.DstHost = dstHost, srcHost
		rev.SrcIP, rev.DstIP = c.DstIP, c.SrcIP
		rev.SrcPort, rev.DstPort = c.DstPort, c.SrcPort
		joined = append(joined, rev)
	}

	return len(joined), writeCSV(outPath, joined)
}

var csvHeader = []string{
	"flow_id", "src_host", "dst_host", "src_ip", "dst_ip", "src_port",
	"dst_port", "protocol", "traffic_type", "confidence", "total_packets",
	"total_bytes", "flow_duration", "packets_per_second",
}

// writeCSV serializes rows to outPath using a temp-file-then-rename so
// the controller's reloader never observes a half-written table
// (spec.md §4.9 step 6).
func writeCSV(outPath string, rows []Classification) error {
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return fmt.Errorf("classifier: mkdir %s: %w", filepath.Dir(outPath), err)
	}

	tmp := outPath + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("classifier: create %s: %w", tmp, err)
	}

	w := csv.NewWriter(f)
	if err := w.Write(csvHeader); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("classifier: write header: %w", err)
	}
	for _, r := range rows {
		record := []string{
			r.FlowID, r.SrcHost, r.DstHost, r.SrcIP, r.DstIP,
			strconv.Itoa(int(r.SrcPort)), strconv.Itoa(int(r.DstPort)),
			r.Protocol, r.Class.String(), strconv.FormatFloat(r.Confidence, 'f', 4, 64),
			strconv.Itoa(r.TotalPackets), strconv.FormatInt(r.TotalBytes, 10),
			strconv.FormatFloat(r.FlowDuration, 'f', 6, 64),
			strconv.FormatFloat(r.PacketsPerSecond, 'f', 6, 64),
		}
		if err := w.Write(record); err != nil {
			f.Close()
			os.Remove(tmp)
			return fmt.Errorf("classifier: write row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("classifier: flush: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("classifier: close %s: %w", tmp, err)
	}

	if err := os.Rename(tmp, outPath); err != nil {
		return fmt.Errorf("classifier: rename %s: %w", tmp, err)
	}
	return nil
}
