package sink

import (
	"context"
	"encoding/json"
	"io"
	"sync"

	"github.com/bazelment/yoloswe/acpbridge/reply"
)

// Record is one line written by JSONLines.
type Record struct {
	Meta *reply.Meta `json:"meta,omitempty"`
	Kind reply.Kind  `json:"kind"`
	Text string      `json:"text"`
	Seq  int         `json:"seq"`
}

// JSONLines writes each delivery as one JSON object per line, for piping
// into another program.
type JSONLines struct {
	enc *json.Encoder
	seq int
	mu  sync.Mutex
}

// NewJSONLines creates a sink writing to w.
func NewJSONLines(w io.Writer) *JSONLines {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return &JSONLines{enc: enc}
}

// Deliver implements reply.Deliverer.
func (j *JSONLines) Deliver(_ context.Context, kind reply.Kind, payload reply.Payload, meta *reply.Meta) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.seq++
	return j.enc.Encode(Record{Seq: j.seq, Kind: kind, Text: payload.Text, Meta: meta})
}
