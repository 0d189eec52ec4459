package acp

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"math"
	"strconv"
	"strings"
)

// Message is a decoded line that qualifies as a JSON-RPC request,
// notification or response. Field shapes below the envelope are not
// guaranteed, so params, result and error stay generic.
type Message struct {
	Params map[string]any
	Result any
	Error  any
	// Method is set for requests and notifications.
	Method string
	// ID is the normalized correlation key; valid only when HasID is true.
	ID    string
	HasID bool
	// IsResponse distinguishes responses from requests and notifications.
	IsResponse bool
	HasError   bool
}

// DecodeLine strictly decodes one line of JSON. Trailing data after the
// first value is an error. Numbers decode as json.Number.
func DecodeLine(line []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(line))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	var extra any
	if err := dec.Decode(&extra); !errors.Is(err, io.EOF) {
		return nil, errTrailingData
	}
	return v, nil
}

var errTrailingData = errors.New("trailing data after JSON value")

// Classify reports whether v is a protocol message: a JSON object that
// carries a method, or an id together with exactly one of result and error.
// A null result or error counts as absent.
func Classify(v any) (*Message, bool) {
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, false
	}

	rawID, idPresent := obj["id"]
	id, hasID := NormalizeID(rawID)

	if method, _ := obj["method"].(string); method != "" {
		params, _ := obj["params"].(map[string]any)
		return &Message{Method: method, Params: params, ID: id, HasID: hasID}, true
	}

	result, hasResult := obj["result"]
	hasResult = hasResult && result != nil
	errVal, hasError := obj["error"]
	hasError = hasError && errVal != nil
	if !idPresent || hasResult == hasError {
		return nil, false
	}
	return &Message{
		ID:         id,
		HasID:      hasID,
		IsResponse: true,
		Result:     result,
		Error:      errVal,
		HasError:   hasError,
	}, true
}

// NormalizeID turns a JSON-RPC id into a comparison key. Numbers are
// stringified so 3 and 3.0 compare equal, strings pass through, and
// anything else (including a missing or null id) is uncorrelatable.
func NormalizeID(v any) (string, bool) {
	switch id := v.(type) {
	case string:
		return id, true
	case json.Number:
		if n, err := id.Int64(); err == nil {
			return strconv.FormatInt(n, 10), true
		}
		// Integers beyond int64 keep their literal digits; float64 would
		// fold neighbouring ids onto one key.
		if !strings.ContainsAny(string(id), ".eE") {
			return string(id), true
		}
		f, err := id.Float64()
		if err != nil {
			return "", false
		}
		return formatFloat(f)
	case float64:
		return formatFloat(id)
	case int:
		return strconv.Itoa(id), true
	case int64:
		return strconv.FormatInt(id, 10), true
	default:
		return "", false
	}
}

func formatFloat(f float64) (string, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return "", false
	}
	return strconv.FormatFloat(f, 'f', -1, 64), true
}

// DecodeBatch reads newline-delimited messages from r and returns every
// line that qualifies as a protocol message, in order. Blank, malformed and
// non-qualifying lines are discarded. Only read errors are returned.
func DecodeBatch(r io.Reader) ([]*Message, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	var msgs []*Message
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		v, err := DecodeLine(line)
		if err != nil {
			continue
		}
		if msg, ok := Classify(v); ok {
			msgs = append(msgs, msg)
		}
	}
	if err := scanner.Err(); err != nil {
		return msgs, &ProtocolError{Message: "failed to read protocol log", Cause: err}
	}
	return msgs, nil
}

// maxLineBytes bounds a single protocol line read by the batch decoder and
// the connection read loop.
const maxLineBytes = 16 * 1024 * 1024
