// Package message defines the JSON envelopes exchanged with the backend
// worker process.
//
// A request names a worker and carries its arguments; a response carries a
// status flag and the worker's results. Envelopes are what travels inside a
// protocol frame — the framing layer never looks at their contents.
package message

import "encoding/json"

// Request asks the backend to execute one named worker.
//
//   - RequestID is a uuid4 string used for tracing and log correlation only.
//     The response does not echo it back: correlation is implicit because
//     every request travels on its own dedicated connection. If requests are
//     ever multiplexed over a shared socket, the response MUST start echoing
//     RequestID and the client MUST match on it.
//   - Worker is the fully qualified name of the callable to execute,
//     e.g. "workers.echo".
//   - Data is any JSON-serializable value, passed through opaquely.
type Request struct {
	RequestID string `json:"request_id"`
	Worker    string `json:"worker"`
	Data      any    `json:"data"`
}

// Response reports the outcome of one worker execution.
//
// Status is false when the worker failed (unknown worker, worker returned an
// error, worker panicked). That is an application-level failure: the round
// trip itself succeeded. Results carries the worker's output on success, or
// a diagnostic string on failure.
type Response struct {
	Status  bool `json:"status"`
	Results any  `json:"results"`
}

// Marshal encodes the request envelope as UTF-8 JSON.
func (r *Request) Marshal() ([]byte, error) {
	return json.Marshal(r)
}

// DecodeResponse parses a response envelope from raw payload bytes.
func DecodeResponse(payload []byte) (*Response, error) {
	var resp Response
	if err := json.Unmarshal(payload, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
