package event

import "encoding/json"

// Event is any payload carried over the push stream, inbound or outbound.
type Event interface {
	Op() string
}

type Metadata struct {
	// To is the channel the event is addressed to (room id or normalized
	// direct pair).
	To string `json:"to,omitempty"`
}

// Request is the wire envelope. Field names follow the compact form used
// by the push stream.
type Request struct {
	Op       string   `json:"o"`
	Data     any      `json:"d"`
	Metadata Metadata `json:"m"`
}

func New(ev Event, metadata Metadata) *Request {
	return &Request{
		Op:       ev.Op(),
		Data:     ev,
		Metadata: metadata,
	}
}

func (r *Request) Marshal() ([]byte, error) {
	return json.Marshal(r)
}

func Parse(b []byte) (*Request, error) {
	var req Request
	if err := json.Unmarshal(b, &req); err != nil {
		return nil, err
	}

	return &req, nil
}
