package stream

import "time"

// Frame is one encoded snapshot of the session's rendered output
type Frame struct {
	Seq        uint64
	SessionID  string
	Data       []byte
	CapturedAt time.Time
}

// envelope is the wire form of a frame. One encoding, applied uniformly:
// a tagged JSON message whose payload is base64 JPEG.
type envelope struct {
	Type    string `json:"type"`
	Seq     uint64 `json:"seq"`
	Session string `json:"session"`
	Data    []byte `json:"data"`
}
