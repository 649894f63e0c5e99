// Package frames models the inbound messages a client connection produces.
package frames

import (
	"time"
)

type Kind string

const (
	KindAudio   Kind = "audio"
	KindText    Kind = "text"
	KindUnknown Kind = "unknown"
)

const (
	MetaSessionID  = "session_id"
	MetaRemoteAddr = "remote_addr"
	MetaMsgType    = "msg_type"
)

type Frame interface {
	Kind() Kind
	PTS() int64
	Meta() map[string]string
}

// AudioFrame carries one raw PCM chunk as received from the transport.
type AudioFrame struct {
	pts  int64
	data []byte
	meta map[string]string
}

func NewAudioFrame(sessionID string, pts int64, data []byte, meta map[string]string) AudioFrame {
	return AudioFrame{
		pts:  pts,
		data: data,
		meta: mergeMeta(sessionID, meta),
	}
}

func (a AudioFrame) Kind() Kind              { return KindAudio }
func (a AudioFrame) PTS() int64              { return a.pts }
func (a AudioFrame) Meta() map[string]string { return cloneMeta(a.meta) }
func (a AudioFrame) Data() []byte            { return append([]byte(nil), a.data...) }
func (a AudioFrame) RawPayload() []byte      { return a.data }
func (a AudioFrame) Len() int                { return len(a.data) }

// TextFrame is a diagnostic message; it never enters the audio buffer.
type TextFrame struct {
	pts  int64
	text string
	meta map[string]string
}

func NewTextFrame(sessionID string, pts int64, text string, meta map[string]string) TextFrame {
	return TextFrame{
		pts:  pts,
		text: text,
		meta: mergeMeta(sessionID, meta),
	}
}

func (t TextFrame) Kind() Kind              { return KindText }
func (t TextFrame) PTS() int64              { return t.pts }
func (t TextFrame) Meta() map[string]string { return cloneMeta(t.meta) }
func (t TextFrame) Text() string            { return t.text }

// UnknownFrame wraps a transport message of a type the session cannot use.
type UnknownFrame struct {
	pts     int64
	msgType int
	size    int
	meta    map[string]string
}

func NewUnknownFrame(sessionID string, pts int64, msgType, size int, meta map[string]string) UnknownFrame {
	return UnknownFrame{
		pts:     pts,
		msgType: msgType,
		size:    size,
		meta:    mergeMeta(sessionID, meta),
	}
}

func (u UnknownFrame) Kind() Kind              { return KindUnknown }
func (u UnknownFrame) PTS() int64              { return u.pts }
func (u UnknownFrame) Meta() map[string]string { return cloneMeta(u.meta) }
func (u UnknownFrame) MsgType() int            { return u.msgType }
func (u UnknownFrame) Size() int               { return u.size }

// Clock hands out receive timestamps for one connection, in nanoseconds
// since its first frame. It belongs to the connection's reader goroutine
// and is not safe for concurrent use.
type Clock struct {
	start time.Time
	now   func() time.Time
}

func NewClock() *Clock {
	return &Clock{now: time.Now}
}

func (c *Clock) Next() int64 {
	now := c.now()
	if c.start.IsZero() {
		c.start = now
		return 0
	}
	return now.Sub(c.start).Nanoseconds()
}

func mergeMeta(sessionID string, meta map[string]string) map[string]string {
	out := make(map[string]string, 1+len(meta))
	if sessionID != "" {
		out[MetaSessionID] = sessionID
	}
	for k, v := range meta {
		out[k] = v
	}
	return out
}

func cloneMeta(meta map[string]string) map[string]string {
	out := make(map[string]string, len(meta))
	for k, v := range meta {
		out[k] = v
	}
	return out
}
