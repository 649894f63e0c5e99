package observers

import (
	"bufio"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/harunnryd/wavdispatch/pkg/metrics"
	"github.com/harunnryd/wavdispatch/pkg/redact"
)

// TimelineObserver keeps a JSONL trace per session under dir, named
// <session>.jsonl. Each line carries the offset from the session's first
// event, so window spacing can be read straight off the file. The trace is
// flushed and closed when session_close arrives.
type TimelineObserver struct {
	dir string

	mu     sync.Mutex
	traces map[string]*trace
}

type trace struct {
	f     *os.File
	w     *bufio.Writer
	enc   *json.Encoder
	start time.Time
}

type timelineLine struct {
	OffsetMS int64             `json:"t_ms"`
	Time     time.Time         `json:"time"`
	Event    string            `json:"event"`
	Value    float64           `json:"value,omitempty"`
	Tags     map[string]string `json:"tags,omitempty"`
	Fields   map[string]any    `json:"fields,omitempty"`
}

func NewTimelineObserver(dir string) *TimelineObserver {
	return &TimelineObserver{dir: strings.TrimSpace(dir), traces: make(map[string]*trace)}
}

func (o *TimelineObserver) RecordEvent(ev metrics.MetricsEvent) {
	id := SanitizeID(ev.Tags[metrics.TagSessionID])
	if id == "" || o.dir == "" {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()

	tr := o.traces[id]
	if tr == nil {
		var err error
		if tr, err = o.open(id, ev.Time); err != nil {
			return
		}
		o.traces[id] = tr
	}
	_ = tr.enc.Encode(timelineLine{
		OffsetMS: ev.Time.Sub(tr.start).Milliseconds(),
		Time:     ev.Time.UTC(),
		Event:    ev.Name,
		Value:    ev.Value,
		Tags:     withoutSessionTag(ev.Tags),
		Fields:   redactFields(ev.Fields),
	})
	if ev.Name == metrics.EventSessionClose {
		delete(o.traces, id)
		_ = tr.close()
	}
}

// Close flushes and closes traces of sessions that never reported a close.
func (o *TimelineObserver) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	var errs error
	for id, tr := range o.traces {
		errs = errors.Join(errs, tr.close())
		delete(o.traces, id)
	}
	return errs
}

func (o *TimelineObserver) open(id string, start time.Time) (*trace, error) {
	if err := os.MkdirAll(o.dir, 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(filepath.Join(o.dir, id+".jsonl"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	if start.IsZero() {
		start = time.Now()
	}
	w := bufio.NewWriter(f)
	return &trace{f: f, w: w, enc: json.NewEncoder(w), start: start}, nil
}

func (t *trace) close() error {
	return errors.Join(t.w.Flush(), t.f.Close())
}

// SanitizeID maps an id onto a filesystem-safe name.
func SanitizeID(id string) string {
	id = strings.TrimSpace(id)
	if id == "" {
		return ""
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-' || r == '_' || r == '.':
			return r
		default:
			return '_'
		}
	}, id)
}

func withoutSessionTag(in map[string]string) map[string]string {
	if len(in) <= 1 {
		return nil
	}
	out := make(map[string]string, len(in)-1)
	for k, v := range in {
		if k != metrics.TagSessionID {
			out[k] = v
		}
	}
	return out
}

func redactFields(in map[string]any) map[string]any {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		if s, ok := v.(string); ok {
			v = redact.Text(s)
		}
		out[k] = v
	}
	return out
}

var _ metrics.Observer = (*TimelineObserver)(nil)
