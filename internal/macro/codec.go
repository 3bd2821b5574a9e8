package macro

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/tidwall/gjson"
)

// CurrentVersion is the format version written by Encode
const CurrentVersion = 2

// Defaults applied when a file omits a field
const (
	DefaultRepeatDelayMs = 250
	DefaultToggleKey     = "f8"
)

// Document is a macro together with the playback settings saved alongside it
type Document struct {
	Version       int
	Events        []Event
	RepeatEnabled bool
	RepeatDelayMs int
	PlayToggleKey string
}

type fileEvent struct {
	Key   string  `json:"key"`
	Delay float64 `json:"delay"` // seconds
}

type fileDocument struct {
	Version       int         `json:"version"`
	Events        []fileEvent `json:"events"`
	RepeatEnabled bool        `json:"repeat_enabled"`
	RepeatDelayMs int         `json:"repeat_delay_ms"`
	PlayToggleKey string      `json:"play_toggle_key"`
}

// documentSchema only checks structure. Field level problems are handled
// leniently by Decode.
const documentSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "properties": {
    "events": { "type": "array" }
  }
}`

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		schema, schemaErr = jsonschema.CompileString("keymacro-document.schema.json", documentSchema)
	})
	return schema, schemaErr
}

// Encode serializes a document to indented JSON
func Encode(doc Document) ([]byte, error) {
	fd := fileDocument{
		Version:       CurrentVersion,
		Events:        make([]fileEvent, 0, len(doc.Events)),
		RepeatEnabled: doc.RepeatEnabled,
		RepeatDelayMs: doc.RepeatDelayMs,
		PlayToggleKey: normalizeToggle(doc.PlayToggleKey),
	}
	if fd.RepeatDelayMs < 0 {
		fd.RepeatDelayMs = 0
	}
	for _, ev := range doc.Events {
		fd.Events = append(fd.Events, fileEvent{Key: ev.Key, Delay: ev.Delay.Seconds()})
	}

	data, err := json.MarshalIndent(fd, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal macro: %w", err)
	}
	return data, nil
}

// Decode parses a macro document.
//
// The file as a whole must be a JSON object whose "events" field, if present,
// is an array. Anything else fails with ErrMalformed. Individual entries are
// parsed leniently: entries without a non-empty key or with an unusable delay
// are dropped, negative delays become zero and a missing delay means zero.
func Decode(data []byte) (Document, error) {
	if !gjson.ValidBytes(data) {
		return Document{}, fmt.Errorf("%w: not valid JSON", ErrMalformed)
	}

	sch, err := compiledSchema()
	if err != nil {
		return Document{}, fmt.Errorf("compile macro schema: %w", err)
	}
	var instance any
	if err := json.Unmarshal(data, &instance); err != nil {
		return Document{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := sch.Validate(instance); err != nil {
		return Document{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	root := gjson.ParseBytes(data)

	doc := Document{
		Version:       int(root.Get("version").Int()),
		RepeatDelayMs: DefaultRepeatDelayMs,
		PlayToggleKey: DefaultToggleKey,
	}
	if doc.Version > CurrentVersion {
		return Document{}, fmt.Errorf("%w: %d (max supported: %d)", ErrUnsupportedVersion, doc.Version, CurrentVersion)
	}

	doc.Events = decodeEvents(root.Get("events"))

	if v := root.Get("repeat_enabled"); v.Exists() {
		doc.RepeatEnabled = v.Bool()
	}
	if ms, ok := parseRepeatDelay(root.Get("repeat_delay_ms")); ok {
		doc.RepeatDelayMs = ms
	}
	if v := root.Get("play_toggle_key"); v.Exists() && v.Type != gjson.Null {
		doc.PlayToggleKey = normalizeToggle(v.String())
	}

	return doc, nil
}

func decodeEvents(list gjson.Result) []Event {
	events := make([]Event, 0)
	if !list.Exists() {
		return events
	}
	list.ForEach(func(_, entry gjson.Result) bool {
		if ev, ok := decodeEvent(entry); ok {
			events = append(events, ev)
		}
		return true
	})
	return events
}

func decodeEvent(entry gjson.Result) (Event, bool) {
	if !entry.IsObject() {
		return Event{}, false
	}

	k := entry.Get("key")
	if !k.Exists() || k.Type == gjson.Null {
		return Event{}, false
	}
	key := strings.ToLower(k.String())
	if key == "" {
		return Event{}, false
	}

	sec, ok := parseSeconds(entry.Get("delay"))
	if !ok {
		return Event{}, false
	}
	return Event{Key: key, Delay: secondsToDuration(sec)}, true
}

// parseSeconds coerces a delay value. Missing or null means zero.
func parseSeconds(v gjson.Result) (float64, bool) {
	var sec float64
	switch v.Type {
	case gjson.Null:
		return 0, true
	case gjson.Number, gjson.True, gjson.False:
		sec = v.Float()
	case gjson.String:
		f, err := strconv.ParseFloat(strings.TrimSpace(v.Str), 64)
		if err != nil {
			return 0, false
		}
		sec = f
	default:
		return 0, false
	}
	if math.IsInf(sec, 0) {
		return 0, false
	}
	if math.IsNaN(sec) || sec < 0 {
		sec = 0
	}
	return sec, true
}

// parseRepeatDelay reads repeat_delay_ms. Numbers are truncated and strings
// must hold a base-10 integer. Anything else, including "250.5", reports
// false and the caller keeps DefaultRepeatDelayMs rather than a previous
// value. Negative values clamp to 0.
func parseRepeatDelay(v gjson.Result) (int, bool) {
	var ms int64
	switch v.Type {
	case gjson.Number:
		ms = v.Int()
	case gjson.String:
		n, err := strconv.ParseInt(strings.TrimSpace(v.Str), 10, 64)
		if err != nil {
			return 0, false
		}
		ms = n
	default:
		return 0, false
	}
	if ms < 0 {
		ms = 0
	}
	return int(ms), true
}

func normalizeToggle(spec string) string {
	spec = strings.ToLower(strings.TrimSpace(spec))
	if spec == "" {
		return DefaultToggleKey
	}
	return spec
}
