package wire

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/wagiedev/exsi-sdk-go/internal/errors"
)

// EventKind classifies an inbound controller message.
type EventKind int

// Event kinds. The set is closed; anything else is EventUnknown.
const (
	EventUnknown EventKind = iota
	EventConnected
	EventAck
	EventExamInfo
	EventProtocolLoaded
	EventTaskSelected
	EventNotifyToggled
	EventAcquisition
	EventPrescanValues
)

var eventKindNames = map[EventKind]string{
	EventUnknown:        "unknown",
	EventConnected:      "connected",
	EventAck:            "ack",
	EventExamInfo:       "exam-info",
	EventProtocolLoaded: "protocol-loaded",
	EventTaskSelected:   "task-selected",
	EventNotifyToggled:  "notify-toggled",
	EventAcquisition:    "acquisition",
	EventPrescanValues:  "prescan-values",
}

// String implements fmt.Stringer.
func (k EventKind) String() string {
	if s, ok := eventKindNames[k]; ok {
		return s
	}

	return "unknown"
}

// Event is a decoded controller message.
type Event struct {
	Kind EventKind

	// Name is the key of the leading "Name=status" token.
	Name string

	// Status is the value of the leading token ("ok", "fail", ...).
	Status string

	// Fields holds the remaining key=value pairs.
	Fields map[string]string

	// TaskKeys is set for EventProtocolLoaded.
	TaskKeys []string

	// Raw is the message text after the routing prefix was removed.
	Raw string

	// Counter is the command counter of the routing header. Routed is
	// false when the message carried none.
	Counter uint64
	Routed  bool
}

// Failed reports whether the controller signalled a failure: "fail" in the
// status or in any field value, or an error field.
func (e Event) Failed() bool {
	if isFailure(e.Status) {
		return true
	}

	if _, hasErr := e.Fields["error"]; hasErr {
		return true
	}

	for _, v := range e.Fields {
		if isFailure(v) {
			return true
		}
	}

	return false
}

func isFailure(v string) bool {
	return strings.Contains(strings.ToLower(v), "fail")
}

// AcquisitionComplete reports whether the event announces a finished
// acquisition.
func (e Event) AcquisitionComplete() bool {
	if e.Name == fieldAcquisition {
		return e.Status == "complete"
	}

	return e.Fields[fieldAcquisition] == "complete"
}

const (
	fieldAcquisition = "acquisition"
	fieldTaskKeys    = "taskKeys"
)

// routingPrefix matches a leftover "tag:1:counter<" routing header.
var routingPrefix = regexp.MustCompile(`^[^\s=<>]+:\d+:(\d+)<`)

// StripRouting removes the routing prefix from an inbound message: the
// text up to and including the first '<', plus a "tag:1:n<" header if one
// follows it. Trailing whitespace, NULs and '>' are dropped.
func StripRouting(msg string) string {
	text, _, _ := splitRouting(msg)

	return text
}

// splitRouting is StripRouting that also returns the header's counter.
func splitRouting(msg string) (string, uint64, bool) {
	if i := strings.IndexByte(msg, '<'); i >= 0 {
		msg = msg[i+1:]
	}

	var (
		counter uint64
		routed  bool
	)

	if m := routingPrefix.FindStringSubmatchIndex(msg); m != nil {
		if n, err := strconv.ParseUint(msg[m[2]:m[3]], 10, 64); err == nil {
			counter, routed = n, true
		}

		msg = msg[m[1]:]
	}

	text := strings.TrimRightFunc(msg, func(r rune) bool {
		return unicode.IsSpace(r) || r == 0 || r == '>'
	})

	return text, counter, routed
}

// ParseEvent decodes and classifies one inbound message.
//
// Returns ErrUnknownEvent (with the partially decoded event) when the
// message does not match any known kind. Callers log and drop those.
func ParseEvent(msg string) (Event, error) {
	raw, counter, routed := splitRouting(msg)
	ev := Event{Raw: raw, Fields: make(map[string]string), Counter: counter, Routed: routed}

	tokens := tokenize(raw)
	if len(tokens) == 0 {
		return ev, errors.ErrUnknownEvent
	}

	name, status, hasStatus := strings.Cut(tokens[0], "=")
	ev.Name = name
	ev.Status = unquote(status)

	for _, tok := range tokens[1:] {
		key, value, _ := strings.Cut(tok, "=")
		ev.Fields[key] = unquote(value)
	}

	switch {
	case name == "ConnectToScanner":
		ev.Kind = EventConnected
	case name == "NotifyEvent":
		ev.Kind = EventNotifyToggled
	case name == "LoadProtocol":
		ev.Kind = EventProtocolLoaded
		ev.TaskKeys = splitKeys(ev.Fields[fieldTaskKeys])
	case name == "SelectTask":
		ev.Kind = EventTaskSelected
	case name == "ExamInfo" || name == "GetExamInfo":
		ev.Kind = EventExamInfo
	case name == "GetPrescanValues":
		ev.Kind = EventPrescanValues
	case name == fieldAcquisition:
		ev.Kind = EventAcquisition
	case ev.Fields[fieldAcquisition] != "" && name != "Scan":
		ev.Kind = EventAcquisition
	case hasStatus:
		ev.Kind = EventAck
	default:
		return ev, errors.ErrUnknownEvent
	}

	// A Scan reply that already carries the completion is both.
	if name == "Scan" && ev.AcquisitionComplete() {
		ev.Kind = EventAcquisition
	}

	return ev, nil
}

// tokenize splits on whitespace outside double quotes.
func tokenize(s string) []string {
	var (
		tokens  []string
		cur     strings.Builder
		inQuote bool
		escaped bool
	)

	flush := func() {
		if cur.Len() > 0 {
			tokens = append(tokens, cur.String())
			cur.Reset()
		}
	}

	for _, r := range s {
		switch {
		case escaped:
			cur.WriteRune(r)

			escaped = false
		case r == '\\' && inQuote:
			cur.WriteRune(r)

			escaped = true
		case r == '"':
			cur.WriteRune(r)

			inQuote = !inQuote
		case unicode.IsSpace(r) && !inQuote:
			flush()
		default:
			cur.WriteRune(r)
		}
	}

	flush()

	return tokens
}

func unquote(v string) string {
	if len(v) < 2 || v[0] != '"' || v[len(v)-1] != '"' {
		return v
	}

	v = v[1 : len(v)-1]

	var b strings.Builder

	escaped := false

	for _, r := range v {
		if !escaped && r == '\\' {
			escaped = true

			continue
		}

		escaped = false

		b.WriteRune(r)
	}

	return b.String()
}

func splitKeys(s string) []string {
	if s == "" {
		return nil
	}

	parts := strings.Split(s, ",")
	keys := make([]string, 0, len(parts))

	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			keys = append(keys, p)
		}
	}

	return keys
}
