package wire

import (
	"strings"
	"unicode"
)

// AckRule decides which inbound event resolves an in-flight command.
type AckRule int

const (
	// AckOnReply resolves the command on the first event carrying the
	// command's own name ("LoadProtocol=ok ...").
	AckOnReply AckRule = iota

	// AckOnAcquisition resolves the command only when the controller reports
	// acquisition=complete. Used by Scan.
	AckOnAcquisition

	// AckImmediate resolves the command as soon as it is written.
	AckImmediate
)

// Arg is one key=value argument of a command.
type Arg struct {
	Key   string
	Value string
}

// Command is a logical controller command: a name plus ordered arguments.
type Command struct {
	Name string
	Args []Arg
	Ack  AckRule
}

// NewCommand creates a command from a name and alternating key/value pairs.
// A trailing key without a value is ignored.
func NewCommand(name string, kv ...string) Command {
	cmd := Command{Name: name}

	for i := 0; i+1 < len(kv); i += 2 {
		cmd.Args = append(cmd.Args, Arg{Key: kv[i], Value: kv[i+1]})
	}

	return cmd
}

// With returns a copy of the command with one more argument appended.
func (c Command) With(key, value string) Command {
	args := make([]Arg, len(c.Args), len(c.Args)+1)
	copy(args, c.Args)
	c.Args = append(args, Arg{Key: key, Value: value})

	return c
}

// WithAck returns a copy of the command using the given acknowledgement rule.
func (c Command) WithAck(rule AckRule) Command {
	c.Ack = rule

	return c
}

// Encode renders the command in wire form: "Name k1=v1 k2=v2".
//
// Arguments keep the order they were given in. Values containing
// whitespace or quotes are double-quoted.
func (c Command) Encode() string {
	var b strings.Builder

	b.WriteString(c.Name)

	for _, arg := range c.Args {
		b.WriteByte(' ')
		b.WriteString(arg.Key)
		b.WriteByte('=')
		b.WriteString(quoteValue(arg.Value))
	}

	return b.String()
}

// String implements fmt.Stringer. Password arguments are masked.
func (c Command) String() string {
	masked := c

	masked.Args = make([]Arg, len(c.Args))
	for i, arg := range c.Args {
		if strings.EqualFold(arg.Key, "passwd") || strings.EqualFold(arg.Key, "password") {
			arg.Value = "***"
		}

		masked.Args[i] = arg
	}

	return masked.Encode()
}

// Acknowledged reports whether ev resolves this command.
func (c Command) Acknowledged(ev Event) bool {
	if c.Ack == AckImmediate {
		return true
	}

	// Any failure ends the command, whichever name it carries.
	if ev.Failed() {
		return true
	}

	switch c.Ack {
	case AckOnAcquisition:
		return ev.Kind == EventAcquisition && ev.AcquisitionComplete()
	default:
		return ev.Name == c.Name
	}
}

func quoteValue(v string) string {
	if v == "" {
		return `""`
	}

	needsQuote := strings.ContainsFunc(v, func(r rune) bool {
		return unicode.IsSpace(r) || r == '"'
	})
	if !needsQuote {
		return v
	}

	var b strings.Builder

	b.Grow(len(v) + 2)
	b.WriteByte('"')

	for _, r := range v {
		if r == '"' || r == '\\' {
			b.WriteByte('\\')
		}

		b.WriteRune(r)
	}

	b.WriteByte('"')

	return b.String()
}
