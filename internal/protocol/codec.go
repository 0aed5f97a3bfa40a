// internal/protocol/codec.go
package protocol

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// LineTerminator ends every wire frame.
const LineTerminator = "\r\n"

// Placeholder replaces undecodable bytes in a Line.
const Placeholder = utf8.RuneError

// Line is one decoded response line, terminator removed.
type Line struct {
	Text string
	// Malformed is set when Text contains placeholders.
	Malformed bool
}

// MatchKind classifies a Line against the command that is waiting for it.
type MatchKind int

const (
	// MatchNone is an echo or unrelated chatter.
	MatchNone MatchKind = iota
	// MatchReply is the expected state report.
	MatchReply
	// MatchRejected is an explicit device error.
	MatchRejected
	// MatchPoweredOff is the standby answer to a non-power query.
	MatchPoweredOff
	// MatchMalformed is a line with undecodable bytes.
	MatchMalformed
)

func (k MatchKind) String() string {
	switch k {
	case MatchReply:
		return "reply"
	case MatchRejected:
		return "rejected"
	case MatchPoweredOff:
		return "powered_off"
	case MatchMalformed:
		return "malformed"
	default:
		return "none"
	}
}

// Match is the result of Classify.
type Match struct {
	Kind  MatchKind
	Value string
}

// Codec turns commands into wire frames and recognises replies for a dialect.
type Codec struct {
	dialect    Dialect
	replies    map[CommandName]*regexp.Regexp
	poweredOff *regexp.Regexp
	errTokens  []string
}

// NewCodec compiles the dialect's reply patterns.
func NewCodec(d Dialect) (*Codec, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}

	c := &Codec{
		dialect: d,
		replies: make(map[CommandName]*regexp.Regexp, len(d.Commands)),
	}
	for name, def := range d.Commands {
		if def.Reply != "" {
			c.replies[name] = regexp.MustCompile(def.Reply)
		}
	}
	if d.PoweredOffReply != "" {
		c.poweredOff = regexp.MustCompile(d.PoweredOffReply)
	}
	for _, t := range d.ErrorTokens {
		c.errTokens = append(c.errTokens, strings.ToUpper(t))
	}

	return c, nil
}

// Dialect returns the table the codec was built from.
func (c *Codec) Dialect() Dialect {
	return c.dialect
}

// Supports reports whether cmd can be encoded.
func (c *Codec) Supports(name CommandName) bool {
	return c.dialect.Supports(name)
}

// Encode renders cmd as a CRLF-terminated ASCII frame.
func (c *Codec) Encode(cmd Command) ([]byte, error) {
	def, ok := c.dialect.Commands[cmd.Name()]
	if !ok {
		return nil, fmt.Errorf("%w: %s in %s", ErrUnsupportedCommand, cmd.Name(), c.dialect.Name)
	}

	params := cmd.Params()
	if len(params) != def.Params() {
		return nil, fmt.Errorf("%w: %s takes %d parameters, got %d",
			ErrInvalidParameter, cmd.Name(), def.Params(), len(params))
	}

	text := def.Format
	if len(params) == 1 {
		if params[0] < def.Min || params[0] > def.Max {
			return nil, fmt.Errorf("%w: %s value %d outside %d-%d",
				ErrInvalidParameter, cmd.Name(), params[0], def.Min, def.Max)
		}
		text = fmt.Sprintf(def.Format, params[0])
	}

	for i := 0; i < len(text); i++ {
		if text[i] < 0x20 || text[i] > 0x7e {
			return nil, fmt.Errorf("%w: %s frame contains byte 0x%02x", ErrInvalidParameter, cmd.Name(), text[i])
		}
	}

	return append([]byte(text), LineTerminator...), nil
}

// Classify decides what a line means to the pending command.
func (c *Codec) Classify(cmd Command, line Line) Match {
	if line.Malformed {
		return Match{Kind: MatchMalformed}
	}

	upper := strings.ToUpper(line.Text)
	for _, token := range c.errTokens {
		if strings.HasPrefix(upper, token) {
			return Match{Kind: MatchRejected, Value: line.Text}
		}
	}

	if re, ok := c.replies[cmd.Name()]; ok {
		if m := re.FindStringSubmatch(line.Text); m != nil {
			value := m[0]
			if len(m) > 1 {
				value = m[1]
			}
			return Match{Kind: MatchReply, Value: value}
		}
	}

	if cmd.Name() != CommandQueryPower && cmd.Name().IsQuery() &&
		c.poweredOff != nil && c.poweredOff.MatchString(line.Text) {
		return Match{Kind: MatchPoweredOff, Value: line.Text}
	}

	return Match{Kind: MatchNone, Value: line.Text}
}

// ParsePower maps a captured power value to on/off.
func (c *Codec) ParsePower(value string) (bool, error) {
	switch {
	case strings.EqualFold(value, c.dialect.OnValue):
		return true, nil
	case strings.EqualFold(value, c.dialect.OffValue):
		return false, nil
	default:
		return false, fmt.Errorf("unrecognised power value %q", value)
	}
}

// LineDecoder frames a byte stream into Lines. It accepts CRLF and bare LF
// and keeps a partial trailing line until its terminator arrives. The zero
// value is ready to use.
type LineDecoder struct {
	buf []byte
}

// Feed appends p and returns every complete, non-empty line.
func (d *LineDecoder) Feed(p []byte) []Line {
	d.buf = append(d.buf, p...)

	var lines []Line
	for {
		i := bytes.IndexByte(d.buf, '\n')
		if i < 0 {
			break
		}
		raw := d.buf[:i]
		d.buf = d.buf[i+1:]

		if line, ok := DecodeLine(raw); ok {
			lines = append(lines, line)
		}
	}

	if len(d.buf) == 0 {
		d.buf = nil
	}
	return lines
}

// Buffered returns the length of the incomplete trailing line.
func (d *LineDecoder) Buffered() int {
	return len(d.buf)
}

// Reset drops any partial line.
func (d *LineDecoder) Reset() {
	d.buf = nil
}

// DecodeLine converts one unterminated raw line. Bytes outside printable
// ASCII (tab excepted) become Placeholder and mark the line malformed. The
// result is whitespace-trimmed; ok is false when nothing remains.
func DecodeLine(raw []byte) (Line, bool) {
	raw = bytes.TrimRight(raw, "\r")

	var sb strings.Builder
	sb.Grow(len(raw))

	malformed := false
	for _, b := range raw {
		if b == '\t' || (b >= 0x20 && b <= 0x7e) {
			sb.WriteByte(b)
			continue
		}
		sb.WriteRune(Placeholder)
		malformed = true
	}

	text := strings.TrimSpace(sb.String())
	if text == "" {
		return Line{}, false
	}
	return Line{Text: text, Malformed: malformed}, true
}
