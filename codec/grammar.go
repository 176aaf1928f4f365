package codec

import (
	"errors"
	"fmt"
	"maps"
	"math"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"unicode"
)

// ReplyKind is the shape of the reply a command produces.
type ReplyKind uint8

const (
	ReplyAck     ReplyKind = iota + 1 // the command letter echoed back
	ReplyNumeric                      // echo letter followed by a number
	ReplyStatus                       // the status word
	ReplyText                         // free text, such as the identity string
	ReplyNone                         // the instrument sends nothing
)

// ParamSpec describes one command parameter and how it is written.
type ParamSpec struct {
	Name string
	Kind ParamKind

	// Min and Max bound Float and Int parameters, inclusive.
	Min, Max float64
	// Allowed, when set, lists the only valid Int values.
	Allowed []int

	// Format is the fmt verb for a Float, "%g" when empty. FormatExtended
	// replaces it when the grammar uses extended resolution.
	Format         string
	FormatExtended string
	// Scale, when set, multiplies a Float before it is formatted.
	Scale float64

	// Choices maps Symbol values to their wire text.
	Choices map[string]string

	// True and False are the wire text of a Bool.
	True, False string
}

// Rule is the wire form of one opcode.
type Rule struct {
	Letter byte
	// Suffix is fixed text following the letter, such as "0" in "A0".
	Suffix string
	Params []ParamSpec
	Reply  ReplyKind
}

// Channel describes a numeric reading R<n>.
type Channel struct {
	Name string
	Unit Unit
}

// StatusDigit is a run of digits within a status group.
type StatusDigit struct {
	Key   string
	Width int
}

// StatusGroup is a letter followed by one or more digit runs, such as "Xmn".
// Hex groups carry bit fields written as hexadecimal digits.
type StatusGroup struct {
	Letter byte
	Digits []StatusDigit
	Hex    bool
}

// GrammarSpec describes a model. It is turned into a Grammar by NewGrammar.
type GrammarSpec struct {
	Model string
	// Identities are substrings of the version reply identifying the model.
	Identities []string
	Rules      map[Opcode]Rule
	Channels   map[int]Channel
	// Scales divides the raw reading of a channel, for models reporting
	// tenths of a unit.
	Scales     map[int]float64
	Status     []StatusGroup
	Classify   func(*Status) StatusFlags
	Describe   func(*Status) []string

	// MeasuredChannel and SetpointChannel are polled by the monitor.
	MeasuredChannel int
	SetpointChannel int

	// Shutdown is the sequence that leaves the instrument safe before the
	// session is closed.
	Shutdown []Command
}

// Grammar encodes commands and decodes replies for one model. A Grammar is
// read-only and safe for concurrent use; WithAddress and
// WithExtendedResolution return modified copies.
type Grammar struct {
	spec       GrammarSpec
	terminator string
	address    int
	extended   bool
}

const (
	// MaxAddress is the highest ISOBUS address.
	MaxAddress = 8

	errorMarker  = '?'
	addrMarker   = '@'
	queryLetter  = 'R'
	statusLetter = 'X'
)

var numberRe = regexp.MustCompile(`^([+-]?(?:\d+\.?\d*|\.\d+)(?:[eE][+-]?\d+)?)\s*(\S*)$`)

// NewGrammar validates spec and builds a Grammar. The Query, Status and
// Version rules common to the Oxford family are added when absent.
func NewGrammar(spec GrammarSpec) (*Grammar, error) {
	if spec.Model == "" {
		return nil, errors.New("codec: grammar model is empty")
	}
	if len(spec.Status) == 0 || spec.Classify == nil {
		return nil, fmt.Errorf("codec: grammar %s has no status layout", spec.Model)
	}
	for _, ch := range []int{spec.MeasuredChannel, spec.SetpointChannel} {
		if _, ok := spec.Channels[ch]; !ok {
			return nil, fmt.Errorf("codec: grammar %s polls undefined channel R%d", spec.Model, ch)
		}
	}

	spec.Rules = maps.Clone(spec.Rules)
	if spec.Rules == nil {
		spec.Rules = make(map[Opcode]Rule)
	}
	if _, ok := spec.Rules[OpQuery]; !ok {
		channels := slices.Sorted(maps.Keys(spec.Channels))
		spec.Rules[OpQuery] = Rule{
			Letter: queryLetter,
			Params: []ParamSpec{{Name: "channel", Kind: KindInt, Allowed: channels}},
			Reply:  ReplyNumeric,
		}
	}
	if _, ok := spec.Rules[OpStatus]; !ok {
		spec.Rules[OpStatus] = Rule{Letter: statusLetter, Reply: ReplyStatus}
	}
	if _, ok := spec.Rules[OpVersion]; !ok {
		spec.Rules[OpVersion] = Rule{Letter: 'V', Reply: ReplyText}
	}

	for op, rule := range spec.Rules {
		if rule.Letter == 0 || rule.Reply == 0 {
			return nil, fmt.Errorf("codec: grammar %s rule %s is incomplete", spec.Model, op)
		}
	}

	return &Grammar{spec: spec, terminator: "\r", address: -1}, nil
}

func mustGrammar(spec GrammarSpec) *Grammar {
	g, err := NewGrammar(spec)
	if err != nil {
		panic(err)
	}

	return g
}

// Model returns the model name.
func (g *Grammar) Model() string { return g.spec.Model }

// Address returns the ISOBUS address, or -1 when commands are not prefixed.
func (g *Grammar) Address() int { return g.address }

// ExtendedResolution reports whether extended resolution formats are used.
func (g *Grammar) ExtendedResolution() bool { return g.extended }

// WithAddress returns a copy that prefixes every command with "@n".
// A negative n removes the prefix.
func (g *Grammar) WithAddress(n int) (*Grammar, error) {
	if n > MaxAddress {
		return nil, fmt.Errorf("codec: ISOBUS address %d out of range 0-%d", n, MaxAddress)
	}
	c := *g
	c.address = max(n, -1)

	return &c, nil
}

// WithExtendedResolution returns a copy using the extended resolution formats.
func (g *Grammar) WithExtendedResolution(on bool) *Grammar {
	c := *g
	c.extended = on

	return &c
}

// Rule returns the rule for op.
func (g *Grammar) Rule(op Opcode) (Rule, bool) {
	r, ok := g.spec.Rules[op]
	return r, ok
}

// Supports reports whether the model implements op.
func (g *Grammar) Supports(op Opcode) bool {
	_, ok := g.spec.Rules[op]
	return ok
}

// ExpectsReply reports whether cmd produces a reply line.
func (g *Grammar) ExpectsReply(cmd Command) bool {
	r, ok := g.spec.Rules[cmd.Op()]
	return !ok || r.Reply != ReplyNone
}

// Channel returns the description of reading R<n>.
func (g *Grammar) Channel(n int) (Channel, bool) {
	ch, ok := g.spec.Channels[n]
	return ch, ok
}

// MeasuredQuery returns the query the monitor uses for the measured value.
func (g *Grammar) MeasuredQuery() Command { return Query(g.spec.MeasuredChannel) }

// SetpointQuery returns the query the monitor uses for the setpoint.
func (g *Grammar) SetpointQuery() Command { return Query(g.spec.SetpointChannel) }

// Shutdown returns the safe shutdown sequence.
func (g *Grammar) Shutdown() []Command { return slices.Clone(g.spec.Shutdown) }

// Identify reports whether an identity string belongs to this model.
func (g *Grammar) Identify(identity string) bool {
	return g.matchLen(identity) > 0
}

func (g *Grammar) matchLen(identity string) int {
	upper := strings.ToUpper(identity)
	best := 0
	for _, id := range g.spec.Identities {
		if len(id) > best && strings.Contains(upper, strings.ToUpper(id)) {
			best = len(id)
		}
	}

	return best
}

// Describe renders a status word as human readable lines.
func (g *Grammar) Describe(st Status) []string {
	if g.spec.Describe == nil {
		return []string{st.Raw}
	}

	return g.spec.Describe(&st)
}

// Encode validates cmd and returns its wire form including the terminator.
// It performs no I/O.
func (g *Grammar) Encode(cmd Command) (string, error) {
	rule, ok := g.spec.Rules[cmd.Op()]
	if !ok {
		return "", g.invalid(cmd.Op(), ErrUnsupported, "not implemented by this model")
	}
	if cmd.NumParams() != len(rule.Params) {
		return "", g.invalid(cmd.Op(), ErrBadParams,
			fmt.Sprintf("want %d parameter(s), got %d", len(rule.Params), cmd.NumParams()))
	}

	var b strings.Builder
	if g.address >= 0 {
		b.WriteByte(addrMarker)
		b.WriteString(strconv.Itoa(g.address))
	}
	b.WriteByte(rule.Letter)
	b.WriteString(rule.Suffix)
	for i, spec := range rule.Params {
		text, err := g.encodeParam(cmd.Op(), spec, cmd.Param(i))
		if err != nil {
			return "", err
		}
		b.WriteString(text)
	}
	b.WriteString(g.terminator)

	return b.String(), nil
}

func (g *Grammar) encodeParam(op Opcode, spec ParamSpec, p Param) (string, error) {
	if p.Kind != spec.Kind {
		return "", g.invalid(op, ErrBadParams,
			fmt.Sprintf("%s must be %s, got %s", spec.Name, spec.Kind, p.Kind))
	}

	switch spec.Kind {
	case KindFloat:
		if math.IsNaN(p.Float) || math.IsInf(p.Float, 0) || p.Float < spec.Min || p.Float > spec.Max {
			return "", g.invalid(op, ErrOutOfRange,
				fmt.Sprintf("%s %v outside [%g, %g]", spec.Name, p.Float, spec.Min, spec.Max))
		}
		format := spec.Format
		if g.extended && spec.FormatExtended != "" {
			format = spec.FormatExtended
		}
		if format == "" {
			format = "%g"
		}
		v := p.Float
		if spec.Scale != 0 {
			v *= spec.Scale
		}
		return fmt.Sprintf(format, v), nil

	case KindInt:
		if spec.Allowed != nil {
			if !slices.Contains(spec.Allowed, p.Int) {
				return "", g.invalid(op, ErrOutOfRange,
					fmt.Sprintf("%s %d not one of %v", spec.Name, p.Int, spec.Allowed))
			}
		} else if float64(p.Int) < spec.Min || float64(p.Int) > spec.Max {
			return "", g.invalid(op, ErrOutOfRange,
				fmt.Sprintf("%s %d outside [%g, %g]", spec.Name, p.Int, spec.Min, spec.Max))
		}
		return strconv.Itoa(p.Int), nil

	case KindBool:
		if p.Bool {
			return spec.True, nil
		}
		return spec.False, nil

	case KindSymbol:
		text, ok := spec.Choices[p.Symbol]
		if !ok {
			return "", g.invalid(op, ErrOutOfRange,
				fmt.Sprintf("%s %q not one of %v", spec.Name, p.Symbol, slices.Sorted(maps.Keys(spec.Choices))))
		}
		return text, nil
	}

	return "", g.invalid(op, ErrBadParams, "unknown parameter kind")
}

func (g *Grammar) invalid(op Opcode, err error, reason string) *ValidationError {
	return &ValidationError{Model: g.spec.Model, Op: op, Reason: reason, Err: err}
}

// Decode interprets the reply to cmd. Replies starting with '?' decode to an
// ErrorReply Value; anything not matching the grammar yields a *ParseError.
func (g *Grammar) Decode(cmd Command, raw []byte) (Value, error) {
	text := strings.TrimRight(string(raw), "\r\n")
	bad := func(reason string) (Value, error) {
		return Value{}, &ParseError{Model: g.spec.Model, Op: cmd.Op(), Raw: string(raw), Reason: reason}
	}

	if text == "" {
		return bad("empty reply")
	}
	if i := strings.IndexFunc(text, unicode.IsControl); i >= 0 {
		return bad(fmt.Sprintf("unexpected terminator or control byte at %d", i))
	}
	if text[0] == addrMarker {
		i := 1
		for i < len(text) && text[i] >= '0' && text[i] <= '9' {
			i++
		}
		if i == 1 {
			return bad("malformed ISOBUS address")
		}
		text = text[i:]
		if text == "" {
			return bad("truncated reply")
		}
	}
	if text[0] == errorMarker {
		return ErrorReplyValue(text[1:], "command not recognised or not allowed"), nil
	}

	rule, ok := g.spec.Rules[cmd.Op()]
	if !ok {
		return bad("opcode not implemented by this model")
	}

	switch rule.Reply {
	case ReplyAck:
		if text[0] != rule.Letter {
			return bad(fmt.Sprintf("expected echo %q", rule.Letter))
		}
		return EnumValue(string(rule.Letter)), nil

	case ReplyNumeric:
		if text[0] != rule.Letter {
			return bad(fmt.Sprintf("expected echo %q", rule.Letter))
		}
		var (
			unit  Unit
			scale float64
		)
		if cmd.NumParams() == 1 {
			n := cmd.Param(0).Int
			if ch, ok := g.spec.Channels[n]; ok {
				unit = ch.Unit
			}
			scale = g.spec.Scales[n]
		}
		m := numberRe.FindStringSubmatch(text[1:])
		if m == nil {
			return bad("non-numeric value")
		}
		if m[2] != "" && !strings.EqualFold(m[2], string(unit)) {
			return bad(fmt.Sprintf("unexpected unit %q", m[2]))
		}
		v, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			return bad(err.Error())
		}
		if scale != 0 {
			v /= scale
		}
		return NumericValue(v, unit), nil

	case ReplyStatus:
		st, err := g.parseStatus(text)
		if err != "" {
			return bad(err)
		}
		return StatusValue(st), nil

	case ReplyText:
		return EnumValue(strings.TrimSpace(text)), nil
	}

	return bad("command has no reply")
}

// ParseStatus parses a raw status word such as "X00A0C3H1M10P03".
func (g *Grammar) ParseStatus(text string) (Status, error) {
	st, reason := g.parseStatus(text)
	if reason != "" {
		return Status{}, &ParseError{Model: g.spec.Model, Op: OpStatus, Raw: text, Reason: reason}
	}

	return st, nil
}

func (g *Grammar) parseStatus(text string) (Status, string) {
	fields := make(map[string]int)
	pos := 0
	for _, grp := range g.spec.Status {
		if pos >= len(text) {
			return Status{}, "truncated status"
		}
		if text[pos] != grp.Letter {
			return Status{}, fmt.Sprintf("expected %q at offset %d", grp.Letter, pos)
		}
		pos++
		for _, d := range grp.Digits {
			if pos+d.Width > len(text) {
				return Status{}, "truncated status"
			}
			n, ok := statusNumber(text[pos:pos+d.Width], grp.Hex)
			if !ok {
				return Status{}, fmt.Sprintf("malformed digits %q in status field %s", text[pos:pos+d.Width], d.Key)
			}
			fields[d.Key] = n
			pos += d.Width
		}
	}
	if pos != len(text) {
		return Status{}, "trailing characters after status"
	}

	st := Status{Raw: text, Fields: fields}
	st.Flags = g.spec.Classify(&st)

	return st, ""
}

func statusNumber(digits string, hex bool) (int, bool) {
	base := 10
	if hex {
		base = 16
	}
	n := 0
	for _, c := range []byte(digits) {
		var d int
		switch {
		case c >= '0' && c <= '9':
			d = int(c - '0')
		case hex && c >= 'A' && c <= 'F':
			d = int(c-'A') + 10
		case hex && c >= 'a' && c <= 'f':
			d = int(c-'a') + 10
		default:
			return 0, false
		}
		n = n*base + d
	}

	return n, true
}
