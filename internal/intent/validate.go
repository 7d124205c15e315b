package intent

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

var (
	// ErrMalformed matches payloads that are not a JSON object.
	ErrMalformed = errors.New("malformed intent payload")
	// ErrSchema matches payloads that parse but violate the intent schema.
	ErrSchema = errors.New("intent schema violation")
)

// MalformedError reports a payload that could not be decoded at all.
type MalformedError struct {
	Err error
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("%v: %v", ErrMalformed, e.Err)
}

func (e *MalformedError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrMalformed) match.
func (e *MalformedError) Is(target error) bool { return target == ErrMalformed }

// FieldError is one schema violation. Path is "(root)" or a pointer such
// as "/lamports" or "/allowRecipients/2".
type FieldError struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

func (f FieldError) String() string {
	return f.Path + " " + f.Message
}

// ValidationError collects all schema violations for one payload.
type ValidationError struct {
	Errors []FieldError
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("intent validation failed: %s", strings.Join(e.Messages(), "; "))
}

// Is lets errors.Is(err, ErrSchema) match.
func (e *ValidationError) Is(target error) bool { return target == ErrSchema }

// Messages returns each violation rendered as "<path> <message>".
func (e *ValidationError) Messages() []string {
	out := make([]string, len(e.Errors))
	for i, f := range e.Errors {
		out[i] = f.String()
	}
	return out
}

func (e *ValidationError) add(path, msg string) {
	e.Errors = append(e.Errors, FieldError{Path: path, Message: msg})
}

// Limits bounds field sizes.
type Limits struct {
	MinAddressLength int
	MaxMemoLength    int
	MaxNoteLength    int
	MaxDecimals      int
	MaxPayloadBytes  int
}

// DefaultLimits returns the bounds of the published intent schema.
func DefaultLimits() Limits {
	return Limits{
		MinAddressLength: 32,
		MaxMemoLength:    500,
		MaxNoteLength:    200,
		MaxDecimals:      18,
		MaxPayloadBytes:  64 << 10,
	}
}

// fieldSpec describes one top-level schema property.
type fieldSpec struct {
	name  string
	kinds []Kind // nil means every kind
	parse func(p *parser, path string, raw json.RawMessage)
}

func (s fieldSpec) allowedFor(k Kind) bool {
	if s.kinds == nil {
		return true
	}
	for _, allowed := range s.kinds {
		if allowed == k {
			return true
		}
	}
	return false
}

var transferKinds = []Kind{KindSOLTransfer, KindTokenTransfer}

// schema lists the properties in the order violations are reported.
var schema = []fieldSpec{
	{name: "kind", parse: (*parser).parseKind},
	{name: "network", parse: (*parser).parseNetwork},
	{name: "from", parse: func(p *parser, path string, raw json.RawMessage) {
		p.d.from, _ = p.address(path, raw)
	}},
	{name: "to", kinds: transferKinds, parse: func(p *parser, path string, raw json.RawMessage) {
		p.d.to, _ = p.address(path, raw)
	}},
	{name: "lamports", kinds: []Kind{KindSOLTransfer}, parse: func(p *parser, path string, raw json.RawMessage) {
		if v, ok := p.integer(path, raw, math.MaxUint64); ok {
			p.d.lamports = &v
		}
	}},
	{name: "maxLamports", kinds: []Kind{KindSOLTransfer}, parse: func(p *parser, path string, raw json.RawMessage) {
		if v, ok := p.integer(path, raw, math.MaxUint64); ok {
			p.d.maxLamports = &v
		}
	}},
	{name: "mint", kinds: []Kind{KindTokenTransfer}, parse: func(p *parser, path string, raw json.RawMessage) {
		p.d.mint, _ = p.address(path, raw)
	}},
	{name: "amount", kinds: []Kind{KindTokenTransfer}, parse: (*parser).parseAmount},
	{name: "decimals", kinds: []Kind{KindTokenTransfer}, parse: func(p *parser, path string, raw json.RawMessage) {
		if v, ok := p.integer(path, raw, uint64(p.limits.MaxDecimals)); ok {
			d := uint8(v)
			p.d.decimals = &d
		}
	}},
	{name: "memo", kinds: []Kind{KindMemoOnly}, parse: func(p *parser, path string, raw json.RawMessage) {
		if s, ok := p.text(path, raw, p.limits.MaxMemoLength); ok {
			if strings.TrimSpace(s) == "" {
				p.errs.add(path, "must not be empty")
				return
			}
			p.d.memo = s
		}
	}},
	{name: "allowRecipients", kinds: transferKinds, parse: (*parser).parseAllowRecipients},
	{name: "note", parse: func(p *parser, path string, raw json.RawMessage) {
		p.d.note, _ = p.text(path, raw, p.limits.MaxNoteLength)
	}},
	{name: "expiresAt", parse: (*parser).parseExpiresAt},
}

// required lists the kind-specific required properties.
var required = map[Kind][]string{
	KindSOLTransfer:   {"to", "lamports"},
	KindTokenTransfer: {"to", "mint", "amount", "decimals"},
	KindMemoOnly:      {"memo"},
}

var commonRequired = []string{"kind", "network", "from", "expiresAt"}

// Validator parses raw payloads against the closed intent schema. It holds
// no mutable state and is safe for concurrent use.
type Validator struct {
	limits Limits
	specs  map[string]fieldSpec
}

// NewValidator builds a validator with the given limits. Zero fields in
// limits take their default.
func NewValidator(limits Limits) *Validator {
	def := DefaultLimits()
	if limits.MinAddressLength <= 0 {
		limits.MinAddressLength = def.MinAddressLength
	}
	if limits.MaxMemoLength <= 0 {
		limits.MaxMemoLength = def.MaxMemoLength
	}
	if limits.MaxNoteLength <= 0 {
		limits.MaxNoteLength = def.MaxNoteLength
	}
	if limits.MaxDecimals <= 0 {
		limits.MaxDecimals = def.MaxDecimals
	}
	if limits.MaxPayloadBytes <= 0 {
		limits.MaxPayloadBytes = def.MaxPayloadBytes
	}

	specs := make(map[string]fieldSpec, len(schema))
	for _, s := range schema {
		specs[s.name] = s
	}
	return &Validator{limits: limits, specs: specs}
}

// Limits returns the bounds this validator enforces.
func (v *Validator) Limits() Limits { return v.limits }

// Validate parses raw into an Intent. It returns a *MalformedError when raw
// is not a JSON object, or a *ValidationError listing every violation.
// It never returns a partially populated Intent.
func (v *Validator) Validate(raw []byte) (Intent, error) {
	if len(raw) > v.limits.MaxPayloadBytes {
		// an oversized payload is only a schema violation if it is an object
		if t := bytes.TrimSpace(raw); len(t) == 0 || t[0] != '{' || !json.Valid(t) {
			return nil, &MalformedError{Err: errors.New("payload must be a JSON object")}
		}
		return nil, &ValidationError{Errors: []FieldError{{
			Path:    "(root)",
			Message: fmt.Sprintf("payload exceeds %d bytes", v.limits.MaxPayloadBytes),
		}}}
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, &MalformedError{Err: err}
	}
	if obj == nil {
		return nil, &MalformedError{Err: errors.New("payload must be a JSON object")}
	}

	p := &parser{limits: v.limits, errs: &ValidationError{}}

	// kind first, so per-field applicability can be checked.
	if raw, ok := obj["kind"]; ok {
		p.parseKind("/kind", raw)
	}

	for _, field := range schema {
		raw, ok := obj[field.name]
		if !ok || field.name == "kind" {
			continue
		}
		path := "/" + field.name
		if p.d.kindOK && !field.allowedFor(p.d.kind) {
			p.errs.add(path, fmt.Sprintf("is not allowed for kind %s", p.d.kind))
			continue
		}
		field.parse(p, path, raw)
	}

	var unknown []string
	for name := range obj {
		if _, ok := v.specs[name]; !ok {
			unknown = append(unknown, name)
		}
	}
	sort.Strings(unknown)
	for _, name := range unknown {
		p.errs.add("/"+name, "is not allowed")
	}

	names := commonRequired
	if p.d.kindOK {
		names = append(append([]string{}, commonRequired...), required[p.d.kind]...)
	}
	for _, name := range names {
		if _, ok := obj[name]; !ok {
			p.errs.add("/"+name, "is required")
		}
	}

	if len(p.errs.Errors) > 0 {
		return nil, p.errs
	}
	return p.d.build(), nil
}

// draft accumulates decoded fields until the payload is known to be valid.
type draft struct {
	kind        Kind
	kindOK      bool
	network     Network
	from        string
	to          string
	lamports    *uint64
	maxLamports *uint64
	mint        string
	amount      string
	decimals    *uint8
	memo        string
	allow       []string
	note        string
	expiresAt   time.Time
}

func (d *draft) build() Intent {
	h := Header{
		Network:   d.network,
		From:      d.from,
		ExpiresAt: d.expiresAt,
		Note:      d.note,
	}
	switch d.kind {
	case KindSOLTransfer:
		return &SOLTransfer{
			Header:          h,
			To:              d.to,
			Lamports:        *d.lamports,
			MaxLamports:     d.maxLamports,
			AllowRecipients: d.allow,
		}
	case KindTokenTransfer:
		return &TokenTransfer{
			Header:          h,
			To:              d.to,
			Mint:            d.mint,
			Amount:          d.amount,
			Decimals:        *d.decimals,
			AllowRecipients: d.allow,
		}
	default:
		return &MemoOnly{Header: h, Memo: d.memo}
	}
}

type parser struct {
	limits Limits
	errs   *ValidationError
	d      draft
}

func (p *parser) parseKind(path string, raw json.RawMessage) {
	s, ok := p.str(path, raw)
	if !ok {
		return
	}
	k, ok := ParseKind(s)
	if !ok {
		p.errs.add(path, "must be one of: sol_transfer, token_transfer, memo_only")
		return
	}
	p.d.kind = k
	p.d.kindOK = true
}

func (p *parser) parseNetwork(path string, raw json.RawMessage) {
	s, ok := p.str(path, raw)
	if !ok {
		return
	}
	n := Network(s)
	if !IsValidNetwork(n) {
		p.errs.add(path, "must be one of: devnet, mainnet")
		return
	}
	p.d.network = n
}

func (p *parser) parseAmount(path string, raw json.RawMessage) {
	s, ok := p.str(path, raw)
	if !ok {
		return
	}
	if s == "" {
		p.errs.add(path, "must not be empty")
		return
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			p.errs.add(path, "must be a base-10 integer string")
			return
		}
	}
	p.d.amount = s
}

func (p *parser) parseAllowRecipients(path string, raw json.RawMessage) {
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil || items == nil {
		p.errs.add(path, "must be an array of strings")
		return
	}
	out := make([]string, 0, len(items))
	for i, item := range items {
		if s, ok := p.str(fmt.Sprintf("%s/%d", path, i), item); ok {
			out = append(out, s)
		}
	}
	p.d.allow = out
}

func (p *parser) parseExpiresAt(path string, raw json.RawMessage) {
	s, ok := p.str(path, raw)
	if !ok {
		return
	}
	// RFC 3339 allows lower-case "t" and "z".
	t, err := time.Parse(time.RFC3339Nano, strings.ToUpper(s))
	if err != nil {
		p.errs.add(path, "must be an RFC 3339 date-time")
		return
	}
	p.d.expiresAt = t
}

func (p *parser) str(path string, raw json.RawMessage) (string, bool) {
	var s string
	if !isJSONString(raw) || json.Unmarshal(raw, &s) != nil {
		p.errs.add(path, "must be a string")
		return "", false
	}
	return s, true
}

func (p *parser) address(path string, raw json.RawMessage) (string, bool) {
	s, ok := p.str(path, raw)
	if !ok {
		return "", false
	}
	if utf8.RuneCountInString(s) < p.limits.MinAddressLength {
		p.errs.add(path, fmt.Sprintf("must be at least %d characters", p.limits.MinAddressLength))
		return "", false
	}
	return s, true
}

func (p *parser) text(path string, raw json.RawMessage, limit int) (string, bool) {
	s, ok := p.str(path, raw)
	if !ok {
		return "", false
	}
	if utf8.RuneCountInString(s) > limit {
		p.errs.add(path, fmt.Sprintf("must be at most %d characters", limit))
		return "", false
	}
	return s, true
}

// integer accepts a JSON number in [0, limit] with no fractional part,
// whatever its spelling: 1000000, 1e6, 1E+6 and 1000000.0 are all the same.
func (p *parser) integer(path string, raw json.RawMessage, limit uint64) (uint64, bool) {
	n, ok := parseIntegral(string(bytes.TrimSpace(raw)))
	switch {
	case !ok:
		p.errs.add(path, "must be an integer")
		return 0, false
	case n.negative:
		p.errs.add(path, "must be >= 0")
		return 0, false
	case n.overflow || n.value > limit:
		p.errs.add(path, fmt.Sprintf("must be <= %d", limit))
		return 0, false
	}
	return n.value, true
}

type integral struct {
	value    uint64
	negative bool
	// overflow marks magnitudes beyond uint64
	overflow bool
}

// parseIntegral reads a JSON number literal exactly, without going through
// float64. ok is false for anything that is not a number with an integral
// value.
func parseIntegral(lit string) (integral, bool) {
	var n integral
	if lit == "" || !json.Valid([]byte(lit)) {
		return n, false
	}
	neg := lit[0] == '-'
	lit = strings.TrimPrefix(lit, "-")
	if lit == "" || lit[0] < '0' || lit[0] > '9' {
		return n, false
	}

	mantissa, exp := lit, 0
	if i := strings.IndexAny(lit, "eE"); i >= 0 {
		mantissa = lit[:i]
		e, err := strconv.Atoi(lit[i+1:])
		if err != nil {
			// exponent beyond int range; any such value is out of bounds
			e = 1 << 20
			if lit[i+1] == '-' {
				e = -(1 << 20)
			}
		}
		exp = e
	}
	whole, frac, _ := strings.Cut(mantissa, ".")

	digits := strings.TrimLeft(whole+frac, "0")
	exp -= len(frac)
	trimmed := strings.TrimRight(digits, "0")
	exp += len(digits) - len(trimmed)
	digits = trimmed

	if digits == "" {
		// zero, including -0 and 0.0e5
		return n, true
	}
	if exp < 0 {
		return n, false
	}
	n.negative = neg
	if len(digits)+exp > 20 {
		n.overflow = true
		return n, true
	}
	v, err := strconv.ParseUint(digits+strings.Repeat("0", exp), 10, 64)
	if err != nil {
		n.overflow = true
		return n, true
	}
	n.value = v
	return n, true
}

func isJSONString(raw json.RawMessage) bool {
	t := bytes.TrimSpace(raw)
	return len(t) > 0 && t[0] == '"'
}
