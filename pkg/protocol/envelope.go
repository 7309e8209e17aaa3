package protocol

import (
	"errors"
	"fmt"
	"unicode/utf8"

	"google.golang.org/protobuf/encoding/protowire"
)

var ErrMalformedEnvelope = errors.New("malformed envelope")

// Envelope field numbers (protobuf wire format)
const (
	fieldToken    protowire.Number = 1
	fieldAnnounce protowire.Number = 2
	fieldText     protowire.Number = 3

	// Shared by both body variants
	fieldSender protowire.Number = 1
	// Announce.Name / Text.Content
	fieldValue protowire.Number = 2
)

// Kind discriminates envelope bodies
type Kind uint8

const (
	KindAnnounce Kind = iota + 1
	KindText
)

func (k Kind) String() string {
	switch k {
	case KindAnnounce:
		return "announce"
	case KindText:
		return "text"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Body is the tagged payload of an envelope: *Announce or *Text
type Body interface {
	Kind() Kind
	SenderID() PeerID
	value() string
}

// Announce publishes the sender's display name
type Announce struct {
	Sender PeerID
	Name   string
}

func (a *Announce) Kind() Kind       { return KindAnnounce }
func (a *Announce) SenderID() PeerID { return a.Sender }
func (a *Announce) value() string    { return a.Name }

// Text carries one chat line
type Text struct {
	Sender  PeerID
	Content string
}

func (m *Text) Kind() Kind       { return KindText }
func (m *Text) SenderID() PeerID { return m.Sender }
func (m *Text) value() string    { return m.Content }

// Envelope is the unit exchanged between peers in broadcast mode
type Envelope struct {
	Body  Body
	Token Token
}

// NewAnnounce creates an announcement envelope with a fresh token. Names
// longer than MaxNameLength are truncated on a rune boundary.
func NewAnnounce(sender PeerID, name string) *Envelope {
	return &Envelope{
		Body:  &Announce{Sender: sender, Name: TruncateName(name)},
		Token: GenerateToken(),
	}
}

// NewText creates a text envelope with a fresh token
func NewText(sender PeerID, content string) *Envelope {
	return &Envelope{
		Body:  &Text{Sender: sender, Content: content},
		Token: GenerateToken(),
	}
}

// Encode serializes the envelope
func (e *Envelope) Encode() ([]byte, error) {
	var field protowire.Number
	switch e.Body.(type) {
	case *Announce:
		field = fieldAnnounce
	case *Text:
		field = fieldText
	default:
		return nil, fmt.Errorf("%w: unsupported body %T", ErrMalformedEnvelope, e.Body)
	}

	sender := e.Body.SenderID()
	var inner []byte
	inner = protowire.AppendTag(inner, fieldSender, protowire.BytesType)
	inner = protowire.AppendBytes(inner, sender[:])
	inner = protowire.AppendTag(inner, fieldValue, protowire.BytesType)
	inner = protowire.AppendString(inner, e.Body.value())

	buf := make([]byte, 0, 2+TokenSize+2+len(inner))
	buf = protowire.AppendTag(buf, fieldToken, protowire.BytesType)
	buf = protowire.AppendBytes(buf, e.Token[:])
	buf = protowire.AppendTag(buf, field, protowire.BytesType)
	buf = protowire.AppendBytes(buf, inner)

	return buf, nil
}

// DecodeEnvelope parses an envelope. Unknown fields are skipped so newer
// peers may add fields; an envelope without exactly one known body variant,
// or with a missing token, is rejected. Announce names are truncated to
// MaxNameLength.
func DecodeEnvelope(buf []byte) (*Envelope, error) {
	env := &Envelope{}
	var haveToken bool

	for len(buf) > 0 {
		num, typ, n := protowire.ConsumeTag(buf)
		if n < 0 {
			return nil, malformed("tag", protowire.ParseError(n))
		}
		buf = buf[n:]

		switch num {
		case fieldToken, fieldAnnounce, fieldText:
			if typ != protowire.BytesType {
				return nil, malformed(fmt.Sprintf("field %d wire type %d", num, typ), nil)
			}
			v, n := protowire.ConsumeBytes(buf)
			if n < 0 {
				return nil, malformed(fmt.Sprintf("field %d", num), protowire.ParseError(n))
			}
			buf = buf[n:]

			if num == fieldToken {
				if len(v) != TokenSize {
					return nil, malformed(fmt.Sprintf("token length %d", len(v)), nil)
				}
				copy(env.Token[:], v)
				haveToken = true
				continue
			}

			if env.Body != nil {
				return nil, malformed("multiple bodies", nil)
			}
			body, err := decodeBody(num, v)
			if err != nil {
				return nil, err
			}
			env.Body = body

		default:
			n := protowire.ConsumeFieldValue(num, typ, buf)
			if n < 0 {
				return nil, malformed(fmt.Sprintf("unknown field %d", num), protowire.ParseError(n))
			}
			buf = buf[n:]
		}
	}

	if env.Body == nil {
		return nil, malformed("no known body", nil)
	}
	if !haveToken {
		return nil, malformed("missing token", nil)
	}

	return env, nil
}

func decodeBody(kind protowire.Number, buf []byte) (Body, error) {
	var (
		sender    PeerID
		value     string
		hasSender bool
	)

	for len(buf) > 0 {
		num, typ, n := protowire.ConsumeTag(buf)
		if n < 0 {
			return nil, malformed("body tag", protowire.ParseError(n))
		}
		buf = buf[n:]

		if (num == fieldSender || num == fieldValue) && typ == protowire.BytesType {
			v, n := protowire.ConsumeBytes(buf)
			if n < 0 {
				return nil, malformed("body field", protowire.ParseError(n))
			}
			buf = buf[n:]

			if num == fieldSender {
				if len(v) != PeerIDSize {
					return nil, malformed(fmt.Sprintf("sender length %d", len(v)), nil)
				}
				copy(sender[:], v)
				hasSender = true
			} else {
				if !utf8.Valid(v) {
					return nil, malformed("invalid utf-8", nil)
				}
				value = string(v)
			}
			continue
		}

		n = protowire.ConsumeFieldValue(num, typ, buf)
		if n < 0 {
			return nil, malformed("body field", protowire.ParseError(n))
		}
		buf = buf[n:]
	}

	if !hasSender {
		return nil, malformed("missing sender", nil)
	}

	if kind == fieldAnnounce {
		return &Announce{Sender: sender, Name: TruncateName(value)}, nil
	}
	return &Text{Sender: sender, Content: value}, nil
}

// TruncateName bounds a display name to MaxNameLength bytes
func TruncateName(name string) string {
	if len(name) <= MaxNameLength {
		return name
	}
	cut := MaxNameLength
	for cut > 0 && !utf8.RuneStart(name[cut]) {
		cut--
	}
	return name[:cut]
}

func malformed(what string, err error) error {
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMalformedEnvelope, what, err)
	}
	return fmt.Errorf("%w: %s", ErrMalformedEnvelope, what)
}
