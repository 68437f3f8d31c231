// Package id defines herald's record identifiers.
//
// Webhook configs, events and deliveries all use ID. The TypeID prefix
// ("wh", "evt", "del") names the kind of record, and the UUIDv7 suffix
// keeps IDs roughly ordered by creation time.
package id

import (
	"database/sql/driver"
	"fmt"

	"go.jetify.com/typeid/v2"
)

// Prefix is the record kind encoded at the front of an ID.
type Prefix string

const (
	PrefixWebhook  Prefix = "wh"
	PrefixEvent    Prefix = "evt"
	PrefixDelivery Prefix = "del"
)

// ID is a TypeID rendered as "prefix_suffix". The zero value is Nil.
//
//nolint:recvcheck // UnmarshalText and Scan need pointer receivers.
type ID struct {
	tid typeid.TypeID
	set bool
}

// Nil is the unset ID. It renders as "" and stores as NULL.
var Nil ID

func generate(p Prefix) ID {
	tid, err := typeid.Generate(string(p))
	if err != nil {
		// Prefixes are compile-time constants, so this is a programming error.
		panic(fmt.Sprintf("id: generate %q: %v", p, err))
	}
	return ID{tid: tid, set: true}
}

func NewWebhookID() ID  { return generate(PrefixWebhook) }
func NewEventID() ID    { return generate(PrefixEvent) }
func NewDeliveryID() ID { return generate(PrefixDelivery) }

// Parse accepts an ID of any kind.
func Parse(s string) (ID, error) {
	if s == "" {
		return Nil, fmt.Errorf("id: empty")
	}
	tid, err := typeid.Parse(s)
	if err != nil {
		return Nil, fmt.Errorf("id: parse %q: %w", s, err)
	}
	return ID{tid: tid, set: true}, nil
}

func parseKind(s string, want Prefix) (ID, error) {
	v, err := Parse(s)
	if err != nil {
		return Nil, err
	}
	if got := v.Prefix(); got != want {
		return Nil, fmt.Errorf("id: %q is a %q id, want %q", s, got, want)
	}
	return v, nil
}

func ParseWebhookID(s string) (ID, error)  { return parseKind(s, PrefixWebhook) }
func ParseEventID(s string) (ID, error)    { return parseKind(s, PrefixEvent) }
func ParseDeliveryID(s string) (ID, error) { return parseKind(s, PrefixDelivery) }

func (i ID) String() string {
	if !i.set {
		return ""
	}
	return i.tid.String()
}

func (i ID) Prefix() Prefix {
	if !i.set {
		return ""
	}
	return Prefix(i.tid.Prefix())
}

func (i ID) IsNil() bool { return !i.set }

func (i ID) MarshalText() ([]byte, error) {
	return []byte(i.String()), nil
}

func (i *ID) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*i = Nil
		return nil
	}
	v, err := Parse(string(b))
	if err != nil {
		return err
	}
	*i = v
	return nil
}

// Value stores Nil as NULL so optional references stay empty.
func (i ID) Value() (driver.Value, error) {
	if !i.set {
		return nil, nil //nolint:nilnil // NULL
	}
	return i.tid.String(), nil
}

func (i *ID) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*i = Nil
		return nil
	case string:
		return i.UnmarshalText([]byte(v))
	case []byte:
		return i.UnmarshalText(v)
	default:
		return fmt.Errorf("id: cannot scan %T", src)
	}
}
