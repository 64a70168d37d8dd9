// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package plugin defines the API shared by the plugin host and in-process plugins:
// event keys, events, handlers and the lifecycle hooks a plugin implements.
package plugin

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Category is the coarse namespace an event belongs to.
type Category uint8

// Event categories.
const (
	CategoryCore Category = iota + 1
	CategoryClient
	CategoryPlugin
)

// String returns the wire name of a Category.
// Unrecognized categories return "unknown".
func (c Category) String() string {
	switch c {
	case CategoryCore:
		return "core"
	case CategoryClient:
		return "client"
	case CategoryPlugin:
		return "plugin"
	default:
		return "unknown"
	}
}

// ParseCategory converts a wire name into a Category.
func ParseCategory(s string) (Category, error) {
	switch s {
	case "core":
		return CategoryCore, nil
	case "client":
		return CategoryClient, nil
	case "plugin":
		return CategoryPlugin, nil
	default:
		return 0, oops.Code(CodeInvalidKey).
			With("category", s).
			Errorf("unknown event category %q", s)
	}
}

// keySeparator joins the parts of a Key in its string form.
const keySeparator = ":"

// Key identifies what a handler listens to: a category, a topic and an
// optional sub-topic. For plugin events the topic is the emitting plugin's
// namespace (e.g. "inventory") and the sub-topic the event name.
type Key struct {
	Category Category
	Topic    string
	SubTopic string
}

// CoreKey returns a key in the core category.
func CoreKey(topic string) Key {
	return Key{Category: CategoryCore, Topic: topic}
}

// ClientKey returns a key in the client category.
func ClientKey(topic, subTopic string) Key {
	return Key{Category: CategoryClient, Topic: topic, SubTopic: subTopic}
}

// PluginKey returns a key in the plugin category.
func PluginKey(namespace, event string) Key {
	return Key{Category: CategoryPlugin, Topic: namespace, SubTopic: event}
}

// String renders the key as "category:topic[:subtopic]".
func (k Key) String() string {
	var b strings.Builder
	b.WriteString(k.Category.String())
	b.WriteString(keySeparator)
	b.WriteString(k.Topic)
	if k.SubTopic != "" {
		b.WriteString(keySeparator)
		b.WriteString(k.SubTopic)
	}
	return b.String()
}

// Validate checks that the key has a known category and well-formed topics.
func (k Key) Validate() error {
	if k.Category.String() == "unknown" {
		return oops.Code(CodeInvalidKey).
			With("category", uint8(k.Category)).
			Errorf("invalid event category")
	}
	if k.Topic == "" {
		return oops.Code(CodeInvalidKey).
			With("key", k.String()).
			Errorf("event topic is required")
	}
	if strings.Contains(k.Topic, keySeparator) || strings.Contains(k.SubTopic, keySeparator) {
		return oops.Code(CodeInvalidKey).
			With("key", k.String()).
			Errorf("event topics must not contain %q", keySeparator)
	}
	return nil
}

// ParseKey parses the string form produced by Key.String.
func ParseKey(s string) (Key, error) {
	parts := strings.Split(s, keySeparator)
	if len(parts) < 2 || len(parts) > 3 {
		return Key{}, oops.Code(CodeInvalidKey).
			With("key", s).
			Errorf("event key %q must look like category:topic[:subtopic]", s)
	}
	category, err := ParseCategory(parts[0])
	if err != nil {
		return Key{}, err
	}
	k := Key{Category: category, Topic: parts[1]}
	if len(parts) == 3 {
		if parts[2] == "" {
			return Key{}, oops.Code(CodeInvalidKey).
				With("key", s).
				Errorf("event sub-topic must not be empty")
		}
		k.SubTopic = parts[2]
	}
	if err := k.Validate(); err != nil {
		return Key{}, err
	}
	return k, nil
}

// MarshalText implements encoding.TextMarshaler.
func (k Key) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *Key) UnmarshalText(text []byte) error {
	parsed, err := ParseKey(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Kind enumerates the events the host itself produces. Plugin-to-plugin
// traffic is open-ended and has no Kind.
type Kind uint8

// Known event kinds.
const (
	KindUnknown Kind = iota
	KindPlayerConnected
	KindPlayerDisconnected
	KindChatMessage
	KindPositionUpdate
	KindJump
)

var kindKeys = map[Kind]Key{
	KindPlayerConnected:    CoreKey("player_connected"),
	KindPlayerDisconnected: CoreKey("player_disconnected"),
	KindChatMessage:        ClientKey("chat", "message"),
	KindPositionUpdate:     ClientKey("movement", "position_update"),
	KindJump:               ClientKey("movement", "jump"),
}

// Key returns the event key for a kind. KindUnknown returns the zero Key.
func (k Kind) Key() Key {
	return kindKeys[k]
}

// String returns the key string of the kind, or "unknown".
func (k Kind) String() string {
	key, ok := kindKeys[k]
	if !ok {
		return "unknown"
	}
	return key.String()
}

// KindOf maps a key back to its kind. Keys the host does not produce
// return KindUnknown.
func KindOf(key Key) Kind {
	for kind, k := range kindKeys {
		if k == key {
			return kind
		}
	}
	return KindUnknown
}

// Event is a single published occurrence.
type Event struct {
	ID        ulid.ULID       `json:"id"`
	Key       Key             `json:"key"`
	Source    string          `json:"source,omitempty"` // emitting plugin, empty for the host
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// Kind returns the tagged kind of the event, or KindUnknown.
func (e Event) Kind() Kind {
	return KindOf(e.Key)
}

// NewEvent builds an event with a fresh ID and the payload encoded as JSON.
// A json.RawMessage or []byte payload is used as-is.
func NewEvent(key Key, source string, payload any) (Event, error) {
	raw, err := encodePayload(payload)
	if err != nil {
		return Event{}, oops.Code(CodePayloadEncoding).
			With("key", key.String()).
			Wrap(err)
	}
	return Event{
		ID:        NewID(),
		Key:       key,
		Source:    source,
		Timestamp: time.Now(),
		Payload:   raw,
	}, nil
}

func encodePayload(payload any) (json.RawMessage, error) {
	switch p := payload.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return p, nil
	case []byte:
		return json.RawMessage(p), nil
	default:
		return json.Marshal(p)
	}
}

// EmitEvent is an event a scripted plugin asks the host to publish.
type EmitEvent struct {
	Key     Key             `json:"key"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Timestamp converts t to the Unix millisecond form used in payloads.
func Timestamp(t time.Time) int64 {
	return t.UnixMilli()
}
