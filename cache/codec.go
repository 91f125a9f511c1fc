package cache

import (
	"encoding/json"

	"github.com/vmihailenco/msgpack/v5"
)

// envelopeTag marks a stored document as a cache entry.
const envelopeTag = 1

// envelope wraps every stored value so a cached null is still a hit.
type envelope[T any] struct {
	Tag   int `json:"tag" msgpack:"tag"`
	Value T   `json:"value" msgpack:"value"`
}

// Codec serialises envelopes for the store.
type Codec interface {
	Name() string
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

type jsonCodec struct{}

func (jsonCodec) Name() string { return "json" }
func (jsonCodec) Marshal(v any) ([]byte, error) { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

type msgpackCodec struct{}

func (msgpackCodec) Name() string { return "msgpack" }
func (msgpackCodec) Marshal(v any) ([]byte, error) { return msgpack.Marshal(v) }
func (msgpackCodec) Unmarshal(data []byte, v any) error { return msgpack.Unmarshal(data, v) }

var (
	// JSON stores entries as {"tag":1,"value":...}. It is the default.
	JSON Codec = jsonCodec{}
	// Msgpack stores the same envelope in msgpack, smaller for large payloads.
	Msgpack Codec = msgpackCodec{}
)

func encode[T any](c Codec, v T) (string, error) {
	buf, err := c.Marshal(envelope[T]{Tag: envelopeTag, Value: v})
	if err != nil {
		return "", err
	}
	return string(buf), nil
}

// decode returns a miss for anything that is not a well formed envelope.
func decode[T any](c Codec, data string) (Entry[T], error) {
	var env envelope[T]
	if err := c.Unmarshal([]byte(data), &env); err != nil {
		return Miss[T](), err
	}
	if env.Tag != envelopeTag {
		return Miss[T](), nil
	}
	return Hit(env.Value), nil
}
