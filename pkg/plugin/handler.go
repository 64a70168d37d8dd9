// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package plugin

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// Handler processes one event. A non-nil error marks this handler's
// invocation as failed; it never stops other handlers for the same key.
type Handler func(ctx context.Context, event Event) error

// Validator is implemented by payload types with required fields. JSON
// decoding zero-fills missing fields, so Typed calls Validate after decoding.
type Validator interface {
	Validate() error
}

// Typed adapts a function taking a decoded payload into a Handler.
// A payload that does not decode into T, or whose Validate fails, fails with
// DESERIALIZATION_FAILED without calling fn.
func Typed[T any](fn func(ctx context.Context, payload T) error) Handler {
	return func(ctx context.Context, event Event) error {
		var payload T
		if err := json.Unmarshal(event.Payload, &payload); err != nil {
			return ErrDeserialization(event.Key, err)
		}
		if v, ok := any(&payload).(Validator); ok {
			if err := v.Validate(); err != nil {
				return ErrDeserialization(event.Key, err)
			}
		}
		return fn(ctx, payload)
	}
}

// RegisterOptions holds per-registration settings.
type RegisterOptions struct {
	// Name labels the handler in results, logs and metrics.
	Name string
	// Owner is the plugin that registered the handler.
	Owner string
}

// RegisterOption configures a handler registration.
type RegisterOption func(*RegisterOptions)

// WithName sets the handler name reported in results.
func WithName(name string) RegisterOption {
	return func(o *RegisterOptions) {
		o.Name = name
	}
}

// WithOwner records which plugin owns the handler.
func WithOwner(owner string) RegisterOption {
	return func(o *RegisterOptions) {
		o.Owner = owner
	}
}

// ApplyRegisterOptions folds opts into a RegisterOptions value.
func ApplyRegisterOptions(opts []RegisterOption) RegisterOptions {
	var o RegisterOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// EventBus is the view of the bus a plugin receives.
type EventBus interface {
	// Register adds a handler for an exact key.
	Register(key Key, h Handler, opts ...RegisterOption) error
	// On adds a handler for a host event kind.
	On(kind Kind, h Handler, opts ...RegisterOption) error
	// RegisterPattern adds a handler for every key matching a glob pattern
	// such as "plugin:inventory:*".
	RegisterPattern(pattern string, h Handler, opts ...RegisterOption) error
	// Publish delivers payload to every handler registered for key.
	Publish(ctx context.Context, key Key, payload any) (Report, error)
}

// Result is the outcome of one handler invocation.
type Result struct {
	Handler  string
	Err      error
	Duration time.Duration
}

// OK reports whether the handler succeeded.
func (r Result) OK() bool {
	return r.Err == nil
}

// Report collects the results of one publish, in handler registration order.
// An empty Results slice means no handler was registered for the key.
type Report struct {
	Event   Event
	Results []Result
}

// Failures returns the failed results.
func (r Report) Failures() []Result {
	var failed []Result
	for _, res := range r.Results {
		if !res.OK() {
			failed = append(failed, res)
		}
	}
	return failed
}

// Err joins every handler failure, or returns nil if all succeeded.
func (r Report) Err() error {
	var errs []error
	for _, res := range r.Results {
		if res.Err != nil {
			errs = append(errs, res.Err)
		}
	}
	return errors.Join(errs...)
}
