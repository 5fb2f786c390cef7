package spotify

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tidwall/gjson"
)

// DecodeError reports malformed provider JSON together with the path at
// which decoding failed, so undocumented field changes are debuggable
// instead of surfacing as a bare parse failure.
type DecodeError struct {
	Path string
	Err  error
}

func (e *DecodeError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("decoding response: %v", e.Err)
	}

	return fmt.Sprintf("decoding response at %q: %v", e.Path, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// wrapDecodeErr builds a DecodeError, extracting the offending field path
// from json type errors when available. prefix is the envelope key the
// payload was unwrapped from, if any.
func wrapDecodeErr(prefix string, err error) error {
	path := prefix

	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) && typeErr.Field != "" {
		if path != "" {
			path += "."
		}

		path += typeErr.Field
	}

	return &DecodeError{Path: path, Err: err}
}

// Page is one resolved page of a list endpoint.
type Page[T any] struct {
	Href     string
	Limit    int
	Offset   int
	Total    int
	Next     string
	Previous string
	Items    []T
}

// pageEnvelope is the provider's paging envelope wire shape. next and
// previous are null on the last/first page.
type pageEnvelope[T any] struct {
	Href     string  `json:"href"`
	Limit    int     `json:"limit"`
	Offset   int     `json:"offset"`
	Total    int     `json:"total"`
	Next     *string `json:"next"`
	Previous *string `json:"previous"`
	Items    []T     `json:"items"`
}

// PageResolver unwraps a raw list response into a Page. Implementations
// know where the envelope sits; some endpoints nest it under a
// resource-type key (e.g. {"tracks": {...}}).
type PageResolver[T any] interface {
	Resolve(raw []byte) (*Page[T], error)
}

// envelopeResolver resolves the standard paging envelope, optionally
// nested under Key.
type envelopeResolver[T any] struct {
	// Key is the gjson path of the envelope within the response, or ""
	// when the envelope is the top-level object.
	Key string
}

func (r envelopeResolver[T]) Resolve(raw []byte) (*Page[T], error) {
	if r.Key != "" {
		nested := gjson.GetBytes(raw, r.Key)
		if !nested.Exists() {
			return nil, &DecodeError{Path: r.Key, Err: fmt.Errorf("expected envelope key missing")}
		}

		raw = []byte(nested.Raw)
	}

	var env pageEnvelope[T]
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, wrapDecodeErr(r.Key, err)
	}

	page := &Page[T]{
		Href:   env.Href,
		Limit:  env.Limit,
		Offset: env.Offset,
		Total:  env.Total,
		Items:  env.Items,
	}

	if env.Next != nil {
		page.Next = *env.Next
	}

	if env.Previous != nil {
		page.Previous = *env.Previous
	}

	return page, nil
}
