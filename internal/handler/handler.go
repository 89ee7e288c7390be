// Package handler serves the JSON request protocol of the demo server on
// top of a store.
package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/UltraSive/filekv/store"
)

type Request struct {
	Type  string                     `json:"type"`
	Keys  []string                   `json:"keys,omitempty"`
	Items map[string]json.RawMessage `json:"items,omitempty"`
	// TTL applies to every item of an UPDATE, in milliseconds. Zero keeps
	// the store default.
	TTL int64 `json:"ttl,omitempty"`
}

type Response struct {
	Type  string         `json:"type"`
	Error string         `json:"error,omitempty"`
	Data  map[string]any `json:"data,omitempty"`
}

// Store is the part of store.Store the handler uses.
type Store interface {
	Get(ctx context.Context, key string) (any, bool)
	Keys(filters ...store.Filter) []string
	ForEach(ctx context.Context, fn func(store.Datum) error, filters ...store.Filter) error
	Set(ctx context.Context, key string, value any, opts ...store.SetOption) (store.Datum, error)
	Remove(ctx context.Context, key string) (store.RemoveResult, error)
}

// Fetcher resolves keys the store does not hold.
type Fetcher interface {
	Fetch(ctx context.Context, key string) (any, bool, error)
}

type Handler struct {
	Store    Store
	Upstream Fetcher       // nil if none
	TTL      time.Duration // of fetched values, 0 == store default
}

func New(s Store, up Fetcher, ttl time.Duration) *Handler {
	return &Handler{Store: s, Upstream: up, TTL: ttl}
}

func errorResponse(err error) Response {
	return Response{Type: "ERR", Error: err.Error()}
}

func (h *Handler) Serve(ctx context.Context, req Request) Response {
	switch req.Type {
	case "GET":
		res := make(map[string]any, len(req.Keys))
		for _, k := range req.Keys {
			if v, ok := h.Store.Get(ctx, k); ok {
				res[k] = v
				continue
			}
			// miss -> ask upstream if configured
			if h.Upstream != nil {
				v, found, err := h.Upstream.Fetch(ctx, k)
				if err != nil {
					return errorResponse(err)
				}
				if found {
					var opts []store.SetOption
					if h.TTL > 0 {
						opts = append(opts, store.WithTTL(h.TTL))
					}
					if _, err := h.Store.Set(ctx, k, v, opts...); err != nil {
						return errorResponse(err)
					}
					res[k] = v
					continue
				}
			}
			res[k] = nil
		}
		return Response{Type: "OK", Data: res}

	case "LIST":
		res := make(map[string]any)
		err := h.Store.ForEach(ctx, func(d store.Datum) error {
			res[d.Key] = d.Value
			return nil
		})
		if err != nil {
			return errorResponse(err)
		}
		return Response{Type: "OK", Data: res}

	case "KEYS":
		return Response{Type: "OK", Data: map[string]any{"keys": h.Store.Keys()}}

	case "UPDATE":
		var opts []store.SetOption
		if req.TTL > 0 {
			opts = append(opts, store.WithTTL(time.Duration(req.TTL)*time.Millisecond))
		}
		for k, raw := range req.Items {
			if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
				if _, err := h.Store.Remove(ctx, k); err != nil {
					return errorResponse(err)
				}
				continue
			}
			var v any
			if err := json.Unmarshal(raw, &v); err != nil {
				return errorResponse(fmt.Errorf("item %q: %w", k, err))
			}
			if _, err := h.Store.Set(ctx, k, v, opts...); err != nil {
				return errorResponse(err)
			}
		}
		return Response{Type: "OK"}

	default:
		return Response{Type: "ERR", Error: "unknown type"}
	}
}

// ServeJSON decodes a request payload, serves it and encodes the response.
func (h *Handler) ServeJSON(ctx context.Context, payload []byte) ([]byte, error) {
	var req Request
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, err
	}
	return json.Marshal(h.Serve(ctx, req))
}
