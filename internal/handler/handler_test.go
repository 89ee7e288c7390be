package handler_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/UltraSive/filekv/internal/handler"
	"github.com/UltraSive/filekv/store"
)

func newHandler(t *testing.T) (*handler.Handler, *store.Store) {
	t.Helper()
	s, err := store.Open(context.Background(), store.Options{
		Dir:             t.TempDir(),
		ExpiredInterval: -1,
		WriteQueue:      store.Bool(false),
	})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { s.Close(context.Background()) })
	return handler.New(s, nil, 0), s
}

func TestHandler_UpdateGet(t *testing.T) {
	ctx := context.Background()
	h, _ := newHandler(t)

	resp := h.Serve(ctx, handler.Request{
		Type: "UPDATE",
		Items: map[string]json.RawMessage{
			"a": json.RawMessage(`{"n":1}`),
			"b": json.RawMessage(`"two"`),
		},
	})
	if resp.Type != "OK" {
		t.Fatalf("UPDATE = %+v", resp)
	}

	resp = h.Serve(ctx, handler.Request{Type: "GET", Keys: []string{"a", "b", "missing"}})
	if resp.Type != "OK" {
		t.Fatalf("GET = %+v", resp)
	}
	if resp.Data["b"] != "two" {
		t.Errorf("b = %v", resp.Data["b"])
	}
	if a, ok := resp.Data["a"].(map[string]any); !ok || a["n"] != float64(1) {
		t.Errorf("a = %v", resp.Data["a"])
	}
	if v, ok := resp.Data["missing"]; !ok || v != nil {
		t.Errorf("missing = %v, %v; want nil entry", v, ok)
	}
}

func TestHandler_UpdateRemoves(t *testing.T) {
	ctx := context.Background()
	h, s := newHandler(t)

	if _, err := s.Set(ctx, "gone", 1); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Set(ctx, "null", 1); err != nil {
		t.Fatal(err)
	}

	resp := h.Serve(ctx, handler.Request{
		Type: "UPDATE",
		Items: map[string]json.RawMessage{
			"gone": nil,
			"null": json.RawMessage("null"),
		},
	})
	if resp.Type != "OK" {
		t.Fatalf("UPDATE = %+v", resp)
	}
	if got := s.Length(); got != 0 {
		t.Errorf("Length = %d after removal", got)
	}
}

func TestHandler_UpdateTTL(t *testing.T) {
	ctx := context.Background()
	h, s := newHandler(t)

	before := time.Now().UnixMilli()
	resp := h.Serve(ctx, handler.Request{
		Type:  "UPDATE",
		Items: map[string]json.RawMessage{"k": json.RawMessage("1")},
		TTL:   60_000,
	})
	if resp.Type != "OK" {
		t.Fatalf("UPDATE = %+v", resp)
	}

	d, ok := s.GetDatum(ctx, "k")
	if !ok {
		t.Fatal("k not stored")
	}
	if d.TTL < before+60_000 || d.TTL > time.Now().UnixMilli()+60_000 {
		t.Errorf("TTL = %d, want about %d", d.TTL, before+60_000)
	}
}

func TestHandler_ListKeys(t *testing.T) {
	ctx := context.Background()
	h, s := newHandler(t)

	for _, k := range []string{"b", "a"} {
		if _, err := s.Set(ctx, k, k); err != nil {
			t.Fatal(err)
		}
	}

	resp := h.Serve(ctx, handler.Request{Type: "LIST"})
	if resp.Type != "OK" || len(resp.Data) != 2 || resp.Data["a"] != "a" {
		t.Errorf("LIST = %+v", resp)
	}

	resp = h.Serve(ctx, handler.Request{Type: "KEYS"})
	keys, _ := resp.Data["keys"].([]string)
	if len(keys) != 2 || keys[0] != "a" {
		t.Errorf("KEYS = %+v", resp)
	}
}

func TestHandler_Errors(t *testing.T) {
	ctx := context.Background()
	h, _ := newHandler(t)

	tests := []struct {
		name string
		req  handler.Request
	}{
		{"unknown type", handler.Request{Type: "PUT"}},
		{"empty key", handler.Request{Type: "UPDATE", Items: map[string]json.RawMessage{"": json.RawMessage("1")}}},
		{"bad item", handler.Request{Type: "UPDATE", Items: map[string]json.RawMessage{"k": json.RawMessage("{")}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := h.Serve(ctx, tt.req)
			if resp.Type != "ERR" || resp.Error == "" {
				t.Errorf("Serve = %+v, want ERR", resp)
			}
		})
	}
}

func TestHandler_ServeJSON(t *testing.T) {
	ctx := context.Background()
	h, _ := newHandler(t)

	out, err := h.ServeJSON(ctx, []byte(`{"type":"UPDATE","items":{"k":"v"}}`))
	if err != nil {
		t.Fatalf("ServeJSON failed: %v", err)
	}
	if string(out) != `{"type":"OK"}` {
		t.Errorf("ServeJSON = %s", out)
	}

	out, err = h.ServeJSON(ctx, []byte(`{"type":"GET","keys":["k"]}`))
	if err != nil {
		t.Fatalf("ServeJSON failed: %v", err)
	}
	if string(out) != `{"type":"OK","data":{"k":"v"}}` {
		t.Errorf("ServeJSON = %s", out)
	}

	if _, err := h.ServeJSON(ctx, []byte("not json")); err == nil {
		t.Error("ServeJSON of invalid payload succeeded")
	}
}

type fakeUpstream map[string]any

func (f fakeUpstream) Fetch(_ context.Context, key string) (any, bool, error) {
	if key == "fail" {
		return nil, false, errors.New("upstream down")
	}
	v, ok := f[key]
	return v, ok, nil
}

func TestHandler_ReadThrough(t *testing.T) {
	ctx := context.Background()
	h, s := newHandler(t)
	h.Upstream = fakeUpstream{"remote": "from upstream"}
	h.TTL = time.Minute

	resp := h.Serve(ctx, handler.Request{Type: "GET", Keys: []string{"remote", "nowhere"}})
	if resp.Type != "OK" || resp.Data["remote"] != "from upstream" || resp.Data["nowhere"] != nil {
		t.Fatalf("GET = %+v", resp)
	}

	d, ok := s.GetDatum(ctx, "remote")
	if !ok || d.Value != "from upstream" {
		t.Fatalf("fetched value not cached: %+v, %v", d, ok)
	}
	if d.TTL == 0 {
		t.Error("fetched value cached without ttl")
	}

	resp = h.Serve(ctx, handler.Request{Type: "GET", Keys: []string{"fail"}})
	if resp.Type != "ERR" {
		t.Errorf("GET with failing upstream = %+v", resp)
	}
}
