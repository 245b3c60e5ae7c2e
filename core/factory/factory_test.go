package factory

import (
	"testing"
	"time"
)

type sample struct{ A int }

type sampleConf struct {
	A int `json:"a"`
}

// Test registry registration and instantiation using Decode.
func TestRegistry_Create(t *testing.T) {
	reg := NewRegistry[*sample]()
	if err := reg.Register("s", func(conf map[string]any) (*sample, error) {
		var c sampleConf
		if err := Decode(conf, &c); err != nil {
			return nil, err
		}
		return &sample{A: c.A}, nil
	}); err != nil {
		t.Fatalf("register: %v", err)
	}
	inst, err := reg.Create(ModuleConfig{Type: "s", Conf: map[string]any{"a": 3}})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if inst.A != 3 {
		t.Fatalf("expected 3 got %d", inst.A)
	}
}

// Test duplicate registration and unknown type errors.
func TestRegistry_Errors(t *testing.T) {
	reg := NewRegistry[int]()
	if err := reg.Register("x", func(map[string]any) (int, error) { return 1, nil }); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := reg.Register("x", nil); err == nil {
		t.Fatal("expected duplicate error")
	}
	if _, err := reg.Create(ModuleConfig{Type: "y"}); err == nil {
		t.Fatal("expected unknown type error")
	}
}

func TestRegistry_TypesAndDurationDecode(t *testing.T) {
	reg := NewRegistry[time.Duration]()
	for _, name := range []string{"poll", "watch"} {
		if err := reg.Register(name, func(conf map[string]any) (time.Duration, error) {
			var c struct {
				Interval time.Duration `json:"interval"`
			}
			if err := Decode(conf, &c); err != nil {
				return 0, err
			}
			return c.Interval, nil
		}); err != nil {
			t.Fatalf("register: %v", err)
		}
	}
	if got := reg.Types(); len(got) != 2 || got[0] != "poll" || got[1] != "watch" {
		t.Fatalf("unexpected types %v", got)
	}
	d, err := reg.Create(ModuleConfig{Type: "poll", Conf: map[string]any{"interval": "5s"}})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if d != 5*time.Second {
		t.Fatalf("expected 5s got %v", d)
	}
}
