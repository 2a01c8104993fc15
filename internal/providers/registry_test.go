package providers

import (
	"context"
	"errors"
	"reflect"
	"testing"
)

type stubProvider struct {
	name string
}

func (p *stubProvider) Name() string    { return p.name }
func (p *stubProvider) Version() string { return "0.0.1" }

func (p *stubProvider) Configure(_ context.Context, _ Options) (*Session, error) {
	return &Session{Provider: p.name, AuthState: AuthStateAnonymous}, nil
}

func (p *stubProvider) FetchSince(_ context.Context, _ *string, _ int, _ Filters) (*Batch, error) {
	return &Batch{}, nil
}

func stubFactory(name string) Factory {
	return func() Provider { return &stubProvider{name: name} }
}

func TestRegisterAndResolve(t *testing.T) {
	r := NewRegistry()

	if err := r.Register("Demo", stubFactory("demo"), false); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if !r.Has("demo") {
		t.Error("Has(demo) = false after registration")
	}
	if !r.Has("DEMO") {
		t.Error("registry lookup should be case-insensitive")
	}

	p, err := r.Resolve("demo")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if p.Name() != "demo" {
		t.Errorf("resolved provider name = %q, want %q", p.Name(), "demo")
	}
}

func TestResolveReturnsFreshInstances(t *testing.T) {
	r := NewRegistry()
	if err := r.Register("demo", stubFactory("demo"), false); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	first, err := r.Resolve("demo")
	if err != nil {
		t.Fatalf("first Resolve failed: %v", err)
	}
	second, err := r.Resolve("demo")
	if err != nil {
		t.Fatalf("second Resolve failed: %v", err)
	}
	if first == second {
		t.Error("Resolve returned the same instance twice")
	}
}

func TestRegisterDuplicate(t *testing.T) {
	r := NewRegistry()
	if err := r.Register("demo", stubFactory("demo"), false); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	err := r.Register("demo", stubFactory("other"), false)
	if !errors.Is(err, ErrAlreadyRegistered) {
		t.Errorf("duplicate Register error = %v, want ErrAlreadyRegistered", err)
	}

	// Override replaces the factory.
	if err := r.Register("demo", stubFactory("replacement"), true); err != nil {
		t.Fatalf("Register with override failed: %v", err)
	}
	p, err := r.Resolve("demo")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if p.Name() != "replacement" {
		t.Errorf("resolved provider name = %q, want %q", p.Name(), "replacement")
	}
}

func TestRegisterRejectsNilFactory(t *testing.T) {
	r := NewRegistry()
	err := r.Register("demo", nil, false)
	if !errors.Is(err, ErrInvalidFactory) {
		t.Errorf("Register(nil) error = %v, want ErrInvalidFactory", err)
	}
}

func TestUnregister(t *testing.T) {
	r := NewRegistry()
	if err := r.Register("demo", stubFactory("demo"), false); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	if err := r.Unregister("demo"); err != nil {
		t.Fatalf("Unregister failed: %v", err)
	}
	if r.Has("demo") {
		t.Error("Has(demo) = true after Unregister")
	}

	err := r.Unregister("demo")
	if !errors.Is(err, ErrNotRegistered) {
		t.Errorf("second Unregister error = %v, want ErrNotRegistered", err)
	}
}

func TestResolveUnknown(t *testing.T) {
	r := NewRegistry()
	_, err := r.Resolve("missing")
	if !errors.Is(err, ErrNotRegistered) {
		t.Errorf("Resolve(missing) error = %v, want ErrNotRegistered", err)
	}
}

func TestAvailableSorted(t *testing.T) {
	r := NewRegistry()
	for _, name := range []string{"zeta", "alpha", "Mid"} {
		if err := r.Register(name, stubFactory(name), false); err != nil {
			t.Fatalf("Register(%s) failed: %v", name, err)
		}
	}

	got := r.Available()
	want := []string{"alpha", "mid", "zeta"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Available() = %v, want %v", got, want)
	}
}
