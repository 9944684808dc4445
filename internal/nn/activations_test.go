package nn

import (
	"errors"
	"math"
	"testing"
)

func TestRegisterAndGetActivation(t *testing.T) {
	resetActivationRegistryForTests()
	t.Cleanup(resetActivationRegistryForTests)

	if err := RegisterActivation("quad", func(x float64) float64 { return x * x }); err != nil {
		t.Fatalf("register activation: %v", err)
	}
	fn, err := GetActivation("quad")
	if err != nil {
		t.Fatalf("get activation: %v", err)
	}
	if got := fn(3); got != 9 {
		t.Fatalf("unexpected activation result: got=%f want=9", got)
	}
}

func TestRegisterActivationValidation(t *testing.T) {
	resetActivationRegistryForTests()
	t.Cleanup(resetActivationRegistryForTests)

	if err := RegisterActivation("", Identity); err == nil {
		t.Fatal("expected empty name error")
	}
	if err := RegisterActivation("nil", nil); err == nil {
		t.Fatal("expected nil function error")
	}
	if err := RegisterActivationWithSpec(ActivationSpec{
		Name:          "bad-version",
		Func:          Identity,
		SchemaVersion: 99,
		CodecVersion:  1,
	}); !errors.Is(err, ErrActivationVersion) {
		t.Fatalf("expected ErrActivationVersion, got: %v", err)
	}
}

func TestRegisterActivationDuplicate(t *testing.T) {
	resetActivationRegistryForTests()
	t.Cleanup(resetActivationRegistryForTests)

	if err := RegisterActivation("dup", Identity); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if err := RegisterActivation("dup", Identity); !errors.Is(err, ErrActivationExists) {
		t.Fatalf("expected ErrActivationExists, got: %v", err)
	}
}

func TestGetActivationNotFound(t *testing.T) {
	resetActivationRegistryForTests()
	t.Cleanup(resetActivationRegistryForTests)

	_, err := GetActivation("missing")
	if !errors.Is(err, ErrActivationNotFound) {
		t.Fatalf("expected ErrActivationNotFound, got: %v", err)
	}
}

func TestListActivationsSorted(t *testing.T) {
	resetActivationRegistryForTests()
	t.Cleanup(resetActivationRegistryForTests)

	if err := RegisterActivation("b", Identity); err != nil {
		t.Fatalf("register b: %v", err)
	}
	if err := RegisterActivation("a", Identity); err != nil {
		t.Fatalf("register a: %v", err)
	}

	names := ListActivations()
	if len(names) < 9 {
		t.Fatalf("expected built-ins plus custom activations, got: %+v", names)
	}
	if names[0] != "a" || names[1] != "b" {
		t.Fatalf("unexpected activation list: %+v", names)
	}
}

func TestBuiltinsAvailable(t *testing.T) {
	// Built-ins are registered during init and should remain available in regular runtime.
	for _, name := range []string{"identity", "relu", "tanh", "sigmoid", "sin", "gaussian", "clamped"} {
		fn, err := GetActivation(name)
		if err != nil {
			t.Fatalf("get builtin activation %s: %v", name, err)
		}
		_ = fn(1.0)
	}
}

func TestActivationResponses(t *testing.T) {
	cases := []struct {
		name string
		fn   ActivationFunc
		in   float64
		want float64
	}{
		{"identity", Identity, -2.5, -2.5},
		{"relu negative", ReLU, -1.0, 0},
		{"relu positive", ReLU, 1.5, 1.5},
		{"sigmoid zero", Sigmoid, 0, 0.5},
		{"gaussian zero", Gaussian, 0, 1},
		{"clamped high", Clamped, 4.2, 1},
		{"clamped low", Clamped, -4.2, -1},
		{"clamped inside", Clamped, 0.3, 0.3},
	}
	for _, tc := range cases {
		if got := tc.fn(tc.in); math.Abs(got-tc.want) > 1e-12 {
			t.Fatalf("%s: got=%f want=%f", tc.name, got, tc.want)
		}
	}
}
