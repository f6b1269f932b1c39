package bridge

import (
	"errors"
	"testing"
)

type point struct {
	X int    `bridge:"x"`
	Y int    `bridge:"y"`
	Z *int   `bridge:"z,omitempty"`
	W string `bridge:"-"`
}

func TestToScriptStructUsesBridgeTags(t *testing.T) {
	out, err := ToScript(point{X: 1, Y: 2, W: "hidden"})
	if err != nil {
		t.Fatalf("ToScript: %v", err)
	}
	m, ok := out.(map[string]any)
	if !ok {
		t.Fatalf("ToScript result = %#v, want map[string]any", out)
	}
	if m["x"] != 1 || m["y"] != 2 {
		t.Fatalf("m = %+v, want x=1 y=2", m)
	}
	if _, present := m["W"]; present {
		t.Fatalf("skip-tagged field leaked into output: %+v", m)
	}
}

func TestFromScriptAllOptionalStructDefaultsWhenMissing(t *testing.T) {
	type opts struct {
		X *int   `bridge:"x"`
		Y string `bridge:"y,omitempty"`
	}
	var p opts
	if err := FromScript(nil, &p); err != nil {
		t.Fatalf("FromScript(nil): %v", err)
	}
	if p.X != nil || p.Y != "" {
		t.Fatalf("p = %+v, want zero value", p)
	}
}

func TestFromScriptMissingRequiredFieldFails(t *testing.T) {
	type required struct {
		A string `bridge:"a"`
	}
	var r required
	err := FromScript(map[string]any{}, &r)
	if !errors.Is(err, ErrCantConvert) {
		t.Fatalf("err = %v, want ErrCantConvert", err)
	}
}

func TestToScriptUint64OverflowBecomesDecimalString(t *testing.T) {
	const big uint64 = 1 << 63
	out, err := ToScript(big)
	if err != nil {
		t.Fatalf("ToScript: %v", err)
	}
	s, ok := out.(string)
	if !ok || s != "9223372036854775808" {
		t.Fatalf("ToScript(2^63) = %#v, want bigint-string", out)
	}
}

func TestFromScriptBigintStringRoundTripsToUint64(t *testing.T) {
	var n uint64
	if err := FromScript("9223372036854775808", &n); err != nil {
		t.Fatalf("FromScript: %v", err)
	}
	if n != 1<<63 {
		t.Fatalf("n = %d, want 2^63", n)
	}
}

func TestEnumRoundTripCaseInsensitive(t *testing.T) {
	spec := EnumSpec{Names: []string{"Red", "Green", "Blue"}}

	ord, err := EnumFromScript(spec, "green")
	if err != nil {
		t.Fatalf("EnumFromScript: %v", err)
	}
	if ord != 1 {
		t.Fatalf("ord = %d, want 1", ord)
	}
	if got := EnumToScript(spec, ord); got != "Green" {
		t.Fatalf("EnumToScript(1) = %v, want Green", got)
	}
}

func TestEnumFromScriptFallsBackToDefault(t *testing.T) {
	spec := EnumSpec{Names: []string{"Red"}, Default: 0, HasDefault: true}
	ord, err := EnumFromScript(spec, "unknown-color")
	if err != nil {
		t.Fatalf("EnumFromScript: %v", err)
	}
	if ord != 0 {
		t.Fatalf("ord = %d, want Default 0", ord)
	}
}

func TestOptionalNoneConvertsToNull(t *testing.T) {
	out, err := ToScript(None())
	if err != nil {
		t.Fatalf("ToScript: %v", err)
	}
	if out != nil {
		t.Fatalf("ToScript(None()) = %v, want nil", out)
	}
}
