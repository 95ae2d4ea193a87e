package version

import "testing"

func TestKeyPadsComponents(t *testing.T) {
	key, err := Key("0.0.4")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if key != "000.000.004" {
		t.Fatalf("expected 000.000.004, got %s", key)
	}
}

func TestKeyPreservesOrdering(t *testing.T) {
	pairs := [][2]string{
		{"0.0.4", "0.0.36"},
		{"0.0.36", "0.1.0"},
		{"0.9.9", "0.10.0"},
		{"1.2.3", "2.0.0"},
		{"9.0.0", "10.0.0"},
		{"1.0.0-alpha", "1.0.0-beta"},
	}
	for _, pair := range pairs {
		lo, err := Key(pair[0])
		if err != nil {
			t.Fatalf("Key(%s): %v", pair[0], err)
		}
		hi, err := Key(pair[1])
		if err != nil {
			t.Fatalf("Key(%s): %v", pair[1], err)
		}
		if !(lo < hi) {
			t.Fatalf("expected Key(%s)=%s < Key(%s)=%s", pair[0], lo, pair[1], hi)
		}
	}
}

func TestKeyNaiveStringOrderingWouldFail(t *testing.T) {
	// "0.0.4" > "0.0.36" as plain strings; the padded keys must not be.
	if !("0.0.36" < "0.0.4") {
		t.Fatal("test premise broken")
	}
	lo, _ := Key("0.0.4")
	hi, _ := Key("0.0.36")
	if !(lo < hi) {
		t.Fatalf("padded keys out of order: %s vs %s", lo, hi)
	}
}

func TestKeyKeepsPrereleaseAndBuild(t *testing.T) {
	key, err := Key("1.2.3-rc.1+build.5")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if key != "001.002.003-rc.1+build.5" {
		t.Fatalf("unexpected key %s", key)
	}
}

func TestKeyRejectsInvalidVersions(t *testing.T) {
	for _, raw := range []string{"", "abc", "1.2.3.4", "1..3"} {
		if _, err := Key(raw); err == nil {
			t.Fatalf("expected error for %q", raw)
		}
	}
}

func TestCompare(t *testing.T) {
	if Compare("0.0.4", "0.0.36") >= 0 {
		t.Fatal("expected 0.0.4 < 0.0.36")
	}
	if Compare("1.0.0", "1.0.0") != 0 {
		t.Fatal("expected equality")
	}
}
