package subgraph

import (
	"testing"

	"github.com/go-test/deep"
)

var idConversionCases = []struct {
	name string
	ipfs ID
	hex  string
}{
	{
		name: "documented fixture",
		ipfs: "Qmaz1R8vcv9v3gUfksqiS9JUz7K9G8S5By3JYn8kTiiP5K",
		hex:  "0xbbde25a2c85f55b53b7698b9476610c3d1202d88870e66502ab0076b7218f98a",
	},
}

func TestIDHex(t *testing.T) {
	for _, tt := range idConversionCases {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.ipfs.Hex()
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if diff := deep.Equal(got, tt.hex); diff != nil {
				t.Errorf("unexpected hex form: %v", diff)
			}
		})
	}
}

func TestFromHex(t *testing.T) {
	for _, tt := range idConversionCases {
		t.Run(tt.name, func(t *testing.T) {
			got, err := FromHex(tt.hex)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if diff := deep.Equal(got, tt.ipfs); diff != nil {
				t.Errorf("unexpected ipfs form: %v", diff)
			}
		})
	}
}

func TestFromHexWithoutPrefix(t *testing.T) {
	got, err := FromHex("bbde25a2c85f55b53b7698b9476610c3d1202d88870e66502ab0076b7218f98a")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "Qmaz1R8vcv9v3gUfksqiS9JUz7K9G8S5By3JYn8kTiiP5K" {
		t.Errorf("unexpected ipfs form: %v", got)
	}
}

func TestRoundTrip(t *testing.T) {
	ids := []string{
		"Qmaz1R8vcv9v3gUfksqiS9JUz7K9G8S5By3JYn8kTiiP5K",
		"Qmadj8x9km1YEyKmRnJ6EkC2zpJZFCfTyTZpuqC3j6e1QH",
		"QmPnu3R7Fm4RmBF21aCYUohDmWbKd3VMXo64ACiRtwUQrn",
		"QmTJBvvpknMow6n4YU8R9Swna6N8mHK8N2WufetysBiyuL",
	}
	for _, s := range ids {
		id, err := ParseID(s)
		if err != nil {
			t.Fatalf("ParseID(%q): %v", s, err)
		}
		h, err := id.Hex()
		if err != nil {
			t.Fatalf("Hex(%q): %v", s, err)
		}
		back, err := FromHex(h)
		if err != nil {
			t.Fatalf("FromHex(%q): %v", h, err)
		}
		if back != id {
			t.Errorf("round trip of %q via %q yielded %q", s, h, back)
		}
	}
}

func TestParseIDRejectsMalformed(t *testing.T) {
	cases := []struct {
		name string
		in   string
	}{
		{name: "too short", in: "Qmaz1R8vcv9v3gUfksqiS9JUz7K9G8S5By3JYn8kTiiP5"},
		{name: "wrong prefix", in: "XXaz1R8vcv9v3gUfksqiS9JUz7K9G8S5By3JYn8kTiiP5K"},
		{name: "invalid base58", in: "Qm0000000000000000000000000000000000000000000I"},
	}
	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseID(tt.in); err == nil {
				t.Errorf("expected error for %q", tt.in)
			}
		})
	}
}
