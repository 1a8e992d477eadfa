package task

import "testing"

func TestFingerprintStableUnderWhitespaceAndCase(t *testing.T) {
	a := EditorialContext{Tone: "Formal", Audience: "medical  staff", Style: "concise"}
	b := EditorialContext{Tone: "formal", Audience: "Medical staff", Style: " concise "}
	if a.Fingerprint() != b.Fingerprint() {
		t.Fatalf("fingerprints differ: %s vs %s", a.Fingerprint(), b.Fingerprint())
	}
}

func TestFingerprintDistinguishesFieldBoundaries(t *testing.T) {
	a := EditorialContext{Tone: "formal casual"}
	b := EditorialContext{Tone: "formal", Audience: "casual"}
	if a.Fingerprint() == b.Fingerprint() {
		t.Fatal("field boundary collapsed in fingerprint")
	}
}

func TestFingerprintLength(t *testing.T) {
	if got := (EditorialContext{}).Fingerprint(); len(got) != 16 {
		t.Fatalf("fingerprint %q has length %d, want 16", got, len(got))
	}
}
