package policy

import (
	"strings"
	"testing"
)

func TestRedactPII(t *testing.T) {
	input := "Email me at sam@example.com or +1 (555) 123-9876 and use 4242 4242 4242 4242."
	out, kinds := RedactPII(input)
	if len(kinds) != 3 {
		t.Fatalf("kinds = %v, want email, card and phone", kinds)
	}
	for _, marker := range []string{"[REDACTED_EMAIL]", "[REDACTED_PHONE]", "[REDACTED_CARD]"} {
		if !strings.Contains(out, marker) {
			t.Fatalf("output missing marker %q: %q", marker, out)
		}
	}
}

func TestRedactorCountsKinds(t *testing.T) {
	r := NewRedactor(true)
	out, changed := r.Redact("I ran 5 km, write to me at runner@example.org")
	if !changed || strings.Contains(out, "runner@example.org") {
		t.Fatalf("Redact() = %q, %v, want email masked", out, changed)
	}
	if out, changed := r.Redact("I meditated for 20 minutes"); changed || out != "I meditated for 20 minutes" {
		t.Fatalf("Redact(clean) = %q, %v, want unchanged", out, changed)
	}
	if got := r.Counts()["email"]; got != 1 {
		t.Fatalf("Counts()[email] = %d, want 1", got)
	}
}

func TestDisabledRedactorPassesThrough(t *testing.T) {
	r := NewRedactor(false)
	in := "call +1 555 123 9876"
	if out, changed := r.Redact(in); changed || out != in {
		t.Fatalf("Redact() = %q, %v, want passthrough", out, changed)
	}
	var nilRedactor *Redactor
	if out, _ := nilRedactor.Redact(in); out != in {
		t.Fatalf("nil Redact() = %q, want passthrough", out)
	}
}
