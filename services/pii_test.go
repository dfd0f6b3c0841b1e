package services

import (
	"strings"
	"testing"
)

func TestDetectEmail(t *testing.T) {
	matches := DetectPII("contact me at jan.novak@seznam.cz please")
	if len(matches) != 1 {
		t.Fatalf("got %d matches, want 1", len(matches))
	}
	if matches[0].Category != PIIEmail || matches[0].Value != "jan.novak@seznam.cz" {
		t.Errorf("match = %+v", matches[0])
	}
}

func TestDetectEmailIgnoresServiceDomains(t *testing.T) {
	if m := DetectPII("docs use user@example.com everywhere"); len(m) != 0 {
		t.Errorf("example.com should be ignored, got %+v", m)
	}
	if m := DetectPII("write to info@gov.cz"); len(m) != 0 {
		t.Errorf("gov.cz should be ignored, got %+v", m)
	}
}

func TestDetectPhone(t *testing.T) {
	for _, s := range []string{
		"call +420 777 123 456 now",
		"call 00420777123456 now",
	} {
		matches := DetectPII(s)
		if len(matches) != 1 || matches[0].Category != PIIPhone {
			t.Errorf("%q: got %+v", s, matches)
		}
	}
}

func TestDetectCardLuhn(t *testing.T) {
	// 4532015112830366 passes Luhn
	matches := DetectPII("my card is 4532 0151 1283 0366 ok")
	if len(matches) != 1 || matches[0].Category != PIICard {
		t.Fatalf("valid card not detected: %+v", matches)
	}

	// Same digits with the check digit off by one
	if m := DetectPII("my card is 4532 0151 1283 0367 ok"); len(m) != 0 {
		t.Errorf("luhn-invalid card flagged: %+v", m)
	}
}

func TestDetectBirthNumber(t *testing.T) {
	// month 56 = woman born in June
	matches := DetectPII("RC 885612/1234 here")
	if len(matches) != 1 || matches[0].Category != PIINationalID {
		t.Fatalf("birth number not detected: %+v", matches)
	}

	// month 99 is never valid
	if m := DetectPII("number 889912/1234 here"); len(m) != 0 {
		t.Errorf("invalid month flagged: %+v", m)
	}
}

func TestDetectIBAN(t *testing.T) {
	matches := DetectPII("send to CZ65 0800 0000 1920 0014 5399 thanks")
	found := false
	for _, m := range matches {
		if m.Category == PIIIBAN {
			found = true
		}
	}
	if !found {
		t.Errorf("iban not detected: %+v", matches)
	}
}

func TestRedactReplacesWithPlaceholders(t *testing.T) {
	in := "email jan@novak.cz, phone +420 777 123 456"
	out, categories := RedactPII(in)

	if strings.Contains(out, "jan@novak.cz") || strings.Contains(out, "777 123 456") {
		t.Errorf("pii survived redaction: %q", out)
	}
	if !strings.Contains(out, "[EMAIL]") || !strings.Contains(out, "[PHONE]") {
		t.Errorf("placeholders missing: %q", out)
	}
	if len(categories) != 2 {
		t.Errorf("categories = %v", categories)
	}
}

func TestRedactIdempotent(t *testing.T) {
	in := "reach me at jan@novak.cz or 885612/1234"
	once, _ := RedactPII(in)
	twice, categories := RedactPII(once)
	if once != twice {
		t.Errorf("second pass changed output: %q -> %q", once, twice)
	}
	if len(categories) != 0 {
		t.Errorf("second pass reported categories: %v", categories)
	}
}

func TestRedactCleanTextUntouched(t *testing.T) {
	in := "how do I configure the widget?"
	out, categories := RedactPII(in)
	if out != in || categories != nil {
		t.Errorf("clean text modified: %q, %v", out, categories)
	}
}

func TestRedactMultipleSameCategory(t *testing.T) {
	out, categories := RedactPII("a@b.cz and c@d.cz")
	if strings.Count(out, "[EMAIL]") != 2 {
		t.Errorf("expected two placeholders: %q", out)
	}
	if len(categories) != 1 || categories[0] != PIIEmail {
		t.Errorf("categories = %v", categories)
	}
}
