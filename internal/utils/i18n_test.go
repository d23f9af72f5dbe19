package utils

import "testing"

func TestT_Fallback(t *testing.T) {
	if got := T("fr", "health.ok"); got != "ok" {
		t.Fatalf("fallback to en failed: %s", got)
	}
	if got := T("en", "no.such.key"); got != "no.such.key" {
		t.Fatalf("unknown key should echo, got %s", got)
	}
}

func TestT_LocalesShareKeys(t *testing.T) {
	for key := range translations["en"] {
		for _, loc := range SupportedLocales() {
			if _, ok := translations[loc][key]; !ok {
				t.Fatalf("locale %s missing %s", loc, key)
			}
		}
	}
}
