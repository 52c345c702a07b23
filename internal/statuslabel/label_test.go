package statuslabel

import (
	"testing"

	"batchgen/internal/batch"
)

func TestLocale(t *testing.T) {
	cases := map[string]string{
		"":                        "en",
		"en-US":                   "en",
		"zh-CN":                   "zh",
		"zh_CN":                   "zh",
		"id":                      "id",
		"id-ID,en;q=0.8":          "id",
		"fr-FR":                   "en",
		"de-DE,zh-Hans;q=0.9":     "zh",
		"en-GB;q=0.5,id-ID;q=0.9": "id",
	}
	for in, want := range cases {
		if got := Locale(in); got != want {
			t.Fatalf("Locale(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestLabel(t *testing.T) {
	if got := Label(batch.StatusSucceeded, "zh-CN"); got != "已完成" {
		t.Fatalf("unexpected zh label %q", got)
	}
	if got := Label(batch.StatusFailed, "id"); got != "Gagal" {
		t.Fatalf("unexpected id label %q", got)
	}
	if got := Label(batch.StatusRunning, "xx"); got != "Generating" {
		t.Fatalf("unexpected fallback label %q", got)
	}
	if got := Label(batch.Status("on_hold"), "en"); got != "On Hold" {
		t.Fatalf("unexpected unknown-status label %q", got)
	}
	label := For("id-ID")
	if label(batch.StatusPending) != "Menunggu" {
		t.Fatalf("unexpected bound label %q", label(batch.StatusPending))
	}
}

func TestParseReversesEveryLabel(t *testing.T) {
	for locale, byStatus := range labels {
		for status, label := range byStatus {
			got, ok := Parse(label)
			if !ok || got != status {
				t.Fatalf("%s: Parse(%q) = %q, %v; want %q", locale, label, got, ok, status)
			}
		}
	}
	if got, ok := Parse(" SUCCEEDED "); !ok || got != batch.StatusSucceeded {
		t.Fatalf("expected raw status to parse, got %q %v", got, ok)
	}
	if got, ok := Parse("timed OUT"); !ok || got != batch.StatusTimeout {
		t.Fatalf("expected case-insensitive label match, got %q %v", got, ok)
	}
	if _, ok := Parse("exploded"); ok {
		t.Fatalf("expected unknown text to be rejected")
	}
}
