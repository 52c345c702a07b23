package statuslabel

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"batchgen/internal/batch"
)

var supported = []language.Tag{language.English, language.Chinese, language.Indonesian}

var matcher = language.NewMatcher(supported)

var labels = map[string]map[batch.Status]string{
	"en": {
		batch.StatusPending:   "Pending",
		batch.StatusSubmitted: "Submitted",
		batch.StatusRunning:   "Generating",
		batch.StatusSucceeded: "Done",
		batch.StatusFailed:    "Failed",
		batch.StatusTimeout:   "Timed out",
		batch.StatusCanceled:  "Canceled",
	},
	"zh": {
		batch.StatusPending:   "等待中",
		batch.StatusSubmitted: "已提交",
		batch.StatusRunning:   "生成中",
		batch.StatusSucceeded: "已完成",
		batch.StatusFailed:    "失败",
		batch.StatusTimeout:   "超时",
		batch.StatusCanceled:  "已取消",
	},
	"id": {
		batch.StatusPending:   "Menunggu",
		batch.StatusSubmitted: "Terkirim",
		batch.StatusRunning:   "Sedang dibuat",
		batch.StatusSucceeded: "Selesai",
		batch.StatusFailed:    "Gagal",
		batch.StatusTimeout:   "Waktu habis",
		batch.StatusCanceled:  "Dibatalkan",
	},
}

// Locale resolves a locale or Accept-Language value to en, zh or id.
func Locale(pref string) string {
	pref = strings.TrimSpace(pref)
	if pref == "" {
		return "en"
	}
	_, idx := language.MatchStrings(matcher, strings.ReplaceAll(pref, "_", "-"))
	base, _ := supported[idx].Base()
	return base.String()
}

// Label renders status for the given locale.
func Label(status batch.Status, locale string) string {
	if l, ok := labels[Locale(locale)][status]; ok {
		return l
	}
	return cases.Title(language.English).String(strings.ReplaceAll(string(status), "_", " "))
}

// For returns a label function bound to locale.
func For(locale string) func(batch.Status) string {
	resolved := Locale(locale)
	return func(s batch.Status) string {
		return Label(s, resolved)
	}
}

// Parse maps a raw status or a label in any supported locale back to the
// status it renders.
func Parse(text string) (batch.Status, bool) {
	if s, ok := batch.ParseStatus(text); ok {
		return s, true
	}
	text = strings.TrimSpace(text)
	for _, byStatus := range labels {
		for status, label := range byStatus {
			if strings.EqualFold(label, text) {
				return status, true
			}
		}
	}
	return "", false
}
