package batch

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

type fingerprintDoc struct {
	Prompt      string         `json:"prompt"`
	Image       string         `json:"image"`
	Ratio       string         `json:"ratio"`
	Seed        string         `json:"seed"`
	Watermark   string         `json:"watermark"`
	CallbackURL string         `json:"callback_url"`
	Translate   string         `json:"translate"`
	Extra       map[string]any `json:"extra"`
}

// Fingerprint returns the sha256 of a canonical serialization of in. Absent
// and empty values serialize identically and surrounding whitespace is
// ignored, so two rows describing the same work collide on purpose.
func Fingerprint(in Input) string {
	doc := fingerprintDoc{
		Prompt:      strings.TrimSpace(in.Prompt),
		Image:       strings.TrimSpace(in.ImageURL),
		Ratio:       strings.TrimSpace(in.Ratio),
		Watermark:   strings.TrimSpace(in.Watermark),
		CallbackURL: strings.TrimSpace(in.CallbackURL),
		Translate:   strings.TrimSpace(string(in.Translate)),
		Extra:       in.Extra,
	}
	if in.Seed != nil {
		doc.Seed = strconv.FormatInt(*in.Seed, 10)
	}
	if doc.Extra == nil {
		doc.Extra = map[string]any{}
	}
	// encoding/json sorts map keys at every level.
	raw, err := json.Marshal(doc)
	if err != nil {
		doc.Extra = nil
		raw, _ = json.Marshal(doc)
		raw = append(raw, fmt.Sprintf("%v", in.Extra)...)
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}
