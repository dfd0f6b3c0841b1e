package services

import (
	"github.com/abadojack/whatlanggo"
)

// DetectLanguage returns the ISO 639-3 code of the message language, or
// "und" when the text is too short or ambiguous to call.
func DetectLanguage(text string) string {
	if len(text) < 8 {
		return "und"
	}
	info := whatlanggo.Detect(text)
	if !info.IsReliable() {
		return "und"
	}
	return info.Lang.Iso6393()
}
