package translate

import (
	"context"
	"strings"

	"github.com/abadojack/whatlanggo"
)

// Translator converts text between the user's language and the pipeline's
// working language. Implementations must be safe for concurrent use; failures
// are recoverable and must never abort the calling exchange.
type Translator interface {
	// TranslateToWorking converts user input into the working language.
	TranslateToWorking(ctx context.Context, text, workingLanguage string) (string, error)

	// TranslateFromWorking converts accumulated answer text from the working
	// language into the target language, preserving formatting (markdown,
	// line breaks, code fences).
	TranslateFromWorking(ctx context.Context, text, targetLanguage string) (string, error)
}

// DetectLanguage returns the ISO 639-1 tag of the given text, or "" when the
// text is too short or ambiguous to classify.
func DetectLanguage(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}
	info := whatlanggo.Detect(text)
	if !info.IsReliable() {
		return ""
	}
	return info.Lang.Iso6391()
}

// NeedsTranslation reports whether input in detectedLanguage requires
// translation relative to the working language. Unknown detections are
// treated as already-working-language input.
func NeedsTranslation(detectedLanguage, workingLanguage string) bool {
	if detectedLanguage == "" {
		return false
	}
	return !strings.EqualFold(detectedLanguage, workingLanguage)
}
