package translate

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

const defaultGeminiModel = "gemini-2.0-flash"

// GeminiTranslator implements Translator on top of the Gemini API.
type GeminiTranslator struct {
	client *genai.Client
	model  string
}

// NewGeminiTranslator builds a translator using the given API key. An empty
// model selects the default flash model.
func NewGeminiTranslator(ctx context.Context, apiKey, model string) (*GeminiTranslator, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("gemini api key must not be empty")
	}
	if model == "" {
		model = defaultGeminiModel
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &GeminiTranslator{client: client, model: model}, nil
}

func (t *GeminiTranslator) TranslateToWorking(ctx context.Context, text, workingLanguage string) (string, error) {
	prompt := fmt.Sprintf(
		"Translate the following text into %s. Reply with the translation only, no commentary.\n\n%s",
		languageName(workingLanguage), text)
	return t.generate(ctx, prompt)
}

func (t *GeminiTranslator) TranslateFromWorking(ctx context.Context, text, targetLanguage string) (string, error) {
	prompt := fmt.Sprintf(
		"Translate the following text into %s. Preserve all formatting exactly: markdown, line breaks, lists and code fences. Reply with the translation only.\n\n%s",
		languageName(targetLanguage), text)
	return t.generate(ctx, prompt)
}

func (t *GeminiTranslator) generate(ctx context.Context, prompt string) (string, error) {
	resp, err := t.client.Models.GenerateContent(ctx, t.model, genai.Text(prompt), nil)
	if err != nil {
		return "", fmt.Errorf("gemini generate: %w", err)
	}
	out := strings.TrimSpace(resp.Text())
	if out == "" {
		return "", fmt.Errorf("gemini returned empty translation")
	}
	return out, nil
}

// languageName expands common ISO 639-1 tags so the prompt reads naturally;
// unknown tags are passed through as-is.
func languageName(tag string) string {
	switch strings.ToLower(tag) {
	case "en":
		return "English"
	case "de":
		return "German"
	case "fr":
		return "French"
	case "es":
		return "Spanish"
	case "it":
		return "Italian"
	case "pt":
		return "Portuguese"
	case "nl":
		return "Dutch"
	case "pl":
		return "Polish"
	case "tr":
		return "Turkish"
	case "ru":
		return "Russian"
	case "ja":
		return "Japanese"
	case "ko":
		return "Korean"
	case "zh":
		return "Chinese"
	case "ar":
		return "Arabic"
	default:
		return tag
	}
}
