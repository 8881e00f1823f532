package openai

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/kirillkom/scanwatcher/internal/core/domain"
)

// parseClassification turns a chat completion into a Classification. The
// model is asked for bare JSON but will occasionally wrap it in markdown
// fences or prose, so the object is located before decoding.
func parseClassification(response chatResponse) (domain.Classification, error) {
	if len(response.Choices) == 0 {
		return domain.Classification{}, errors.New("response contains no choices")
	}

	payload := extractJSONObject(response.Choices[0].Message.Content)
	if payload == "" {
		return domain.Classification{}, errors.New("response contains no JSON object")
	}

	var envelope struct {
		DocumentType string          `json:"document_type"`
		Confidence   float64         `json:"confidence"`
		Identifiers  json.RawMessage `json:"identifiers"`
	}
	if err := json.Unmarshal([]byte(payload), &envelope); err != nil {
		return domain.Classification{}, fmt.Errorf("decode classification payload: %w", err)
	}

	docType := strings.TrimSpace(envelope.DocumentType)
	if docType == "" {
		return domain.Classification{}, errors.New("document_type is empty")
	}

	identifiers, err := decodeOrderedIdentifiers(envelope.Identifiers)
	if err != nil {
		return domain.Classification{}, fmt.Errorf("decode identifiers: %w", err)
	}

	confidence := envelope.Confidence
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}

	return domain.Classification{
		Category:    domain.ParseCategory(docType),
		Confidence:  confidence,
		Identifiers: identifiers,
		Raw:         json.RawMessage(payload),
	}, nil
}

// decodeOrderedIdentifiers walks the identifiers object token by token so key
// order survives decoding. Filename construction depends on that order when
// no priority key matches.
func decodeOrderedIdentifiers(raw json.RawMessage) ([]domain.Identifier, error) {
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, errors.New("identifiers is not an object")
	}

	var out []domain.Identifier
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := keyTok.(string)
		if !ok {
			return nil, errors.New("identifier key is not a string")
		}

		var value any
		if err := dec.Decode(&value); err != nil {
			return nil, err
		}

		text := identifierText(value)
		if text == "" {
			continue
		}
		out = append(out, domain.Identifier{Key: key, Value: text})
	}
	return out, nil
}

func identifierText(value any) string {
	switch v := value.(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%f", v), "0"), ".")
	case bool:
		return fmt.Sprintf("%t", v)
	default:
		return ""
	}
}

// extractJSONObject returns the first balanced top-level JSON object in text,
// tolerating markdown code fences and surrounding commentary.
func extractJSONObject(text string) string {
	text = strings.TrimSpace(text)
	if fenced := stripCodeFence(text); fenced != "" {
		text = fenced
	}

	start := strings.IndexByte(text, '{')
	if start < 0 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		ch := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1]
			}
		}
	}
	return ""
}

func stripCodeFence(text string) string {
	if !strings.HasPrefix(text, "```") {
		return ""
	}
	body := strings.TrimPrefix(text, "```")
	if idx := strings.IndexByte(body, '\n'); idx >= 0 {
		body = body[idx+1:]
	}
	if idx := strings.LastIndex(body, "```"); idx >= 0 {
		body = body[:idx]
	}
	return strings.TrimSpace(body)
}
