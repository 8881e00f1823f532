package openai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/kirillkom/scanwatcher/internal/core/domain"
)

func testPages() []domain.ExtractedPage {
	return []domain.ExtractedPage{
		{Index: 0, PageNumber: 1, Data: []byte("jpeg-bytes-1")},
		{Index: 1, PageNumber: 2, Data: []byte("jpeg-bytes-2")},
	}
}

func chatContent(t *testing.T, content string) []byte {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"choices": []map[string]any{
			{"message": map[string]any{"role": "assistant", "content": content}},
		},
	})
	if err != nil {
		t.Fatalf("marshal response: %v", err)
	}
	return body
}

func TestClassifySuccess(t *testing.T) {
	var gotPath, gotAuth string
	var gotRequest chatRequest

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotRequest); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(chatContent(t, `{"document_type":"Medical Report","confidence":0.93,`+
			`"identifiers":{"plaintiff_name":"Anna Free","case_number":"PZC50004284"}}`))
	}))
	defer server.Close()

	client := New(Config{BaseURL: server.URL, APIKey: "test-key", Model: "gpt-4o"}, nil)

	cls, err := client.Classify(context.Background(), testPages())
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}

	if gotPath != "/v1/chat/completions" {
		t.Errorf("path = %q", gotPath)
	}
	if gotAuth != "Bearer test-key" {
		t.Errorf("authorization = %q", gotAuth)
	}
	if len(gotRequest.Messages) != 2 || gotRequest.Messages[0].Role != "system" {
		t.Fatalf("unexpected messages: %+v", gotRequest.Messages)
	}

	if cls.Category.Kind != domain.CategoryStandard || cls.Category.Name != "Medical Report" {
		t.Errorf("category = %+v", cls.Category)
	}
	if cls.Confidence != 0.93 {
		t.Errorf("confidence = %v", cls.Confidence)
	}
	want := []domain.Identifier{
		{Key: "plaintiff_name", Value: "Anna Free"},
		{Key: "case_number", Value: "PZC50004284"},
	}
	if len(cls.Identifiers) != len(want) {
		t.Fatalf("identifiers = %+v", cls.Identifiers)
	}
	for i, id := range want {
		if cls.Identifiers[i] != id {
			t.Errorf("identifier[%d] = %+v, want %+v", i, cls.Identifiers[i], id)
		}
	}
}

func TestClassifySendsImagesAsDataURIs(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var raw struct {
			Messages []struct {
				Role    string          `json:"role"`
				Content json.RawMessage `json:"content"`
			} `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
			t.Errorf("decode request: %v", err)
		}
		var parts []contentPart
		if err := json.Unmarshal(raw.Messages[1].Content, &parts); err != nil {
			t.Errorf("decode user content: %v", err)
		}
		images := 0
		for _, part := range parts {
			if part.Type == "image_url" {
				images++
				if part.ImageURL == nil || len(part.ImageURL.URL) < len("data:image/jpeg;base64,") {
					t.Errorf("malformed image part: %+v", part)
				} else if part.ImageURL.URL[:23] != "data:image/jpeg;base64," {
					t.Errorf("image url prefix = %q", part.ImageURL.URL[:23])
				}
			}
		}
		if images != 2 {
			t.Errorf("image parts = %d, want 2", images)
		}
		w.Write(chatContent(t, `{"document_type":"Subpoena","confidence":0.8,"identifiers":{}}`))
	}))
	defer server.Close()

	client := New(Config{BaseURL: server.URL, APIKey: "k"}, nil)
	if _, err := client.Classify(context.Background(), testPages()); err != nil {
		t.Fatalf("Classify: %v", err)
	}
}

func TestClassifyFencedResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(chatContent(t, "```json\n{\"document_type\":\"UR Denial\",\"confidence\":0.7,\"identifiers\":{}}\n```"))
	}))
	defer server.Close()

	client := New(Config{BaseURL: server.URL, APIKey: "k"}, nil)
	cls, err := client.Classify(context.Background(), testPages())
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if cls.Category.Kind != domain.CategorySpecific || cls.Category.Name != "UR Denial" {
		t.Errorf("category = %+v", cls.Category)
	}
}

func TestClassifyRateLimited(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := New(Config{BaseURL: server.URL, APIKey: "k"}, nil)
	_, err := client.Classify(context.Background(), testPages())
	if err == nil {
		t.Fatal("expected error")
	}
	if !domain.IsKind(err, domain.ErrTransient) {
		t.Errorf("error not transient: %v", err)
	}

	var hinter interface{ RetryAfterHint() time.Duration }
	if !errors.As(err, &hinter) {
		t.Fatalf("error carries no retry-after hint: %v", err)
	}
	if hinter.RetryAfterHint() != 7*time.Second {
		t.Errorf("retry-after = %v, want 7s", hinter.RetryAfterHint())
	}
}

func TestClassifyUnauthorized(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	client := New(Config{BaseURL: server.URL, APIKey: "bad"}, nil)
	_, err := client.Classify(context.Background(), testPages())
	if !domain.IsKind(err, domain.ErrPermanent) {
		t.Errorf("error not permanent: %v", err)
	}
}

func TestClassifyServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client := New(Config{BaseURL: server.URL, APIKey: "k"}, nil)
	_, err := client.Classify(context.Background(), testPages())
	if !domain.IsKind(err, domain.ErrTransient) {
		t.Errorf("error not transient: %v", err)
	}
}

func TestClassifyUnparseableContent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(chatContent(t, "The document appears to be a medical report."))
	}))
	defer server.Close()

	client := New(Config{BaseURL: server.URL, APIKey: "k"}, nil)
	_, err := client.Classify(context.Background(), testPages())
	if !domain.IsKind(err, domain.ErrPermanent) {
		t.Errorf("error not permanent: %v", err)
	}
}

func TestClassifyNoPages(t *testing.T) {
	called := false
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer server.Close()

	client := New(Config{BaseURL: server.URL, APIKey: "k"}, nil)
	_, err := client.Classify(context.Background(), nil)
	if !domain.IsKind(err, domain.ErrPermanent) {
		t.Errorf("error not permanent: %v", err)
	}
	if called {
		t.Error("request was sent for empty page set")
	}
}

func TestParseClassificationForms(t *testing.T) {
	cases := []struct {
		name     string
		docType  string
		wantKind domain.CategoryKind
		wantText string
	}{
		{"standard", "Court Order", domain.CategoryStandard, "Court Order"},
		{"specific", "Panel List", domain.CategorySpecific, "Panel List"},
		{"unclassified", "OTHER_Handwritten Note", domain.CategoryUnclassified, "OTHER_Handwritten Note"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			content := `{"document_type":"` + tc.docType + `","confidence":1.4,"identifiers":null}`
			var response chatResponse
			if err := json.Unmarshal(chatContent(t, content), &response); err != nil {
				t.Fatalf("build response: %v", err)
			}

			cls, err := parseClassification(response)
			if err != nil {
				t.Fatalf("parseClassification: %v", err)
			}
			if cls.Category.Kind != tc.wantKind {
				t.Errorf("kind = %v, want %v", cls.Category.Kind, tc.wantKind)
			}
			if cls.Category.Label() != tc.wantText {
				t.Errorf("label = %q, want %q", cls.Category.Label(), tc.wantText)
			}
			if cls.Confidence != 1 {
				t.Errorf("confidence not clamped: %v", cls.Confidence)
			}
		})
	}
}

func TestParseClassificationRejectsEmptyType(t *testing.T) {
	var response chatResponse
	if err := json.Unmarshal(chatContent(t, `{"document_type":"  ","confidence":0.5}`), &response); err != nil {
		t.Fatalf("build response: %v", err)
	}

	if _, err := parseClassification(response); err == nil {
		t.Fatal("expected error for empty document_type")
	}
}

func TestExtractJSONObject(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"bare", `{"a":1}`, `{"a":1}`},
		{"prose around", `Sure: {"a":{"b":2}} hope that helps`, `{"a":{"b":2}}`},
		{"fenced", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"brace in string", `{"a":"}{"}`, `{"a":"}{"}`},
		{"none", "no json here", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := extractJSONObject(tc.in); got != tc.want {
				t.Errorf("extractJSONObject(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestParseRetryAfter(t *testing.T) {
	if got := parseRetryAfter("12"); got != 12*time.Second {
		t.Errorf("seconds form = %v", got)
	}
	if got := parseRetryAfter(""); got != 0 {
		t.Errorf("empty = %v", got)
	}
	future := time.Now().Add(30 * time.Second).UTC().Format(http.TimeFormat)
	if got := parseRetryAfter(future); got <= 0 || got > 31*time.Second {
		t.Errorf("http-date form = %v", got)
	}
}
