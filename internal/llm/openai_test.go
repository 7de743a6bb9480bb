package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	conerrors "github.com/jepras/ConstructionRAG-sub001/internal/errors"
)

func chatResponse(content string) string {
	msg := map[string]any{
		"id":      "cmpl-test",
		"object":  "chat.completion",
		"created": 1,
		"model":   "test-model",
		"choices": []map[string]any{
			{
				"index":         0,
				"message":       map[string]any{"role": "assistant", "content": content},
				"finish_reason": "stop",
			},
		},
	}
	b, _ := json.Marshal(msg)
	return string(b)
}

func newTestLLM(t *testing.T, handler http.HandlerFunc) *OpenAIClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := NewOpenAIClient(Config{
		APIKey:  "test-key",
		BaseURL: srv.URL,
		Model:   "google/gemini-2.0-flash-001",
		Timeout: 5 * time.Second,
	}, nil)
	require.NoError(t, err)
	return client
}

func TestChatReturnsCompletion(t *testing.T) {
	var gotBody map[string]any
	client := newTestLLM(t, func(w http.ResponseWriter, r *http.Request) {
		require.True(t, strings.HasSuffix(r.URL.Path, "/chat/completions"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(chatResponse("Betonfundamentet støbes i C30/37.")))
	})

	out, err := client.Chat(context.Background(), "Hvilken betonklasse bruges til fundamentet?", ChatOptions{})
	require.NoError(t, err)
	assert.Equal(t, "Betonfundamentet støbes i C30/37.", out)
	assert.Equal(t, "google/gemini-2.0-flash-001", gotBody["model"])
}

func TestChatOptionsOverrideDefaults(t *testing.T) {
	var gotBody map[string]any
	client := newTestLLM(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.Write([]byte(chatResponse(`{"title": "Oversigt"}`)))
	})

	_, err := client.Chat(context.Background(), "Generate structure", ChatOptions{
		Model:          "other-model",
		MaxTokens:      512,
		ResponseFormat: "json_object",
	})
	require.NoError(t, err)

	assert.Equal(t, "other-model", gotBody["model"])
	assert.Equal(t, float64(512), gotBody["max_tokens"])
	format, ok := gotBody["response_format"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "json_object", format["type"])
}

func TestChatEmptyPromptRejected(t *testing.T) {
	client := newTestLLM(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request expected")
	})
	_, err := client.Chat(context.Background(), "   ", ChatOptions{})
	require.Error(t, err)
	assert.Equal(t, conerrors.KindInvalidInput, conerrors.GetKind(err))
}

func TestChatNoChoicesIsMalformed(t *testing.T) {
	client := newTestLLM(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id":"x","object":"chat.completion","choices":[]}`))
	})
	_, err := client.Chat(context.Background(), "prompt", ChatOptions{})
	require.Error(t, err)
	assert.Equal(t, conerrors.KindMalformedResponse, conerrors.GetKind(err))
}

func TestChatRateLimitedKind(t *testing.T) {
	client := newTestLLM(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"message":"rate limit","type":"requests"}}`))
	})
	_, err := client.Chat(context.Background(), "prompt", ChatOptions{})
	require.Error(t, err)
	assert.Equal(t, conerrors.KindRateLimited, conerrors.GetKind(err))
}

func TestChatRetriesServerError(t *testing.T) {
	var calls atomic.Int32
	client := newTestLLM(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			w.Write([]byte(`{"error":{"message":"upstream flaked"}}`))
			return
		}
		w.Write([]byte(chatResponse("ok")))
	})

	out, err := client.Chat(context.Background(), "prompt", ChatOptions{})
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.Equal(t, int32(2), calls.Load())
}

func TestCaptionImageSendsDataURL(t *testing.T) {
	var gotBody map[string]any
	client := newTestLLM(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.Write([]byte(chatResponse("Tabel med armeringsspecifikationer: Y12 pr. 150 mm i begge retninger.")))
	})

	caption, err := client.CaptionImage(context.Background(),
		[]byte{0x89, 0x50, 0x4E, 0x47}, "Transcribe this table completely.",
		CaptionOptions{Language: "danish"})
	require.NoError(t, err)

	assert.Contains(t, caption.Text, "armeringsspecifikationer")
	assert.Equal(t, 10, caption.WordCount)
	assert.Greater(t, caption.Duration, time.Duration(0))

	messages := gotBody["messages"].([]any)
	content := messages[0].(map[string]any)["content"].([]any)
	require.Len(t, content, 2)
	imagePart := content[1].(map[string]any)
	imageURL := imagePart["image_url"].(map[string]any)
	assert.True(t, strings.HasPrefix(imageURL["url"].(string), "data:image/png;base64,"))
}

func TestCaptionHTMLInlinesMarkup(t *testing.T) {
	var gotBody map[string]any
	client := newTestLLM(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.Write([]byte(chatResponse("Tabellen viser betonklasser.")))
	})

	_, err := client.CaptionHTML(context.Background(),
		"<table><tr><td>C30/37</td></tr></table>", "Describe this table.",
		CaptionOptions{})
	require.NoError(t, err)

	messages := gotBody["messages"].([]any)
	content := messages[0].(map[string]any)["content"].(string)
	assert.Contains(t, content, "Describe this table.")
	assert.Contains(t, content, "C30/37")
}

func TestCaptionEmptyInputsRejected(t *testing.T) {
	client := newTestLLM(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request expected")
	})

	_, err := client.CaptionImage(context.Background(), nil, "prompt", CaptionOptions{})
	require.Error(t, err)
	assert.Equal(t, conerrors.KindInvalidInput, conerrors.GetKind(err))

	_, err = client.CaptionHTML(context.Background(), " ", "prompt", CaptionOptions{})
	require.Error(t, err)
	assert.Equal(t, conerrors.KindInvalidInput, conerrors.GetKind(err))
}

func TestNewClientsRequiresKey(t *testing.T) {
	_, err := NewClients(Config{}, nil)
	require.Error(t, err)
	assert.Equal(t, conerrors.KindConfigError, conerrors.GetKind(err))
}
