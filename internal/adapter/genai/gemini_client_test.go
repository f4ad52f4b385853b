package genai_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/trungvo-ux/windows97/internal/adapter/genai"
)

func newClient(t *testing.T, handler http.HandlerFunc) *genai.GeminiClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return genai.NewGeminiClient(genai.Config{
		APIKey:       "test-key",
		BaseURL:      srv.URL + "/",
		Timeout:      5 * time.Second,
		RPS:          100,
		Burst:        10,
		MaxRetries:   2,
		MinRetryWait: time.Millisecond,
		MaxRetryWait: 5 * time.Millisecond,
		Logger:       zap.NewNop(),
	})
}

func TestGenerateText(t *testing.T) {
	temp := 0.6
	client := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1beta/models/gemini-2.5-flash:generateContent", r.URL.Path)
		require.Equal(t, "test-key", r.Header.Get("x-goog-api-key"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		sys := body["systemInstruction"].(map[string]any)["parts"].([]any)
		require.Len(t, sys, 2)
		contents := body["contents"].([]any)
		require.Len(t, contents, 2)
		cfg := body["generationConfig"].(map[string]any)
		require.InDelta(t, 0.6, cfg["temperature"], 0.0001)
		require.EqualValues(t, 4000, cfg["maxOutputTokens"])

		_, _ = w.Write([]byte(`{"candidates":[{"content":{"role":"model","parts":[{"text":"hello "},{"text":"world"}]}}]}`))
	})

	text, err := client.GenerateText(context.Background(), genai.TextRequest{
		Model:  "gemini-2.5-flash",
		System: []string{"be brief", "<applet_context>calc</applet_context>"},
		Contents: []genai.Content{
			{Role: genai.RoleUser, Parts: []genai.Part{genai.TextPart("hi")}},
			{Role: genai.RoleModel, Parts: []genai.Part{genai.TextPart("hey")}},
		},
		Temperature:     &temp,
		MaxOutputTokens: 4000,
	})
	require.NoError(t, err)
	require.Equal(t, "hello world", text)
}

func TestGenerateTextRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	client := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"ok"}]}}]}`))
	})

	text, err := client.GenerateText(context.Background(), genai.TextRequest{Model: "m"})
	require.NoError(t, err)
	require.Equal(t, "ok", text)
	require.EqualValues(t, 2, calls.Load())
}

func TestGenerateTextAPIError(t *testing.T) {
	client := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"code":400,"message":"bad prompt","status":"INVALID_ARGUMENT"}}`))
	})

	_, err := client.GenerateText(context.Background(), genai.TextRequest{Model: "m"})
	var apiErr *genai.APIError
	require.True(t, errors.As(err, &apiErr))
	require.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	require.Equal(t, "bad prompt", apiErr.Message)
}

func TestGenerateImage(t *testing.T) {
	png := []byte{0x89, 'P', 'N', 'G'}
	client := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		parts := body["contents"].([]any)[0].(map[string]any)["parts"].([]any)
		require.Len(t, parts, 2)
		inline := parts[1].(map[string]any)["inlineData"].(map[string]any)
		require.Equal(t, "image/jpeg", inline["mimeType"])

		resp := map[string]any{"candidates": []any{map[string]any{"content": map[string]any{"parts": []any{
			map[string]any{"text": "A cat."},
			map[string]any{"inlineData": map[string]any{"mimeType": "image/png", "data": base64.StdEncoding.EncodeToString(png)}},
		}}}}}
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	})

	img, err := client.GenerateImage(context.Background(), genai.ImageRequest{
		Model: "gemini-2.5-flash-image-preview",
		Parts: []genai.Part{genai.TextPart("draw a cat"), genai.BlobPart("image/jpeg", []byte{1, 2, 3})},
	})
	require.NoError(t, err)
	require.Equal(t, "image/png", img.MediaType)
	require.Equal(t, png, img.Data)
	require.Equal(t, "A cat.", img.Caption)
}

func TestGenerateImageWithoutImage(t *testing.T) {
	client := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"sorry"}]}}]}`))
	})

	_, err := client.GenerateImage(context.Background(), genai.ImageRequest{Model: "m", Parts: []genai.Part{genai.TextPart("x")}})
	require.ErrorIs(t, err, genai.ErrNoImage)
}
