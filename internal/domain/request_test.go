package domain_test

import (
	"encoding/base64"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/trungvo-ux/windows97/internal/domain"
)

func TestAppletAIRequestValidate(t *testing.T) {
	png := domain.Attachment{MediaType: "image/png", Data: base64.StdEncoding.EncodeToString([]byte("png"))}

	cases := []struct {
		name  string
		req   domain.AppletAIRequest
		paths []string
	}{
		{name: "prompt only", req: domain.AppletAIRequest{Prompt: strPtr("hello")}},
		{name: "image mode with images", req: domain.AppletAIRequest{Mode: domain.ModeImage, Images: []domain.Attachment{png}}},
		{name: "empty body", req: domain.AppletAIRequest{}, paths: []string{"prompt"}},
		{name: "blank prompt", req: domain.AppletAIRequest{Prompt: strPtr("   ")}, paths: []string{"prompt"}},
		{
			name:  "images outside image mode",
			req:   domain.AppletAIRequest{Prompt: strPtr("x"), Images: []domain.Attachment{png}},
			paths: []string{"images"},
		},
		{
			name:  "image mode without instructions",
			req:   domain.AppletAIRequest{Mode: domain.ModeImage, Messages: []domain.Message{{Role: "user", Content: "hi"}}},
			paths: []string{"images"},
		},
		{
			name: "assistant attachment",
			req: domain.AppletAIRequest{Messages: []domain.Message{
				{Role: "assistant", Content: "look", Attachments: []domain.Attachment{png}},
			}},
			paths: []string{"messages[0].attachments"},
		},
		{
			name:  "empty message",
			req:   domain.AppletAIRequest{Messages: []domain.Message{{Role: "user"}}},
			paths: []string{"messages[0].content"},
		},
		{
			name: "non image media type",
			req: domain.AppletAIRequest{Messages: []domain.Message{
				{Role: "user", Attachments: []domain.Attachment{{MediaType: "text/plain", Data: "aGk="}}},
			}},
			paths: []string{"messages[0].attachments[0].mediaType"},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.req.Validate()
			if len(tc.paths) == 0 {
				require.NoError(t, err)
				return
			}
			var verrs domain.ValidationErrors
			require.True(t, errors.As(err, &verrs))
			got := make([]string, 0, len(verrs))
			for _, v := range verrs {
				got = append(got, v.Path)
			}
			require.Equal(t, tc.paths, got)
		})
	}
}

func TestAppletAIRequestEffectiveMode(t *testing.T) {
	require.Equal(t, domain.ModeText, (&domain.AppletAIRequest{}).EffectiveMode())
	require.Equal(t, domain.ModeImage, (&domain.AppletAIRequest{Mode: "image"}).EffectiveMode())
}

func TestAttachmentDecode(t *testing.T) {
	payload := []byte{0x89, 'P', 'N', 'G'}
	encoded := base64.StdEncoding.EncodeToString(payload)

	raw, err := domain.Attachment{MediaType: "image/png", Data: "data:image/png;base64," + encoded}.Decode()
	require.NoError(t, err)
	require.Equal(t, payload, raw)

	raw, err = domain.Attachment{MediaType: "image/png", Data: encoded[:2] + "\n " + encoded[2:]}.Decode()
	require.NoError(t, err)
	require.Equal(t, payload, raw)

	_, err = domain.Attachment{MediaType: "image/png", Data: "data:image/png;base64,"}.Decode()
	require.ErrorIs(t, err, domain.ErrInvalidAttachment)

	_, err = domain.Attachment{MediaType: "image/png", Data: "!!not-base64!!"}.Decode()
	require.ErrorIs(t, err, domain.ErrInvalidAttachment)
}

func TestChatRequestUserMessageCount(t *testing.T) {
	req := domain.ChatRequest{Messages: []domain.ChatMessage{
		{Role: "system", Content: "be nice"},
		{Role: "user", Content: "hi"},
		{Role: "assistant", Content: "hello"},
		{Role: "user", Content: "again"},
	}}
	require.Equal(t, 2, req.UserMessageCount())
	require.NoError(t, req.Validate())

	req.Messages = append(req.Messages, domain.ChatMessage{Role: "user"})
	require.Error(t, req.Validate())
}

func strPtr(s string) *string { return &s }

func TestAppletAIRequestTextAccessors(t *testing.T) {
	var absent domain.AppletAIRequest
	require.Empty(t, absent.PromptText())
	require.Empty(t, absent.ContextText())

	req := domain.AppletAIRequest{Prompt: strPtr("  draw  "), Context: strPtr(" paint ")}
	require.Equal(t, "draw", req.PromptText())
	require.Equal(t, "paint", req.ContextText())
}
