package domain

import (
	"encoding/base64"
	"fmt"
	"regexp"
	"strings"
)

const (
	ModeText  = "text"
	ModeImage = "image"

	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

var imageMediaType = regexp.MustCompile(`(?i)^image/[a-z0-9.+-]+$`)

// Attachment is a base64 encoded image sent alongside a message or prompt.
type Attachment struct {
	MediaType string `json:"mediaType" binding:"required"`
	Data      string `json:"data" binding:"required,max=8388608"`
}

// Decode returns the raw attachment bytes. A data URL prefix is tolerated.
func (a Attachment) Decode() ([]byte, error) {
	trimmed := strings.TrimSpace(a.Data)
	if idx := strings.Index(trimmed, ","); idx >= 0 {
		trimmed = trimmed[idx+1:]
	}
	sanitized := strings.Join(strings.Fields(trimmed), "")
	if sanitized == "" {
		return nil, fmt.Errorf("%w: attachment data is empty", ErrInvalidAttachment)
	}
	raw, err := base64.StdEncoding.DecodeString(sanitized)
	if err != nil {
		raw, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(sanitized, "="))
	}
	if err != nil {
		return nil, fmt.Errorf("%w: unable to decode base64 payload (length: %d)", ErrInvalidAttachment, len(sanitized))
	}
	return raw, nil
}

// Message is a single role tagged conversation turn.
type Message struct {
	Role        string       `json:"role" binding:"required,oneof=user assistant system"`
	Content     string       `json:"content" binding:"max=4000"`
	Attachments []Attachment `json:"attachments" binding:"omitempty,max=4,dive"`
}

// AppletAIRequest is the body accepted by the applet AI endpoint.
type AppletAIRequest struct {
	Prompt      *string      `json:"prompt" binding:"omitempty,min=1,max=4000"`
	Messages    []Message    `json:"messages" binding:"omitempty,max=12,dive"`
	Context     *string      `json:"context" binding:"omitempty,min=1,max=2000"`
	Temperature *float64     `json:"temperature" binding:"omitempty,gte=0,lte=1"`
	Mode        string       `json:"mode" binding:"omitempty,oneof=text image"`
	Images      []Attachment `json:"images" binding:"omitempty,max=4,dive"`
}

// PromptText returns the trimmed prompt, empty when absent.
func (r *AppletAIRequest) PromptText() string {
	if r.Prompt == nil {
		return ""
	}
	return strings.TrimSpace(*r.Prompt)
}

// ContextText returns the trimmed applet context, empty when absent.
func (r *AppletAIRequest) ContextText() string {
	if r.Context == nil {
		return ""
	}
	return strings.TrimSpace(*r.Context)
}

// EffectiveMode returns the requested mode, defaulting to text.
func (r *AppletAIRequest) EffectiveMode() string {
	if r.Mode == ModeImage {
		return ModeImage
	}
	return ModeText
}

// AttachmentCount returns the number of attachments across all messages.
func (r *AppletAIRequest) AttachmentCount() int {
	n := 0
	for _, m := range r.Messages {
		n += len(m.Attachments)
	}
	return n
}

// Validate applies the cross-field rules that struct tags cannot express.
func (r *AppletAIRequest) Validate() error {
	var errs ValidationErrors

	hasPrompt := r.PromptText() != ""
	if r.Messages != nil && len(r.Messages) == 0 {
		errs.Add("messages", "Messages must contain at least one entry.")
	}
	if !hasPrompt && len(r.Messages) == 0 && !(r.Mode == ModeImage && len(r.Images) > 0) {
		errs.Add("prompt", "Provide a prompt, non-empty messages array, or image attachments.")
	}
	if len(r.Images) > 0 && r.Mode != ModeImage {
		errs.Add("images", `Images can only be provided when mode is set to "image".`)
	}
	if r.Mode == ModeImage && !hasPrompt && len(r.Images) == 0 {
		errs.Add("images", "Image requests require text instructions and/or image attachments.")
	}
	for i, img := range r.Images {
		checkMediaType(&errs, fmt.Sprintf("images[%d].mediaType", i), img.MediaType)
	}
	for i, m := range r.Messages {
		path := fmt.Sprintf("messages[%d]", i)
		if strings.TrimSpace(m.Content) == "" && len(m.Attachments) == 0 {
			errs.Add(path+".content", "Messages must include text content or at least one attachment.")
		}
		if len(m.Attachments) > 0 && m.Role != RoleUser {
			errs.Add(path+".attachments", "Only user messages can include attachments.")
		}
		for j, a := range m.Attachments {
			checkMediaType(&errs, fmt.Sprintf("%s.attachments[%d].mediaType", path, j), a.MediaType)
		}
	}
	return errs.Err()
}

func checkMediaType(errs *ValidationErrors, path, mediaType string) {
	if !imageMediaType.MatchString(mediaType) {
		errs.Add(path, "Attachment mediaType must be an image/* MIME type.")
	}
}

// ChatMessage is a conversation turn sent to the chat endpoint.
type ChatMessage struct {
	Role    string `json:"role" binding:"required,oneof=user assistant system"`
	Content string `json:"content" binding:"max=20000"`
}

// ChatRequest is the body accepted by the chat endpoint.
type ChatRequest struct {
	Messages []ChatMessage `json:"messages" binding:"required,min=1,max=100,dive"`
	Model    string        `json:"model"`
}

// Validate applies the cross-field rules that struct tags cannot express.
func (r *ChatRequest) Validate() error {
	var errs ValidationErrors
	for i, m := range r.Messages {
		if m.Role == RoleUser && strings.TrimSpace(m.Content) == "" {
			errs.Add(fmt.Sprintf("messages[%d].content", i), "User messages must include text content.")
		}
	}
	return errs.Err()
}

// UserMessageCount returns the number of user-authored turns. Only these
// count toward the chat quota.
func (r *ChatRequest) UserMessageCount() int {
	n := 0
	for _, m := range r.Messages {
		if m.Role == RoleUser {
			n++
		}
	}
	return n
}
