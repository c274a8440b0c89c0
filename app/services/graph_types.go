package services

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// GraphError is the structured error returned by any Graph call
type GraphError struct {
	StatusCode int    `json:"-"`
	Message    string `json:"message"`
	Type       string `json:"type"`
	Code       int    `json:"code"`
	Subcode    int    `json:"error_subcode"`
	TraceID    string `json:"fbtrace_id"`
}

func (e *GraphError) Error() string {
	return fmt.Sprintf("graph api error (status %d, code %d, subcode %d): %s", e.StatusCode, e.Code, e.Subcode, e.Message)
}

// IsRateLimited reports an HTTP 429 or one of Graph's throttling codes
func (e *GraphError) IsRateLimited() bool {
	switch e.Code {
	case 4, 17, 32, 613:
		return true
	}
	return e.StatusCode == http.StatusTooManyRequests
}

// IsTransient reports errors worth retrying in a later cycle
func (e *GraphError) IsTransient() bool {
	return e.IsRateLimited() || e.StatusCode >= 500 || e.StatusCode == 0
}

// IsPermanent reports errors that will not succeed without operator action
func (e *GraphError) IsPermanent() bool {
	return !e.IsTransient()
}

// IsInvalidToken reports an expired or revoked access token
func (e *GraphError) IsInvalidToken() bool {
	return e.Code == 190 || (e.Type == "OAuthException" && e.StatusCode == http.StatusUnauthorized)
}

// Paging is the cursor block of a Graph list response
type Paging struct {
	Cursors struct {
		Before string `json:"before"`
		After  string `json:"after"`
	} `json:"cursors"`
	Next string `json:"next"`
}

// HasNext reports whether another page can be requested
func (p *Paging) HasNext() bool {
	return p != nil && p.Next != "" && p.Cursors.After != ""
}

// Participant is a conversation participant or message author
type Participant struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
}

// Attachment is one entry of a message's attachments list
type Attachment struct {
	ID        string `json:"id"`
	MimeType  string `json:"mime_type"`
	Name      string `json:"name"`
	FileURL   string `json:"file_url"`
	ImageData *struct {
		URL        string `json:"url"`
		PreviewURL string `json:"preview_url"`
	} `json:"image_data,omitempty"`
	Payload *struct {
		URL string `json:"url"`
	} `json:"payload,omitempty"`
}

// URL returns the best download URL of the attachment
func (a Attachment) URL() string {
	switch {
	case a.ImageData != nil && a.ImageData.URL != "":
		return a.ImageData.URL
	case a.Payload != nil && a.Payload.URL != "":
		return a.Payload.URL
	default:
		return a.FileURL
	}
}

// Message is a Graph message as returned inside conversations
type Message struct {
	ID          string          `json:"id"`
	CreatedTime string          `json:"created_time"`
	From        Participant     `json:"from"`
	Message     string          `json:"message"`
	Attachments json.RawMessage `json:"attachments,omitempty"`
}

// AttachmentList decodes the attachments block
func (m Message) AttachmentList() []Attachment {
	if len(m.Attachments) == 0 {
		return nil
	}
	var wrapper struct {
		Data []Attachment `json:"data"`
	}
	if err := json.Unmarshal(m.Attachments, &wrapper); err != nil {
		return nil
	}
	return wrapper.Data
}

// ImageURL returns the first attachment URL that points at a png or jpeg
func (m Message) ImageURL() string {
	for _, a := range m.AttachmentList() {
		u := a.URL()
		if IsImageURL(u) || strings.HasPrefix(a.MimeType, "image/png") || strings.HasPrefix(a.MimeType, "image/jpeg") {
			return u
		}
	}
	return ""
}

// Conversation is a Graph conversation with an inline message slice
type Conversation struct {
	ID           string `json:"id"`
	UpdatedTime  string `json:"updated_time"`
	Participants struct {
		Data []Participant `json:"data"`
	} `json:"participants"`
	Messages struct {
		Data   []Message `json:"data"`
		Paging *Paging   `json:"paging,omitempty"`
	} `json:"messages"`
}

// ConversationPage is one page of GET {page}/conversations
type ConversationPage struct {
	Data   []Conversation `json:"data"`
	Paging *Paging        `json:"paging,omitempty"`
}

// MessagePage is one page of GET {conversation}/messages
type MessagePage struct {
	Data   []Message `json:"data"`
	Paging *Paging   `json:"paging,omitempty"`
}

// Profile is the subset of the user node the backend reads
type Profile struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	FirstName  string `json:"first_name"`
	LastName   string `json:"last_name"`
	ProfilePic string `json:"profile_pic"`
}

// DisplayName returns the best available name
func (p *Profile) DisplayName() string {
	if p == nil {
		return ""
	}
	if p.Name != "" {
		return p.Name
	}
	return strings.TrimSpace(p.FirstName + " " + p.LastName)
}

// PageRole is one entry of GET {page}/roles
type PageRole struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Role    string `json:"role"`
	Picture struct {
		Data struct {
			URL string `json:"url"`
		} `json:"data"`
	} `json:"picture"`
}

// SendResult is the response of POST me/messages
type SendResult struct {
	RecipientID  string `json:"recipient_id"`
	MessageID    string `json:"message_id"`
	AttachmentID string `json:"attachment_id,omitempty"`
}

// IsImageURL reports whether the URL path ends in .png, .jpg or .jpeg
func IsImageURL(u string) bool {
	if i := strings.IndexAny(u, "?#"); i >= 0 {
		u = u[:i]
	}
	u = strings.ToLower(u)
	return strings.HasSuffix(u, ".png") || strings.HasSuffix(u, ".jpg") || strings.HasSuffix(u, ".jpeg")
}
