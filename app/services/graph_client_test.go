package services

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ReZill392/Thesit-sub000/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestGraphClient(t *testing.T, handler http.HandlerFunc) *GraphClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewGraphClient(config.FacebookConfig{GraphAPIURL: srv.URL, AppSecret: "shh"})
}

func TestGraphClient_ListConversations(t *testing.T) {
	client := newTestGraphClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/123/conversations", r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, "participants,updated_time,id,messages.limit(5){created_time,from,message,id,attachments}", q.Get("fields"))
		assert.Equal(t, "20", q.Get("limit"))
		assert.Equal(t, "tok", q.Get("access_token"))
		assert.Equal(t, AppSecretProof("shh", "tok"), q.Get("appsecret_proof"))
		_, _ = io.WriteString(w, `{
			"data":[{"id":"c1","updated_time":"2025-01-15T10:00:00+0000",
				"participants":{"data":[{"id":"123","name":"Page"},{"id":"u1","name":"Ann"}]},
				"messages":{"data":[{"id":"m1","created_time":"2025-01-15T10:00:00+0000","from":{"id":"u1"},"message":"hi"}]}}],
			"paging":{"cursors":{"after":"abc"},"next":"https://next"}}`)
	})

	page, err := client.ListConversations(context.Background(), "123", "tok", 20, 5, "")
	require.NoError(t, err)
	require.Len(t, page.Data, 1)
	assert.Equal(t, "c1", page.Data[0].ID)
	assert.Len(t, page.Data[0].Participants.Data, 2)
	assert.Equal(t, "hi", page.Data[0].Messages.Data[0].Message)
	assert.True(t, page.Paging.HasNext())
	assert.Equal(t, "abc", page.Paging.Cursors.After)
}

func TestGraphClient_WalkConversationMessages(t *testing.T) {
	calls := 0
	client := newTestGraphClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		assert.Equal(t, "/c1/messages", r.URL.Path)
		assert.Equal(t, "created_time,from,message,attachments", r.URL.Query().Get("fields"))
		assert.Equal(t, "50", r.URL.Query().Get("limit"))
		if r.URL.Query().Get("after") == "" {
			_, _ = io.WriteString(w, `{"data":[{"id":"m2"}],"paging":{"cursors":{"after":"p2"},"next":"x"}}`)
			return
		}
		assert.Equal(t, "p2", r.URL.Query().Get("after"))
		_, _ = io.WriteString(w, `{"data":[{"id":"m1"}],"paging":{"cursors":{"after":""}}}`)
	})

	var ids []string
	err := client.WalkConversationMessages(context.Background(), "c1", "tok", func(msgs []Message) bool {
		for _, m := range msgs {
			ids = append(ids, m.ID)
		}
		return true
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"m2", "m1"}, ids)
	assert.Equal(t, 2, calls)
}

func TestGraphClient_WalkStopsEarly(t *testing.T) {
	calls := 0
	client := newTestGraphClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		_, _ = io.WriteString(w, `{"data":[{"id":"m2"}],"paging":{"cursors":{"after":"p2"},"next":"x"}}`)
	})

	err := client.WalkConversationMessages(context.Background(), "c1", "tok", func([]Message) bool { return false })
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestGraphClient_SendText(t *testing.T) {
	client := newTestGraphClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/me/messages", r.URL.Path)
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "MESSAGE_TAG", body["messaging_type"])
		assert.Equal(t, "CONFIRMED_EVENT_UPDATE", body["tag"])
		assert.Equal(t, map[string]any{"id": "u1"}, body["recipient"])
		assert.Equal(t, map[string]any{"text": "hello"}, body["message"])
		_, _ = io.WriteString(w, `{"recipient_id":"u1","message_id":"mid.1"}`)
	})

	res, err := client.SendText(context.Background(), "tok", "u1", "hello")
	require.NoError(t, err)
	assert.Equal(t, "mid.1", res.MessageID)
}

func TestGraphClient_SendAttachment(t *testing.T) {
	client := newTestGraphClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "MESSAGE_TAG", r.FormValue("messaging_type"))
		assert.JSONEq(t, `{"id":"u1"}`, r.FormValue("recipient"))
		assert.JSONEq(t, `{"attachment":{"type":"image","payload":{}}}`, r.FormValue("message"))

		f, hdr, err := r.FormFile("filedata")
		require.NoError(t, err)
		defer f.Close()
		data, _ := io.ReadAll(f)
		assert.Equal(t, "promo.png", hdr.Filename)
		assert.Equal(t, "PNGDATA", string(data))
		_, _ = io.WriteString(w, `{"recipient_id":"u1","message_id":"mid.2","attachment_id":"a1"}`)
	})

	res, err := client.SendAttachment(context.Background(), "tok", "u1", "image", "promo.png", strings.NewReader("PNGDATA"))
	require.NoError(t, err)
	assert.Equal(t, "a1", res.AttachmentID)

	_, err = client.SendAttachment(context.Background(), "tok", "u1", "audio", "a.mp3", strings.NewReader(""))
	assert.Error(t, err)
}

func TestGraphClient_ErrorParsing(t *testing.T) {
	tests := []struct {
		name         string
		status       int
		body         string
		rateLimited  bool
		permanent    bool
		invalidToken bool
		expectedCode int
	}{
		{
			name:         "throttled",
			status:       http.StatusTooManyRequests,
			body:         `{"error":{"message":"slow down","type":"OAuthException","code":613}}`,
			rateLimited:  true,
			expectedCode: 613,
		},
		{
			name:         "expired token",
			status:       http.StatusBadRequest,
			body:         `{"error":{"message":"expired","type":"OAuthException","code":190,"error_subcode":463}}`,
			permanent:    true,
			invalidToken: true,
			expectedCode: 190,
		},
		{
			name:         "server error without body",
			status:       http.StatusBadGateway,
			body:         `oops`,
			expectedCode: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestGraphClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			})

			_, err := client.UserProfile(context.Background(), "u1", "tok")
			require.Error(t, err)

			var gerr *GraphError
			require.ErrorAs(t, err, &gerr)
			assert.Equal(t, tt.status, gerr.StatusCode)
			assert.Equal(t, tt.expectedCode, gerr.Code)
			assert.Equal(t, tt.rateLimited, gerr.IsRateLimited())
			assert.Equal(t, tt.permanent, gerr.IsPermanent())
			assert.Equal(t, tt.invalidToken, gerr.IsInvalidToken())
			assert.Equal(t, tt.rateLimited, IsRateLimited(err))
		})
	}
}

func TestGraphClient_PageRoles(t *testing.T) {
	client := newTestGraphClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/123/roles", r.URL.Path)
		assert.Equal(t, "id,name,role,picture{url}", r.URL.Query().Get("fields"))
		_, _ = io.WriteString(w, `{"data":[{"id":"a1","name":"Admin","role":"ADMIN","picture":{"data":{"url":"https://p"}}}]}`)
	})

	roles, err := client.PageRoles(context.Background(), "123", "tok")
	require.NoError(t, err)
	require.Len(t, roles, 1)
	assert.Equal(t, "ADMIN", roles[0].Role)
	assert.Equal(t, "https://p", roles[0].Picture.Data.URL)
}

func TestAppSecretProof(t *testing.T) {
	// hex(HMAC_SHA256("key", "The quick brown fox jumps over the lazy dog"))
	assert.Equal(t,
		"f7bc83f430538424b13298e6aa6fb143ef4d59a14946175997479dbc2d1a3cd8",
		AppSecretProof("key", "The quick brown fox jumps over the lazy dog"))
}
