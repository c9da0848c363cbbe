package platform

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakePlatform 模拟 Bot API 的统一响应包装
func fakePlatform(t *testing.T, handler func(method string, body map[string]any) (int, string)) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// 路径形如 /bot<token>/<method>
		var body map[string]any
		if r.Body != nil {
			_ = json.NewDecoder(r.Body).Decode(&body)
		}
		method := r.URL.Path[len("/bot123:abc/"):]

		status, payload := handler(method, body)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(payload))
	}))
}

func TestSendMessage_Success(t *testing.T) {
	srv := fakePlatform(t, func(method string, body map[string]any) (int, string) {
		require.Equal(t, "sendMessage", method)
		assert.Equal(t, "-1001234", body["chat_id"])
		assert.Equal(t, "HTML", body["parse_mode"])
		return http.StatusOK, `{"ok":true,"result":{"message_id":42}}`
	})
	defer srv.Close()

	client := NewClient(srv.URL, "123:abc", zap.NewNop())
	msg, err := client.SendMessage(context.Background(), "-1001234", "<b>hello</b>")
	require.NoError(t, err)
	assert.Equal(t, int64(42), msg.MessageID)
}

func TestSendMessage_APIError(t *testing.T) {
	srv := fakePlatform(t, func(method string, body map[string]any) (int, string) {
		return http.StatusBadRequest, `{"ok":false,"error_code":400,"description":"Bad Request: chat not found"}`
	})
	defer srv.Close()

	client := NewClient(srv.URL, "123:abc", zap.NewNop())
	_, err := client.SendMessage(context.Background(), "-1", "hello")

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 400, apiErr.Code)
	assert.True(t, apiErr.Terminal())
}

func TestGetUpdates(t *testing.T) {
	srv := fakePlatform(t, func(method string, body map[string]any) (int, string) {
		require.Equal(t, "getUpdates", method)
		assert.Equal(t, float64(7), body["offset"])
		return http.StatusOK, `{"ok":true,"result":[
			{"update_id":7,"message":{"message_id":1,"text":"/start","from":{"id":100},"chat":{"id":100}}},
			{"update_id":8,"callback_query":{"id":"cb1","data":"product:3","from":{"id":100}}}
		]}`
	})
	defer srv.Close()

	client := NewClient(srv.URL, "123:abc", zap.NewNop())
	updates, err := client.GetUpdates(context.Background(), 7, 25)
	require.NoError(t, err)
	require.Len(t, updates, 2)
	assert.Equal(t, "/start", updates[0].Message.Text)
	assert.Equal(t, "product:3", updates[1].CallbackQuery.Data)
}

func TestGetWebhookInfo(t *testing.T) {
	srv := fakePlatform(t, func(method string, body map[string]any) (int, string) {
		require.Equal(t, "getWebhookInfo", method)
		return http.StatusOK, `{"ok":true,"result":{"url":"https://bots.example.com/bot/webhook/1/","pending_update_count":3,"last_error_message":"connection refused"}}`
	})
	defer srv.Close()

	client := NewClient(srv.URL, "123:abc", zap.NewNop())
	info, err := client.GetWebhookInfo(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, info.PendingUpdateCount)
	assert.Equal(t, "connection refused", info.LastErrorMessage)
}

func TestAPIError_Terminal(t *testing.T) {
	tests := []struct {
		name     string
		err      APIError
		terminal bool
	}{
		{"unauthorized", APIError{Code: 401, Description: "Unauthorized"}, true},
		{"not found", APIError{Code: 404, Description: "Not Found"}, true},
		{"chat not found", APIError{Code: 400, Description: "Bad Request: chat not found"}, true},
		{"other 400", APIError{Code: 400, Description: "Bad Request: message is too long"}, false},
		{"rate limited", APIError{Code: 429, Description: "Too Many Requests"}, false},
		{"server error", APIError{Code: 500, Description: "Internal Server Error"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.terminal, tt.err.Terminal())
		})
	}
}

func TestClientCache(t *testing.T) {
	cache := NewClientCache("https://api.example.com", zap.NewNop())

	a := cache.Get("111:aaa")
	b := cache.Get("111:aaa")
	c := cache.Get("222:bbb")

	require.NotNil(t, a)
	assert.Same(t, a, b)
	assert.NotSame(t, a, c)

	// 空凭证不建客户端
	assert.Nil(t, cache.Get(""))

	cache.Clear("111:aaa")
	assert.NotSame(t, a, cache.Get("111:aaa"))
}
