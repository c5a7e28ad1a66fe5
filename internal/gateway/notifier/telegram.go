package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

const (
	defaultTelegramAPI = "https://api.telegram.org"
	telegramAttempts   = 3
)

// Telegram 把消息推送到指定群或频道。
type Telegram struct {
	baseURL  string
	botToken string
	chatID   string
	client   *http.Client
	backoff  time.Duration
}

func NewTelegram(botToken, chatID string) *Telegram {
	return &Telegram{
		baseURL:  defaultTelegramAPI,
		botToken: strings.TrimSpace(botToken),
		chatID:   strings.TrimSpace(chatID),
		client:   &http.Client{Timeout: 15 * time.Second},
		backoff:  time.Second,
	}
}

// WithBaseURL 替换 API 地址，测试用。
func (t *Telegram) WithBaseURL(u string) *Telegram {
	t.baseURL = strings.TrimRight(u, "/")
	t.backoff = 10 * time.Millisecond
	return t
}

// SendText 发送 Markdown 文本，最多尝试 3 次；4xx 视为配置错误不重试。
func (t *Telegram) SendText(ctx context.Context, text string) error {
	if t.botToken == "" || t.chatID == "" {
		return fmt.Errorf("telegram bot token and chat id are required")
	}
	body, err := json.Marshal(map[string]any{
		"chat_id":    t.chatID,
		"text":       text,
		"parse_mode": "Markdown",
	})
	if err != nil {
		return err
	}
	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", t.baseURL, t.botToken)

	var lastErr error
	for attempt := 1; attempt <= telegramAttempts; attempt++ {
		retry, err := t.post(ctx, endpoint, body)
		if err == nil {
			return nil
		}
		lastErr = err
		if !retry || attempt == telegramAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * t.backoff):
		}
	}
	return lastErr
}

func (t *Telegram) post(ctx context.Context, endpoint string, body []byte) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return false, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := t.client.Do(req)
	if err != nil {
		return ctx.Err() == nil, err
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode/100 == 2 && gjson.GetBytes(raw, "ok").Bool() {
		return false, nil
	}
	desc := gjson.GetBytes(raw, "description").String()
	err = fmt.Errorf("telegram status=%d: %s", resp.StatusCode, desc)
	return resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests, err
}
