// Package transport содержит клиент шлюза чата: отправку сообщений
// пользователям и типы входящих событий.
package transport

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ErrDeliveryFailed возвращается, если шлюз отказался доставить сообщение,
// например когда получатель заблокировал бота.
var ErrDeliveryFailed = errors.New("delivery failed")

// Event — входящее событие от шлюза чата. Заполнено либо Text, либо PhotoRef,
// либо VideoRef.
type Event struct {
	UpdateID    int64  `json:"update_id"`
	Identity    int64  `json:"identity"`
	Username    string `json:"username,omitempty"`
	Text        string `json:"text,omitempty"`
	PhotoRef    string `json:"photo_ref,omitempty"`
	VideoRef    string `json:"video_ref,omitempty"`
	Caption     string `json:"caption,omitempty"`
	ReplyToText string `json:"reply_to_text,omitempty"`
}

// Keyboard — клавиатура ответного меню: строки кнопок с текстовыми подписями.
type Keyboard [][]string

// Client инкапсулирует HTTP-взаимодействие со шлюзом чата.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewClient создаёт клиент шлюза чата по указанному адресу и токену.
func NewClient(baseURL, token string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

func (c *Client) post(ctx context.Context, path string, body any) (string, error) {
	base := c.baseURL
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+path, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusForbidden {
		return "", fmt.Errorf("%w: status %d", ErrDeliveryFailed, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	var result struct {
		MessageID string `json:"message_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	return result.MessageID, nil
}

// SendText отправляет пользователю текстовое сообщение, при необходимости
// с ответной клавиатурой.
func (c *Client) SendText(ctx context.Context, identity int64, text string, kb Keyboard) (string, error) {
	return c.post(ctx, "/api/send/text", map[string]any{
		"identity": identity,
		"text":     text,
		"keyboard": kb,
	})
}

// SendPhoto отправляет пользователю изображение, переданное байтами.
func (c *Client) SendPhoto(ctx context.Context, identity int64, image []byte, caption string) (string, error) {
	return c.post(ctx, "/api/send/photo", map[string]any{
		"identity": identity,
		"photo":    base64.StdEncoding.EncodeToString(image),
		"caption":  caption,
	})
}

// SendPhotoRef пересылает изображение по ссылке шлюза.
func (c *Client) SendPhotoRef(ctx context.Context, identity int64, ref, caption string) (string, error) {
	return c.post(ctx, "/api/send/photo", map[string]any{
		"identity":  identity,
		"photo_ref": ref,
		"caption":   caption,
	})
}

// SendVideoRef пересылает видео по ссылке шлюза.
func (c *Client) SendVideoRef(ctx context.Context, identity int64, ref, caption string) (string, error) {
	return c.post(ctx, "/api/send/video", map[string]any{
		"identity":  identity,
		"video_ref": ref,
		"caption":   caption,
	})
}

// PinMessage закрепляет сообщение в чате пользователя.
func (c *Client) PinMessage(ctx context.Context, identity int64, messageID string) error {
	_, err := c.post(ctx, "/api/pin", map[string]any{
		"identity":   identity,
		"message_id": messageID,
	})
	return err
}

// FetchFile скачивает содержимое файла по ссылке шлюза.
func (c *Client) FetchFile(ctx context.Context, ref string) ([]byte, error) {
	base := c.baseURL
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/api/file/"+ref, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	return io.ReadAll(resp.Body)
}
