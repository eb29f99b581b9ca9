// Package barcode содержит генерацию изображения штрихкода дисконтной карты
// и клиент внешнего сервиса распознавания штрихкодов.
package barcode

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/png"
	"net/http"
	"strings"
	"time"

	"github.com/boombuler/barcode"
	"github.com/boombuler/barcode/code128"
)

// ErrNotRecognized возвращается, если на изображении не удалось
// распознать штрихкод.
var ErrNotRecognized = errors.New("barcode not recognized")

// Generate строит PNG-изображение штрихкода Code128 для номера карты.
func Generate(number string) ([]byte, error) {
	bc, err := code128.Encode(number)
	if err != nil {
		return nil, fmt.Errorf("encode barcode: %w", err)
	}

	scaled, err := barcode.Scale(bc, 400, 160)
	if err != nil {
		return nil, fmt.Errorf("scale barcode: %w", err)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, scaled); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// Decoder распознаёт номер штрихкода на фотографии. Само распознавание
// выполняет внешний сервис, клиент лишь передаёт изображение.
type Decoder struct {
	baseURL    string
	httpClient *http.Client
}

// NewDecoder создаёт клиент сервиса распознавания по указанному адресу.
func NewDecoder(baseURL string, timeout time.Duration) *Decoder {
	return &Decoder{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Decode отправляет изображение сервису распознавания и возвращает цифры
// штрихкода. Пустой ответ означает, что штрихкод не распознан.
func (d *Decoder) Decode(ctx context.Context, image []byte) (string, error) {
	base := d.baseURL
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/decode", bytes.NewReader(image))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return "", ErrNotRecognized
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	number := strings.TrimSpace(buf.String())
	if number == "" {
		return "", ErrNotRecognized
	}
	return number, nil
}
