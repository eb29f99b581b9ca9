// Package catalog предоставляет клиент REST-каталога магазина.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/coocood/freecache"

	"retail-assistant/internal/model"
)

// ErrCustomerNotFound возвращается, если покупатель по номеру карты не найден.
var (
	ErrCustomerNotFound = errors.New("customer not found")
	// ErrUpstream возвращается при любом сбое каталога: таймаут, неожиданный
	// статус или нечитаемый ответ.
	ErrUpstream = errors.New("catalog upstream error")
)

const (
	tokenCacheKey = "token"
	tokenTTL      = time.Hour
)

// Client инкапсулирует HTTP-взаимодействие с каталогом магазина.
// Токен авторизации кэшируется и обновляется по истечении срока жизни.
type Client struct {
	baseURL    string
	username   string
	key        string
	httpClient *http.Client
	tokens     *freecache.Cache
}

// ProductSummary описывает товар в результатах поиска.
type ProductSummary struct {
	ProductID   string `json:"product_id"`
	Name        string `json:"name"`
	Image       string `json:"image"`
	Description string `json:"description"`
	URL         string `json:"url"`
}

// ProductDetail описывает подробную информацию о товаре.
type ProductDetail struct {
	SKU      string `json:"sku"`
	UPC      string `json:"upc"`
	Image    string `json:"image"`
	Category string `json:"category"`
}

// Attribute описывает одну характеристику товара.
type Attribute struct {
	Name string `json:"name"`
	Text string `json:"text"`
}

type attributeGroup struct {
	Attribute []Attribute `json:"attribute"`
}

// LocationQuantity описывает остаток товара в одном магазине.
type LocationQuantity struct {
	Quantity string `json:"quantity"`
}

// NewClient создаёт клиент каталога по указанному адресу и учётным данным API.
func NewClient(baseURL, username, key string, timeout time.Duration) *Client {
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		username: username,
		key:      key,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		tokens: freecache.NewCache(1024),
	}
}

func (c *Client) base() string {
	base := c.baseURL
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}
	return base
}

// Token возвращает кэшированный токен авторизации либо запрашивает новый.
func (c *Client) Token(ctx context.Context) (string, error) {
	if v, err := c.tokens.Get([]byte(tokenCacheKey)); err == nil {
		return string(v), nil
	}

	form := url.Values{}
	form.Set("username", c.username)
	form.Set("key", c.key)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.base()+"/api/login", strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("create login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: login: %s", ErrUpstream, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: login status %d", ErrUpstream, resp.StatusCode)
	}

	var body struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("%w: decode login response: %s", ErrUpstream, err)
	}
	if body.Token == "" {
		return "", fmt.Errorf("%w: login response without token", ErrUpstream)
	}

	_ = c.tokens.Set([]byte(tokenCacheKey), []byte(body.Token), int(tokenTTL.Seconds()))
	return body.Token, nil
}

func (c *Client) get(ctx context.Context, path string, params url.Values, out any) error {
	token, err := c.Token(ctx)
	if err != nil {
		return err
	}
	params.Set("token", token)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.base()+path+"?"+params.Encode(), nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s: %s", ErrUpstream, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: %s status %d", ErrUpstream, path, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode %s response: %s", ErrUpstream, path, err)
	}
	return nil
}

// Search выполняет поиск товаров по тексту запроса. Каталог возвращает
// словарь product_0..product_N; порядок ключей восстанавливается по номеру.
func (c *Client) Search(ctx context.Context, text string) ([]ProductSummary, error) {
	params := url.Values{}
	params.Set("search", text)

	var raw map[string]ProductSummary
	if err := c.get(ctx, "/api/search", params, &raw); err != nil {
		return nil, err
	}

	res := make([]ProductSummary, 0, len(raw))
	for i := 0; ; i++ {
		p, ok := raw[fmt.Sprintf("product_%d", i)]
		if !ok {
			break
		}
		p.Description = cleanDescription(p.Description)
		res = append(res, p)
	}
	return res, nil
}

// Product возвращает подробную информацию о товаре.
func (c *Client) Product(ctx context.Context, productID string) (*ProductDetail, error) {
	params := url.Values{}
	params.Set("id", productID)

	var d ProductDetail
	if err := c.get(ctx, "/api/product", params, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

// Attributes возвращает характеристики товара. Каталог группирует их по
// разделам; разделы сливаются в один список с сохранением порядка.
func (c *Client) Attributes(ctx context.Context, productID string) ([]Attribute, error) {
	params := url.Values{}
	params.Set("id", productID)

	var groups []attributeGroup
	if err := c.get(ctx, "/api/product/attributes", params, &groups); err != nil {
		return nil, err
	}

	var res []Attribute
	for _, g := range groups {
		res = append(res, g.Attribute...)
	}
	return res, nil
}

// Quantity возвращает остатки товара по магазинам.
func (c *Client) Quantity(ctx context.Context, productID string) ([]LocationQuantity, error) {
	params := url.Values{}
	params.Set("id", productID)

	var res []LocationQuantity
	if err := c.get(ctx, "/api/product/quantity", params, &res); err != nil {
		return nil, err
	}
	return res, nil
}

// CustomerByCard возвращает запись о покупателе по номеру дисконтной карты.
// Поля custom_field учётной системы: "2" — код сегмента, "3" — срок действия
// карты, "4" — накопленный баланс.
func (c *Client) CustomerByCard(ctx context.Context, cardNumber string) (*model.CustomerRecord, error) {
	params := url.Values{}
	params.Set("card", cardNumber)

	var raw map[string]json.RawMessage
	if err := c.get(ctx, "/api/customer", params, &raw); err != nil {
		return nil, err
	}

	for _, v := range raw {
		var s string
		if json.Unmarshal(v, &s) == nil && s == "Customer not found" {
			return nil, ErrCustomerNotFound
		}
	}

	fieldRaw, ok := raw["custom_field"]
	if !ok {
		return nil, fmt.Errorf("%w: customer response without custom_field", ErrUpstream)
	}

	var fieldJSON string
	if err := json.Unmarshal(fieldRaw, &fieldJSON); err != nil {
		return nil, fmt.Errorf("%w: decode custom_field: %s", ErrUpstream, err)
	}

	var fields map[string]string
	if err := json.Unmarshal([]byte(fieldJSON), &fields); err != nil {
		return nil, fmt.Errorf("%w: decode custom_field payload: %s", ErrUpstream, err)
	}

	return &model.CustomerRecord{
		CardNumber: cardNumber,
		Segment:    model.SegmentID(fields["2"]),
		ExpiresAt:  fields["3"],
		Balance:    fields["4"],
	}, nil
}

// ImageExists проверяет доступность изображения товара по URL.
func (c *Client) ImageExists(ctx context.Context, imageURL string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, imageURL, nil)
	if err != nil {
		return false
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// cleanDescription убирает HTML-разметку из описания товара и оставляет
// первое предложение.
func cleanDescription(html string) string {
	if html == "" {
		return "Описания нет."
	}

	var b strings.Builder
	inTag := false
	for _, r := range html {
		switch {
		case r == '<':
			inTag = true
		case r == '>':
			inTag = false
		case !inTag:
			b.WriteRune(r)
		}
	}

	text := strings.TrimSpace(b.String())
	if text == "" {
		return "Описания нет."
	}

	for i, r := range text {
		if r == '.' || r == '!' || r == '?' {
			return text[:i+len(string(r))]
		}
	}
	return text
}
