package catalog

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

// catalogServer — минимальный каталог для тестов: выдаёт токен и считает
// обращения к /api/login.
func catalogServer(t *testing.T, logins *int, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/login" {
			*logins++
			if r.Method != http.MethodPost {
				t.Fatalf("login method = %s, want POST", r.Method)
			}
			if err := r.ParseForm(); err != nil {
				t.Fatalf("parse login form: %v", err)
			}
			if got := r.PostForm.Get("username"); got != "bot" {
				t.Fatalf("username = %q, want bot", got)
			}
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"token":"tok-1"}`))
			return
		}

		if got := r.URL.Query().Get("token"); got != "tok-1" {
			t.Fatalf("token = %q, want tok-1", got)
		}
		handler(w, r)
	}))
}

func TestToken_Cached(t *testing.T) {
	logins := 0
	ts := catalogServer(t, &logins, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	})
	defer ts.Close()

	c := NewClient(ts.URL, "bot", "key", time.Second)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		token, err := c.Token(ctx)
		if err != nil {
			t.Fatalf("Token error: %v", err)
		}
		if token != "tok-1" {
			t.Fatalf("token = %q, want tok-1", token)
		}
	}

	if logins != 1 {
		t.Fatalf("logins = %d, want 1: token must be cached", logins)
	}
}

func TestSearch_OrderedProducts(t *testing.T) {
	logins := 0
	ts := catalogServer(t, &logins, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/search" {
			t.Fatalf("path = %s, want /api/search", r.URL.Path)
		}
		if got := r.URL.Query().Get("search"); got != "молоток" {
			t.Fatalf("search = %q, want молоток", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"product_1": {"product_id": "2", "name": "Второй", "description": "<p>Два. Ещё текст.</p>"},
			"product_0": {"product_id": "1", "name": "Первый", "description": ""}
		}`))
	})
	defer ts.Close()

	c := NewClient(ts.URL, "bot", "key", time.Second)

	res, err := c.Search(context.Background(), "молоток")
	if err != nil {
		t.Fatalf("Search error: %v", err)
	}
	if len(res) != 2 {
		t.Fatalf("results = %d, want 2", len(res))
	}
	if res[0].Name != "Первый" || res[1].Name != "Второй" {
		t.Fatalf("order = [%s, %s], want [Первый, Второй]", res[0].Name, res[1].Name)
	}
	if res[0].Description != "Описания нет." {
		t.Fatalf("empty description = %q, want placeholder", res[0].Description)
	}
	if res[1].Description != "Два." {
		t.Fatalf("description = %q, want first sentence without markup", res[1].Description)
	}
}

func TestSearch_UpstreamStatus(t *testing.T) {
	logins := 0
	ts := catalogServer(t, &logins, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	defer ts.Close()

	c := NewClient(ts.URL, "bot", "key", time.Second)

	_, err := c.Search(context.Background(), "молоток")
	if !errors.Is(err, ErrUpstream) {
		t.Fatalf("error = %v, want ErrUpstream", err)
	}
}

func TestCustomerByCard_OK(t *testing.T) {
	logins := 0
	ts := catalogServer(t, &logins, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/customer" {
			t.Fatalf("path = %s, want /api/customer", r.URL.Path)
		}
		if got := r.URL.Query().Get("card"); got != "12345678" {
			t.Fatalf("card = %q, want 12345678", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"firstname": "Иван",
			"custom_field": "{\"2\": \"Р00000002\", \"3\": \"31.12.2026\", \"4\": \"152,30\"}"
		}`))
	})
	defer ts.Close()

	c := NewClient(ts.URL, "bot", "key", time.Second)

	customer, err := c.CustomerByCard(context.Background(), "12345678")
	if err != nil {
		t.Fatalf("CustomerByCard error: %v", err)
	}
	if customer.CardNumber != "12345678" {
		t.Fatalf("CardNumber = %q, want 12345678", customer.CardNumber)
	}
	if customer.Segment != "Р00000002" {
		t.Fatalf("Segment = %q, want Р00000002", customer.Segment)
	}
	if customer.ExpiresAt != "31.12.2026" {
		t.Fatalf("ExpiresAt = %q, want 31.12.2026", customer.ExpiresAt)
	}
	if customer.Balance != "152,30" {
		t.Fatalf("Balance = %q, want 152,30", customer.Balance)
	}
}

func TestCustomerByCard_NotFound(t *testing.T) {
	logins := 0
	ts := catalogServer(t, &logins, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"error": "Customer not found"}`))
	})
	defer ts.Close()

	c := NewClient(ts.URL, "bot", "key", time.Second)

	_, err := c.CustomerByCard(context.Background(), "99999999")
	if !errors.Is(err, ErrCustomerNotFound) {
		t.Fatalf("error = %v, want ErrCustomerNotFound", err)
	}
}

func TestCleanDescription(t *testing.T) {
	tests := []struct {
		html string
		want string
	}{
		{"", "Описания нет."},
		{"<p></p>", "Описания нет."},
		{"Простой текст", "Простой текст"},
		{"<p>Первое предложение. Второе.</p>", "Первое предложение."},
		{"<b>Вопрос?</b> Ответ.", "Вопрос?"},
	}

	for _, tt := range tests {
		if got := cleanDescription(tt.html); got != tt.want {
			t.Fatalf("cleanDescription(%q) = %q, want %q", tt.html, got, tt.want)
		}
	}
}
