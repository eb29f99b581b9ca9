package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestSendText_OK(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/send/text" {
			t.Fatalf("path = %s, want /api/send/text", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Fatalf("authorization = %q, want bearer token", got)
		}

		var body struct {
			Identity int64      `json:"identity"`
			Text     string     `json:"text"`
			Keyboard [][]string `json:"keyboard"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if body.Identity != 42 || body.Text != "привет" {
			t.Fatalf("body = %+v, want identity 42 and text", body)
		}
		if len(body.Keyboard) != 1 || body.Keyboard[0][0] != "Главное меню" {
			t.Fatalf("keyboard = %+v, want single button", body.Keyboard)
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"message_id": "msg-1"}`))
	}))
	defer ts.Close()

	c := NewClient(ts.URL, "secret", time.Second)

	id, err := c.SendText(context.Background(), 42, "привет", Keyboard{{"Главное меню"}})
	if err != nil {
		t.Fatalf("SendText error: %v", err)
	}
	if id != "msg-1" {
		t.Fatalf("message id = %q, want msg-1", id)
	}
}

func TestSendText_BlockedRecipient(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer ts.Close()

	c := NewClient(ts.URL, "secret", time.Second)

	_, err := c.SendText(context.Background(), 42, "привет", nil)
	if !errors.Is(err, ErrDeliveryFailed) {
		t.Fatalf("error = %v, want ErrDeliveryFailed", err)
	}
}

func TestFetchFile(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/file/ref-7" {
			t.Fatalf("path = %s, want /api/file/ref-7", r.URL.Path)
		}
		w.Write([]byte("file-bytes"))
	}))
	defer ts.Close()

	c := NewClient(ts.URL, "secret", time.Second)

	data, err := c.FetchFile(context.Background(), "ref-7")
	if err != nil {
		t.Fatalf("FetchFile error: %v", err)
	}
	if string(data) != "file-bytes" {
		t.Fatalf("data = %q, want file bytes", data)
	}
}
