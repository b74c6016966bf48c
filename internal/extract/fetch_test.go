package extract

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<html><body><h1 class="product-title">Teapot</h1><span class="price">£18</span></body></html>`))
	}))
	defer srv.Close()

	body, err := Fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, err := Page(body, srv.URL, Options{})
	if err != nil {
		t.Fatalf("Page: %v", err)
	}
	if got.Name != "Teapot" || got.Price != 18 {
		t.Errorf("got %+v", got)
	}
}

func TestFetch_SkipsNonHTTP(t *testing.T) {
	urls := []string{
		"",
		"about:newtab",
		"moz-extension://abc/page",
		"chrome-extension://abc/popup.html",
		"file:///home/user/doc.html",
		"chrome://settings",
		"data:text/html,hello",
	}
	for _, u := range urls {
		if _, err := Fetch(context.Background(), u); err == nil {
			t.Errorf("expected error for %q, got nil", u)
		}
	}
}

func TestFetch_SendsUserAgent(t *testing.T) {
	var gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		w.Write([]byte(`<html></html>`))
	}))
	defer srv.Close()

	Fetch(context.Background(), srv.URL)
	if gotUA == "" || gotUA == "Go-http-client/1.1" {
		t.Errorf("expected browser-like User-Agent, got %q", gotUA)
	}
}

func TestFetch_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	if _, err := Fetch(context.Background(), srv.URL); err == nil {
		t.Error("expected error for 404 response")
	}
}
