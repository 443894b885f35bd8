package translate

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"wordle/server/internal/logging"
)

func TestHTTPTranslateCachesResults(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if got := r.URL.Query().Get("langpair"); got != "en|it" {
			t.Errorf("unexpected langpair %q", got)
		}
		fmt.Fprintf(w, `{"responseData":{"translatedText":"gru-%s"},"responseStatus":200}`, r.URL.Query().Get("q"))
	}))
	defer srv.Close()

	tr, err := NewHTTP(WithEndpoint(srv.URL), WithLogger(logging.NewTestLogger()))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	for i := 0; i < 3; i++ {
		if got := tr.Translate(context.Background(), "crane"); got != "gru-crane" {
			t.Fatalf("unexpected translation %q", got)
		}
	}
	if hits.Load() != 1 {
		t.Fatalf("expected one upstream hit, got %d", hits.Load())
	}
}

func TestHTTPTranslateCoalescesConcurrentLookups(t *testing.T) {
	var hits atomic.Int32
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		<-release
		fmt.Fprint(w, `{"responseData":{"translatedText":"ardesia"}}`)
	}))
	defer srv.Close()

	tr, _ := NewHTTP(WithEndpoint(srv.URL), WithLogger(logging.NewTestLogger()))
	var wg sync.WaitGroup
	results := make([]string, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = tr.Translate(context.Background(), "slate")
		}(i)
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()
	for _, r := range results {
		if r != "ardesia" {
			t.Fatalf("unexpected result %q", r)
		}
	}
	if hits.Load() > 2 {
		t.Fatalf("expected coalesced lookups, got %d upstream hits", hits.Load())
	}
}

func TestHTTPTranslateDegradesToEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	tr, _ := NewHTTP(WithEndpoint(srv.URL), WithLogger(logging.NewTestLogger()))
	if got := tr.Translate(context.Background(), "crane"); got != "" {
		t.Fatalf("expected empty translation, got %q", got)
	}
	if tr.cache.Contains("crane") {
		t.Fatal("failures must not be cached")
	}
}

func TestHTTPTranslateTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer srv.Close()

	tr, _ := NewHTTP(WithEndpoint(srv.URL), WithTimeout(20*time.Millisecond), WithLogger(logging.NewTestLogger()))
	start := time.Now()
	if got := tr.Translate(context.Background(), "crane"); got != "" {
		t.Fatalf("expected empty translation, got %q", got)
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Fatal("timeout not honoured")
	}
}

func TestNopTranslator(t *testing.T) {
	if (Nop{}).Translate(context.Background(), "crane") != "" {
		t.Fatal("nop should not translate")
	}
}
