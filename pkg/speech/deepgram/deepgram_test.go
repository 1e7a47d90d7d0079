package deepgram

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/parlancehq/parlance/pkg/speech"
)

const listenBody = `{
  "results": {
    "channels": [
      {
        "alternatives": [
          {"transcript": "hello world", "confidence": 0.97}
        ]
      }
    ]
  }
}`

func newTestAdapter(t *testing.T, handler http.HandlerFunc) *Adapter {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	a, err := New("dg-test-key", WithBaseURL(srv.URL), WithModel("nova-3"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return a
}

func TestNew_RequiresAPIKey(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Fatal("expected error for empty api key")
	}
}

func TestTranscribe(t *testing.T) {
	var gotReq *http.Request
	var gotBody []byte
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		gotReq = r
		gotBody, _ = io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, listenBody)
	})

	res, err := a.Transcribe(context.Background(), speech.STTRequest{
		Audio:    []byte("pcm-data"),
		Format:   "wav",
		Language: "de-DE",
		Options:  map[string]string{"diarize": "true"},
	})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if res.Text != "hello world" || res.Confidence != 0.97 {
		t.Fatalf("result = %+v", res)
	}

	if gotReq.Method != http.MethodPost || gotReq.URL.Path != "/v1/listen" {
		t.Fatalf("request = %s %s", gotReq.Method, gotReq.URL.Path)
	}
	if got := gotReq.Header.Get("Authorization"); got != "Token dg-test-key" {
		t.Fatalf("auth header = %q", got)
	}
	if got := gotReq.Header.Get("Content-Type"); got != "audio/wav" {
		t.Fatalf("content type = %q", got)
	}
	q := gotReq.URL.Query()
	if q.Get("model") != "nova-3" || q.Get("language") != "de-DE" || q.Get("diarize") != "true" {
		t.Fatalf("query = %v", q)
	}
	if string(gotBody) != "pcm-data" {
		t.Fatalf("body = %q", gotBody)
	}
}

func TestTranscribe_AutoLanguageUsesDefault(t *testing.T) {
	var gotLang string
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		gotLang = r.URL.Query().Get("language")
		io.WriteString(w, listenBody)
	})

	if _, err := a.Transcribe(context.Background(), speech.STTRequest{Audio: []byte("x"), Language: "auto"}); err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if gotLang != "en" {
		t.Fatalf("language = %q, want default en", gotLang)
	}
}

func TestTranscribe_ErrorClassification(t *testing.T) {
	tests := []struct {
		status int
		check  func(error) bool
		name   string
	}{
		{http.StatusUnauthorized, speech.IsAuth, "auth"},
		{http.StatusForbidden, speech.IsAuth, "auth 403"},
		{http.StatusTooManyRequests, speech.IsQuota, "quota"},
		{http.StatusBadRequest, speech.IsValidation, "validation"},
		{http.StatusInternalServerError, speech.IsTransient, "transient 500"},
		{http.StatusBadGateway, speech.IsTransient, "transient 502"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := newTestAdapter(t, func(w http.ResponseWriter, _ *http.Request) {
				http.Error(w, "nope", tt.status)
			})
			_, err := a.Transcribe(context.Background(), speech.STTRequest{Audio: []byte("x")})
			if err == nil {
				t.Fatal("expected error")
			}
			if !tt.check(err) {
				t.Fatalf("status %d misclassified: %v", tt.status, err)
			}
		})
	}
}

func TestTranscribe_EmptyResults(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, _ *http.Request) {
		io.WriteString(w, `{"results":{"channels":[]}}`)
	})
	_, err := a.Transcribe(context.Background(), speech.STTRequest{Audio: []byte("x")})
	if !speech.IsTransient(err) {
		t.Fatalf("error = %v, want transient for empty results", err)
	}
}

func TestSynthesize_NotSupported(t *testing.T) {
	a := newTestAdapter(t, func(http.ResponseWriter, *http.Request) {})
	_, err := a.Synthesize(context.Background(), speech.TTSRequest{Text: "hi"})
	if !speech.IsValidation(err) {
		t.Fatalf("error = %v, want validation", err)
	}
}

func TestHealth(t *testing.T) {
	t.Run("ok", func(t *testing.T) {
		a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/v1/projects" {
				t.Errorf("path = %s", r.URL.Path)
			}
			io.WriteString(w, `{"projects":[]}`)
		})
		if st := a.Health(context.Background()); !st.OK {
			t.Fatalf("status = %+v, want OK", st)
		}
	})

	t.Run("unauthorized", func(t *testing.T) {
		a := newTestAdapter(t, func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "bad key", http.StatusUnauthorized)
		})
		if st := a.Health(context.Background()); st.OK || st.Detail == "" {
			t.Fatalf("status = %+v, want failure with detail", st)
		}
	})
}
