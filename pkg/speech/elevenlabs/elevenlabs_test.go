package elevenlabs

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/parlancehq/parlance/pkg/speech"
)

func newTestAdapter(t *testing.T, handler http.HandlerFunc, opts ...Option) *Adapter {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	a, err := New("el-test-key", append([]Option{WithBaseURL(srv.URL)}, opts...)...)
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

func TestSynthesize(t *testing.T) {
	var gotReq *http.Request
	var gotPayload synthesisRequest
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		gotReq = r
		if err := json.NewDecoder(r.Body).Decode(&gotPayload); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		w.Header().Set("Content-Type", "audio/mpeg")
		w.Write([]byte("mp3-bytes"))
	})

	res, err := a.Synthesize(context.Background(), speech.TTSRequest{
		Text:   "guten tag",
		Voice:  "voice-1",
		Format: "mp3",
		Speed:  1.2,
	})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if string(res.Audio) != "mp3-bytes" || res.Format != "mp3" {
		t.Fatalf("result = %+v", res)
	}

	if gotReq.URL.Path != "/v1/text-to-speech/voice-1" {
		t.Fatalf("path = %s", gotReq.URL.Path)
	}
	if got := gotReq.URL.Query().Get("output_format"); got != "mp3_44100_128" {
		t.Fatalf("output_format = %q", got)
	}
	if got := gotReq.Header.Get("xi-api-key"); got != "el-test-key" {
		t.Fatalf("api key header = %q", got)
	}
	if gotPayload.Text != "guten tag" || gotPayload.ModelID != defaultModel {
		t.Fatalf("payload = %+v", gotPayload)
	}
	if gotPayload.VoiceSettings == nil || gotPayload.VoiceSettings.Speed != 1.2 {
		t.Fatalf("voice settings = %+v", gotPayload.VoiceSettings)
	}
}

func TestSynthesize_DefaultVoice(t *testing.T) {
	var gotPath string
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Write([]byte("audio"))
	}, WithDefaultVoice("fallback-voice"))

	if _, err := a.Synthesize(context.Background(), speech.TTSRequest{Text: "hi"}); err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if gotPath != "/v1/text-to-speech/fallback-voice" {
		t.Fatalf("path = %s, want default voice", gotPath)
	}
}

func TestSynthesize_MissingVoice(t *testing.T) {
	a := newTestAdapter(t, func(http.ResponseWriter, *http.Request) {
		t.Error("no request expected")
	})
	_, err := a.Synthesize(context.Background(), speech.TTSRequest{Text: "hi"})
	if !speech.IsValidation(err) {
		t.Fatalf("error = %v, want validation", err)
	}
}

func TestSynthesize_UnsupportedFormat(t *testing.T) {
	a := newTestAdapter(t, func(http.ResponseWriter, *http.Request) {
		t.Error("no request expected")
	}, WithDefaultVoice("v"))
	_, err := a.Synthesize(context.Background(), speech.TTSRequest{Text: "hi", Format: "flac"})
	if !speech.IsValidation(err) {
		t.Fatalf("error = %v, want validation", err)
	}
}

func TestSynthesize_ErrorClassification(t *testing.T) {
	tests := []struct {
		status int
		check  func(error) bool
		name   string
	}{
		{http.StatusUnauthorized, speech.IsAuth, "auth"},
		{http.StatusTooManyRequests, speech.IsQuota, "quota"},
		{http.StatusUnprocessableEntity, speech.IsValidation, "validation"},
		{http.StatusServiceUnavailable, speech.IsTransient, "transient"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := newTestAdapter(t, func(w http.ResponseWriter, _ *http.Request) {
				http.Error(w, "nope", tt.status)
			}, WithDefaultVoice("v"))
			_, err := a.Synthesize(context.Background(), speech.TTSRequest{Text: "hi"})
			if err == nil {
				t.Fatal("expected error")
			}
			if !tt.check(err) {
				t.Fatalf("status %d misclassified: %v", tt.status, err)
			}
		})
	}
}

func TestTranscribe_NotSupported(t *testing.T) {
	a := newTestAdapter(t, func(http.ResponseWriter, *http.Request) {})
	_, err := a.Transcribe(context.Background(), speech.STTRequest{Audio: []byte("x")})
	if !speech.IsValidation(err) {
		t.Fatalf("error = %v, want validation", err)
	}
}

func TestHealth(t *testing.T) {
	t.Run("ok", func(t *testing.T) {
		a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/v1/voices" {
				t.Errorf("path = %s", r.URL.Path)
			}
			io.WriteString(w, `{"voices":[]}`)
		})
		if st := a.Health(context.Background()); !st.OK {
			t.Fatalf("status = %+v, want OK", st)
		}
	})

	t.Run("down", func(t *testing.T) {
		a := newTestAdapter(t, func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "maintenance", http.StatusServiceUnavailable)
		})
		if st := a.Health(context.Background()); st.OK {
			t.Fatalf("status = %+v, want failure", st)
		}
	})
}
