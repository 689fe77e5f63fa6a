package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/pitched26/pitched/internal/coach"
)

func TestCoachClient_NoKey(t *testing.T) {
	c := NewCoachClient("", "http://localhost", "model")
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := c.Analyze(ctx, []byte{0, 0}, ""); err == nil {
		t.Fatalf("expected error with missing key")
	}
}

func TestCoachClient_ParsesResult(t *testing.T) {
	payload := `{"transcript":"we build rockets","tips":[{"text":"Slow down on numbers","category":"delivery","priority":"high"}],"signals":[{"label":"Confidence","value":"High"},{"label":"Pace","value":"Low"}],"coachNote":"Strong opening."}`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer key" {
			t.Errorf("unexpected auth header %q", got)
		}
		var body map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("request body not json: %v", err)
		}
		resp := map[string]interface{}{
			"choices": []map[string]interface{}{
				{"message": map[string]string{"role": "assistant", "content": payload}},
			},
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	c := NewCoachClient("key", srv.URL, "model")
	res, err := c.Analyze(context.Background(), make([]byte, 3200), "prior words")
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if res.Transcript != "we build rockets" {
		t.Fatalf("transcript %q", res.Transcript)
	}
	if len(res.Tips) != 1 || res.Tips[0].Category != coach.CategoryDelivery || res.Tips[0].Priority != coach.PriorityHigh {
		t.Fatalf("tips: %+v", res.Tips)
	}
	if res.Tips[0].ID == "" {
		t.Fatalf("tip id not backfilled")
	}
	if len(res.Signals) != 2 || res.Signals[1].Value != coach.LevelLow {
		t.Fatalf("signals: %+v", res.Signals)
	}
	if res.CoachNote != "Strong opening." {
		t.Fatalf("coach note %q", res.CoachNote)
	}
}

func TestCoachClient_StripsCodeFences(t *testing.T) {
	fenced := "```json\n{\"transcript\":\"hello there\",\"tips\":[],\"signals\":[],\"coachNote\":\"\"}\n```"
	res, err := parsePayload(fenced)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if res.Transcript != "hello there" {
		t.Fatalf("transcript %q", res.Transcript)
	}
}

func TestCoachClient_UnknownEnumsFallBack(t *testing.T) {
	payload := `{"transcript":"x","tips":[{"text":"Breathe","category":"vibes","priority":"urgent"}],"signals":[{"label":"Energy","value":"Cosmic"}]}`
	res, err := parsePayload(payload)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if res.Tips[0].Category != coach.CategoryDelivery || res.Tips[0].Priority != coach.PriorityMedium {
		t.Fatalf("fallbacks not applied: %+v", res.Tips[0])
	}
	if res.Signals[0].Value != coach.LevelUnclear {
		t.Fatalf("signal fallback not applied: %+v", res.Signals[0])
	}
}

func TestCoachClient_HTTPFailures(t *testing.T) {
	cases := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"status_non_2xx", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(500); _, _ = w.Write([]byte("oops")) }},
		{"bad_json", func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte("not-json")) }},
		{"empty_choices", func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte(`{"choices":[]}`)) }},
		{"malformed_payload", func(w http.ResponseWriter, r *http.Request) {
			_, _ = fmt.Fprint(w, `{"choices":[{"message":{"content":"this is not json"}}]}`)
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(tc.handler)
			defer srv.Close()
			c := NewCoachClient("key", srv.URL, "model")
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			if _, err := c.Analyze(ctx, make([]byte, 3200), ""); err == nil {
				t.Fatalf("expected error; got nil")
			}
		})
	}
}

func TestWavFromPCM16_Header(t *testing.T) {
	pcm := make([]byte, 320)
	wav := wavFromPCM16(pcm, 16000)
	if len(wav) != 44+len(pcm) {
		t.Fatalf("wav length %d", len(wav))
	}
	if string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" || string(wav[36:40]) != "data" {
		t.Fatalf("bad header markers")
	}
}
