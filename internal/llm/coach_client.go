package llm

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/pitched26/pitched/internal/coach"
	"github.com/pitched26/pitched/internal/segment"
)

const systemPrompt = `You are a pitch rehearsal coach listening to short audio segments of a live practice run.
For each segment, respond with ONLY a JSON object, no prose, with this shape:
{"transcript": "<full running transcript so far, prior context plus the new audio>",
 "tips": [{"text": "...", "category": "delivery|content|structure|engagement", "priority": "high|medium|low"}],
 "signals": [{"label": "Confidence|Energy|Clarity|Pace|Persuasion", "value": "High|Medium|Low|Unclear"}],
 "coachNote": "<one short encouraging sentence>"}
Keep tips short and imperative. Always include all five signals.`

// CoachClient calls an OpenAI-compatible chat-completions endpoint with an
// audio segment attached and parses the structured coaching response. It
// implements coach.Analyzer. The endpoint keeps no per-session state; any
// context the model needs travels in the request.
type CoachClient struct {
	HTTPClient *http.Client
	APIKey     string
	URL        string
	Model      string
}

// NewCoachClient constructs a client for the given endpoint and model.
// No request timeout is set on the HTTP client: the analysis service is
// slow and latency-variable, and the pipeline handles slowness by sequence
// ordering rather than deadlines. Cancellation arrives via context.
func NewCoachClient(apiKey, url, model string) *CoachClient {
	return &CoachClient{
		HTTPClient: &http.Client{},
		APIKey:     apiKey,
		URL:        url,
		Model:      model,
	}
}

type contentPart struct {
	Type       string      `json:"type"`
	Text       string      `json:"text,omitempty"`
	InputAudio *inputAudio `json:"input_audio,omitempty"`
}

type inputAudio struct {
	Data   string `json:"data"`
	Format string `json:"format"`
}

type chatMessage struct {
	Role    string      `json:"role"`
	Content interface{} `json:"content"`
}

type chatCompletionsRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatChoice struct {
	Index        int    `json:"index"`
	FinishReason string `json:"finish_reason"`
	Message      struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"message"`
}

type chatCompletionsResponse struct {
	ID      string       `json:"id"`
	Choices []chatChoice `json:"choices"`
}

// coachPayload is the JSON object the model is instructed to emit.
type coachPayload struct {
	Transcript string `json:"transcript"`
	Tips       []struct {
		Text     string `json:"text"`
		Category string `json:"category"`
		Priority string `json:"priority"`
	} `json:"tips"`
	Signals []struct {
		Label string `json:"label"`
		Value string `json:"value"`
	} `json:"signals"`
	CoachNote string `json:"coachNote"`
}

// Analyze sends one audio segment plus bounded prior transcript context
// and returns the parsed coaching result.
func (c *CoachClient) Analyze(ctx context.Context, audio []byte, priorTranscript string) (*coach.AnalysisResult, error) {
	if c.APIKey == "" {
		return nil, fmt.Errorf("coach api key missing")
	}

	userText := "New audio segment from the rehearsal follows."
	if priorTranscript != "" {
		userText = fmt.Sprintf("Transcript so far (may be truncated at the start):\n%s\n\nNew audio segment from the rehearsal follows.", priorTranscript)
	}
	reqBody, _ := json.Marshal(chatCompletionsRequest{
		Model: c.Model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: []contentPart{
				{Type: "text", Text: userText},
				{Type: "input_audio", InputAudio: &inputAudio{
					Data:   base64.StdEncoding.EncodeToString(wavFromPCM16(audio, segment.SampleRate)),
					Format: "wav",
				}},
			}},
		},
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL, bytes.NewReader(reqBody))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("coach service error: status=%d body=%s", resp.StatusCode, string(b))
	}

	var cr chatCompletionsResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return nil, fmt.Errorf("coach service: decode response: %w", err)
	}
	if len(cr.Choices) == 0 {
		return nil, fmt.Errorf("coach service: empty choices")
	}
	return parsePayload(cr.Choices[0].Message.Content)
}

// parsePayload converts the model's JSON content into an AnalysisResult,
// tolerating markdown code fences and backfilling missing tip metadata.
func parsePayload(content string) (*coach.AnalysisResult, error) {
	text := strings.TrimSpace(content)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)

	var p coachPayload
	if err := json.Unmarshal([]byte(text), &p); err != nil {
		return nil, fmt.Errorf("coach service: malformed payload: %w", err)
	}

	res := &coach.AnalysisResult{
		Transcript: strings.TrimSpace(p.Transcript),
		CoachNote:  strings.TrimSpace(p.CoachNote),
	}
	for _, tip := range p.Tips {
		if strings.TrimSpace(tip.Text) == "" {
			continue
		}
		res.Tips = append(res.Tips, coach.CoachingTip{
			ID:       uuid.NewString(),
			Text:     tip.Text,
			Category: tipCategory(tip.Category),
			Priority: tipPriority(tip.Priority),
		})
	}
	for _, sig := range p.Signals {
		if strings.TrimSpace(sig.Label) == "" {
			continue
		}
		res.Signals = append(res.Signals, coach.Signal{Label: sig.Label, Value: signalLevel(sig.Value)})
	}
	return res, nil
}

func tipCategory(s string) coach.TipCategory {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "content":
		return coach.CategoryContent
	case "structure":
		return coach.CategoryStructure
	case "engagement":
		return coach.CategoryEngagement
	default:
		return coach.CategoryDelivery
	}
}

func tipPriority(s string) coach.TipPriority {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "high":
		return coach.PriorityHigh
	case "low":
		return coach.PriorityLow
	default:
		return coach.PriorityMedium
	}
}

func signalLevel(s string) coach.SignalLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "high":
		return coach.LevelHigh
	case "medium":
		return coach.LevelMedium
	case "low":
		return coach.LevelLow
	default:
		return coach.LevelUnclear
	}
}

// wavFromPCM16 wraps raw PCM16LE mono samples in a minimal RIFF/WAVE
// header so the service can decode them.
func wavFromPCM16(pcm []byte, sampleRate int) []byte {
	const headerLen = 44
	buf := make([]byte, headerLen+len(pcm))
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+len(pcm)))
	copy(buf[8:12], "WAVE")
	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(buf[22:24], 1) // mono
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(sampleRate*2))
	binary.LittleEndian.PutUint16(buf[32:34], 2)
	binary.LittleEndian.PutUint16(buf[34:36], 16)
	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(len(pcm)))
	copy(buf[headerLen:], pcm)
	return buf
}
