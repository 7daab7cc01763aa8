// Package genai provides the OpenAI-backed consult completion and speech
// synthesis used by the triage engine.
package genai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BTreeMap/TriagePipe/internal/models"
	"github.com/BTreeMap/TriagePipe/internal/speech"
	"github.com/BTreeMap/TriagePipe/internal/tone"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// Defaults used when no option overrides them.
const (
	DefaultModel       = "gpt-4o-mini"
	DefaultTTSModel    = "gpt-4o-mini-tts"
	DefaultVoice       = "alloy"
	DefaultTemperature = 0.3
	DefaultMaxTokens   = 700
)

// ErrNoChoicesReturned is returned when the model answers with no choices.
var ErrNoChoicesReturned = errors.New("no choices returned")

// chatService defines minimal interface for chat completions.
type chatService interface {
	Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error)
}

// speechService defines minimal interface for text-to-speech.
type speechService interface {
	Create(ctx context.Context, params openai.AudioSpeechNewParams) ([]byte, error)
}

type chatAdapter struct {
	svc *openai.ChatCompletionService
}

func (a chatAdapter) Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error) {
	resp, err := a.svc.New(ctx, params)
	if err != nil {
		return openai.ChatCompletion{}, err
	}
	return *resp, nil
}

type speechAdapter struct {
	svc *openai.AudioSpeechService
}

func (a speechAdapter) Create(ctx context.Context, params openai.AudioSpeechNewParams) ([]byte, error) {
	resp, err := a.svc.New(ctx, params)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

// Client wraps the OpenAI chat and speech services.
type Client struct {
	chat        chatService
	speech      speechService
	model       string
	ttsModel    string
	voice       string
	temperature float64
	maxTokens   int
	debugMode   bool
	stateDir    string
}

// Opts holds configuration for the client.
type Opts struct {
	APIKey      string
	Model       string
	TTSModel    string
	Voice       string
	Temperature float64
	MaxTokens   int
	DebugMode   bool
	StateDir    string
}

// Option defines a function that configures Opts.
type Option func(*Opts)

// WithAPIKey sets the OpenAI API key.
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// WithModel sets the chat model used for consults.
func WithModel(model string) Option {
	return func(o *Opts) { o.Model = model }
}

// WithTTSModel sets the speech synthesis model.
func WithTTSModel(model string) Option {
	return func(o *Opts) { o.TTSModel = model }
}

// WithVoice sets the default synthesis voice.
func WithVoice(voice string) Option {
	return func(o *Opts) { o.Voice = voice }
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) Option {
	return func(o *Opts) { o.Temperature = t }
}

// WithMaxTokens sets the completion token limit.
func WithMaxTokens(n int) Option {
	return func(o *Opts) { o.MaxTokens = n }
}

// WithDebugMode writes every request and response under <stateDir>/debug.
func WithDebugMode(enabled bool) Option {
	return func(o *Opts) { o.DebugMode = enabled }
}

// WithStateDir sets the directory used for debug dumps.
func WithStateDir(dir string) Option {
	return func(o *Opts) { o.StateDir = dir }
}

// NewClient initializes a new GenAI client.
func NewClient(opts ...Option) (*Client, error) {
	cfg := Opts{
		Model:       DefaultModel,
		TTSModel:    DefaultTTSModel,
		Voice:       DefaultVoice,
		Temperature: DefaultTemperature,
		MaxTokens:   DefaultMaxTokens,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("OpenAI API key not set")
	}

	cli := openai.NewClient(option.WithAPIKey(cfg.APIKey))
	slog.Debug("genai.NewClient: client created", "model", cfg.Model, "ttsModel", cfg.TTSModel, "debug", cfg.DebugMode)
	return &Client{
		chat:        chatAdapter{svc: &cli.Chat.Completions},
		speech:      speechAdapter{svc: &cli.Audio.Speech},
		model:       cfg.Model,
		ttsModel:    cfg.TTSModel,
		voice:       cfg.Voice,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		debugMode:   cfg.DebugMode,
		stateDir:    cfg.StateDir,
	}, nil
}

// GenerateWithMessages runs a chat completion over the given conversation.
// Failures are classified with the speech error taxonomy so callers can decide
// whether to retry.
func (c *Client) GenerateWithMessages(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion) (string, error) {
	params := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(c.model),
		Messages:    messages,
		Temperature: openai.Float(c.temperature),
	}
	if c.maxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(c.maxTokens))
	}

	start := time.Now()
	resp, err := c.chat.Create(ctx, params)
	if err != nil {
		slog.Error("Client.GenerateWithMessages: completion failed", "model", c.model, "error", err)
		return "", classify(err)
	}
	c.writeDebug("GenerateWithMessages", params, resp)
	if len(resp.Choices) == 0 {
		return "", ErrNoChoicesReturned
	}
	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	slog.Debug("Client.GenerateWithMessages: completion received", "model", c.model, "duration", time.Since(start), "length", len(content))
	return content, nil
}

// Synthesize implements speech.Synthesizer on the OpenAI speech endpoint. The
// tone selects speaking instructions and the voice stability maps to speed.
func (c *Client) Synthesize(ctx context.Context, req speech.Request) ([]byte, error) {
	if c.speech == nil {
		return nil, speech.ErrCapabilityUnavailable
	}
	if strings.TrimSpace(req.Text) == "" {
		return nil, fmt.Errorf("empty synthesis text")
	}
	voice := req.VoiceID
	if voice == "" {
		voice = c.voice
	}
	params := openai.AudioSpeechNewParams{
		Input:          req.Text,
		Model:          openai.SpeechModel(c.ttsModel),
		Voice:          openai.AudioSpeechNewParamsVoice(voice),
		ResponseFormat: openai.AudioSpeechNewParamsResponseFormatMP3,
		Speed:          openai.Float(SpeedFor(req.Params)),
	}
	if instructions := tone.SpeakingInstructions(req.Tone); instructions != "" && c.ttsModel != string(openai.SpeechModelTTS1) {
		params.Instructions = openai.String(instructions)
	}

	audio, err := c.speech.Create(ctx, params)
	if err != nil {
		slog.Warn("Client.Synthesize: synthesis failed", "model", c.ttsModel, "tone", req.Tone, "error", err)
		return nil, classify(err)
	}
	slog.Debug("Client.Synthesize: audio received", "tone", req.Tone, "locale", req.Locale, "bytes", len(audio))
	return audio, nil
}

// SpeedFor maps voice stability to a speaking speed: steadier voices speak a
// little slower. The result stays within [0.85, 1.1].
func SpeedFor(p models.VoiceParams) float64 {
	speed := 1.0 - 0.5*(p.Stability-tone.VoiceFor(models.ToneProfessional).Stability)
	switch {
	case speed < 0.85:
		return 0.85
	case speed > 1.1:
		return 1.1
	default:
		return speed
	}
}

// classify wraps an OpenAI failure with the matching speech error kind.
func classify(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case http.StatusTooManyRequests:
			return fmt.Errorf("%w: %v", speech.ErrRateLimited, err)
		case http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
			return fmt.Errorf("%w: %v", speech.ErrCapabilityUnavailable, err)
		}
	}
	return fmt.Errorf("%w: %v", speech.ErrTransient, err)
}

type debugEntry struct {
	Timestamp time.Time   `json:"timestamp"`
	Method    string      `json:"method"`
	Model     string      `json:"model"`
	Params    interface{} `json:"params"`
	Response  interface{} `json:"response"`
}

// writeDebug dumps a call to <stateDir>/debug when debug mode is on. Failures are
// logged and otherwise ignored.
func (c *Client) writeDebug(method string, params, response interface{}) {
	if !c.debugMode || c.stateDir == "" {
		return
	}
	dir := filepath.Join(c.stateDir, "debug")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		slog.Warn("Client.writeDebug: cannot create debug dir", "dir", dir, "error", err)
		return
	}
	now := time.Now()
	data, err := json.MarshalIndent(debugEntry{Timestamp: now, Method: method, Model: c.model, Params: params, Response: response}, "", "  ")
	if err != nil {
		slog.Warn("Client.writeDebug: marshal failed", "error", err)
		return
	}
	name := filepath.Join(dir, fmt.Sprintf("%s_%s.json", now.UTC().Format("20060102T150405.000000000"), method))
	if err := os.WriteFile(name, data, 0o600); err != nil {
		slog.Warn("Client.writeDebug: write failed", "file", name, "error", err)
	}
}
