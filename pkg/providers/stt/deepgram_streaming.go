package stt

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"

	"github.com/coder/websocket"

	"github.com/lokutor-ai/voicebridge/pkg/voicesession"
)

// DeepgramStreamingSTT wraps Deepgram's live transcription endpoint, the
// concrete streaming recognizer spec.md §4.3 describes in the abstract
// ("polymorphic over the capability set {start, stop, feedAudio,
// setupHandlers}"). Each StreamTranscribe call dials one connection and holds
// the *websocket.Conn, following team-hashing-lokutor-orchestrator's
// LokutorTTS; it does not reconnect on failure — a read error ends the
// session's read loop. The partial/final/empty-text/last-partial-promoted-to-final
// semantics follow original_source/services/asr/base.py's BaseASRService
// contract, translated from vendor push-callbacks into a read loop that
// drains into a TranscriptCallback.
type DeepgramStreamingSTT struct {
	apiKey string
	host   string

	mu   sync.Mutex
	conn *websocket.Conn
}

func NewDeepgramStreamingSTT(apiKey string) *DeepgramStreamingSTT {
	return &DeepgramStreamingSTT{apiKey: apiKey, host: "api.deepgram.com"}
}

func (s *DeepgramStreamingSTT) Name() string { return "deepgram-streaming" }

// Transcribe satisfies STTProvider for callers that only need a one-shot
// batch call; it delegates to the batch adapter rather than spinning up a
// live session for a single buffer.
func (s *DeepgramStreamingSTT) Transcribe(ctx context.Context, pcm []byte, lang voicesession.Language) (string, error) {
	return NewDeepgramSTT(s.apiKey).Transcribe(ctx, pcm, lang)
}

type deepgramResult struct {
	IsFinal bool `json:"is_final"`
	Channel struct {
		Alternatives []struct {
			Transcript string `json:"transcript"`
		} `json:"alternatives"`
	} `json:"channel"`
}

// StreamTranscribe dials the live endpoint, starts a feeder goroutine that
// forwards fed PCM as binary frames, and a reader goroutine that decodes
// Deepgram's JSON results into TranscriptCallback invocations (spec.md §4.3:
// "emits two kinds of results — partial (interim) and final"). Empty-text
// results are dropped; the last non-empty partial is promoted to a final
// when the connection closes without one, so a spoken utterance is never
// silently lost.
func (s *DeepgramStreamingSTT) StreamTranscribe(ctx context.Context, lang voicesession.Language, cb voicesession.TranscriptCallback) (chan<- []byte, error) {
	u := url.URL{
		Scheme:   "wss",
		Host:     s.host,
		Path:     "/v1/listen",
		RawQuery: "model=nova-2&encoding=linear16&sample_rate=16000&channels=1&interim_results=true&smart_format=true",
	}
	if lang != "" {
		u.RawQuery += "&language=" + url.QueryEscape(string(lang))
	}

	conn, _, err := websocket.Dial(ctx, u.String(), &websocket.DialOptions{
		HTTPHeader: map[string][]string{"Authorization": {"Token " + s.apiKey}},
	})
	if err != nil {
		return nil, fmt.Errorf("deepgram streaming dial failed: %w", err)
	}

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()

	feed := make(chan []byte, 32)

	go s.feedLoop(ctx, conn, feed)
	go s.readLoop(ctx, conn, cb)

	return feed, nil
}

func (s *DeepgramStreamingSTT) feedLoop(ctx context.Context, conn *websocket.Conn, feed <-chan []byte) {
	for {
		select {
		case <-ctx.Done():
			return
		case pcm, ok := <-feed:
			if !ok {
				return
			}
			if err := conn.Write(ctx, websocket.MessageBinary, pcm); err != nil {
				return
			}
		}
	}
}

func (s *DeepgramStreamingSTT) readLoop(ctx context.Context, conn *websocket.Conn, cb voicesession.TranscriptCallback) {
	var lastPartial string

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if lastPartial != "" {
				_ = cb(lastPartial, true)
			}
			return
		}

		var result deepgramResult
		if err := json.Unmarshal(data, &result); err != nil {
			continue
		}
		if len(result.Channel.Alternatives) == 0 {
			continue
		}
		text := result.Channel.Alternatives[0].Transcript
		if text == "" {
			continue
		}

		if result.IsFinal {
			lastPartial = ""
			_ = cb(text, true)
		} else {
			lastPartial = text
			_ = cb(text, false)
		}
	}
}

func (s *DeepgramStreamingSTT) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		err := s.conn.Close(websocket.StatusNormalClosure, "")
		s.conn = nil
		return err
	}
	return nil
}

var _ voicesession.StreamingSTTProvider = (*DeepgramStreamingSTT)(nil)
var _ voicesession.Closer = (*DeepgramStreamingSTT)(nil)
