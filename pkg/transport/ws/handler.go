// Package ws is the connection handler (spec.md §4.1): it upgrades an HTTP
// request to a WebSocket, owns one voicesession.Session and one
// pipeline.Pipeline for the life of the connection, and translates between
// wire frames and the pipeline's Go-native calls. Grounded on
// hubenschmidt-asr-llm-tts's services/gateway/internal/ws/handler.go for the
// read-loop/dispatch shape, on team-hashing-lokutor-orchestrator's use of
// github.com/coder/websocket for the transport library, and on
// original_source/websocket/handler.py for the exact command semantics.
package ws

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/lokutor-ai/voicebridge/pkg/metrics"
	"github.com/lokutor-ai/voicebridge/pkg/pipeline"
	"github.com/lokutor-ai/voicebridge/pkg/registry"
	"github.com/lokutor-ai/voicebridge/pkg/voicesession"
)

// minPacketLen is the smallest accepted binary frame: an 8-byte header plus
// at least one PCM16 sample (spec.md §4.1: "Packets shorter than 10 bytes
// are discarded").
const minPacketLen = 10

const headerLen = 8

// audioStatusFlags mirrors the inbound packet's 4-byte status-flags field.
// The source never documents individual bits beyond "non-zero means
// something"; we preserve the field but don't yet interpret it (spec.md §9
// open questions: treat ambiguity by preserving the wire shape, not
// inventing semantics).
type audioStatusFlags uint32

// ProviderFactory constructs a fresh ASR adapter for a session, used both at
// connect time and by the `reset` command (original_source/websocket/handler.py
// _setup_asr_service / _handle_reset_command).
type ProviderFactory func() (voicesession.StreamingSTTProvider, error)

// Handler upgrades connections and runs sessions. One Handler serves every
// connection for the process.
type Handler struct {
	registry     *registry.Registry
	newSTT       ProviderFactory
	llm          voicesession.LLMProvider
	tts          voicesession.TTSProvider
	newVAD       func() voicesession.VADProvider
	cfg          voicesession.Config
	logger       voicesession.Logger
	acceptOrigin func(*http.Request) bool
}

func NewHandler(reg *registry.Registry, newSTT ProviderFactory, llm voicesession.LLMProvider, tts voicesession.TTSProvider, newVAD func() voicesession.VADProvider, cfg voicesession.Config, logger voicesession.Logger) *Handler {
	if logger == nil {
		logger = voicesession.NoOpLogger{}
	}
	return &Handler{registry: reg, newSTT: newSTT, llm: llm, tts: tts, newVAD: newVAD, cfg: cfg, logger: logger}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.logger.Error("websocket accept failed", "error", err)
		return
	}
	defer conn.Close(websocket.StatusInternalError, "")

	h.runSession(r.Context(), conn)
}

// connTransport adapts *websocket.Conn to pipeline.Transport.
type connTransport struct {
	conn *websocket.Conn
}

func (t connTransport) WriteText(ctx context.Context, data []byte) error {
	return t.conn.Write(ctx, websocket.MessageText, data)
}

func (t connTransport) WriteBinary(ctx context.Context, data []byte) error {
	return t.conn.Write(ctx, websocket.MessageBinary, data)
}

func (h *Handler) runSession(parent context.Context, conn *websocket.Conn) {
	sessionID := uuid.NewString()
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	stt, err := h.newSTT()
	if err != nil {
		h.logger.Error("create ASR service failed", "session_id", sessionID, "error", err)
		_ = conn.Close(websocket.StatusInternalError, "asr unavailable")
		return
	}

	vad := h.newVAD()
	sess := voicesession.New(sessionID, stt, h.llm, h.tts, vad, h.cfg, h.logger)

	writer := pipeline.NewWriter(connTransport{conn: conn}, h.logger)
	pipe := pipeline.New(sess, writer, h.logger)
	pipe.Start()

	h.registry.Put(sess, closerFunc(func() {
		pipe.Close()
		_ = conn.Close(websocket.StatusNormalClosure, "session reaped")
	}))
	defer h.registry.Remove(sessionID)
	defer pipe.Close()

	metrics.SessionsTotal.Inc()
	metrics.SessionsActive.Inc()
	defer metrics.SessionsActive.Dec()

	conv := &sessionConv{
		handler: h,
		sess:    sess,
		pipe:    pipe,
		writer:  writer,
		vad:     vad,
		sttLock: make(chan struct{}, 1),
	}
	conv.sttLock <- struct{}{}
	conv.stt = stt

	if err := conv.startASR(ctx); err != nil {
		h.logger.Error("start recognition failed", "session_id", sessionID, "error", err)
	}

	h.logger.Info("session started", "session_id", sessionID)
	conv.readLoop(ctx, conn)
	h.logger.Info("session ended", "session_id", sessionID)
}

type closerFunc func()

func (f closerFunc) Close() { f() }

// sessionConv holds the per-connection state that the read loop and command
// handlers share — the Go analogue of handler.py's closures over
// `asr_service`/`session_id` (original_source/websocket/handler.py).
type sessionConv struct {
	handler *Handler
	sess    *voicesession.Session
	pipe    *pipeline.Pipeline
	writer  *pipeline.Writer
	vad     voicesession.VADProvider

	sttLock chan struct{} // 1-buffered mutex guarding stt swaps (reset command)
	stt     voicesession.StreamingSTTProvider
	feed    chan<- []byte
}

func (c *sessionConv) startASR(ctx context.Context) error {
	<-c.sttLock
	defer func() { c.sttLock <- struct{}{} }()

	feed, err := c.stt.StreamTranscribe(ctx, c.sess.CurrentLanguage(), c.onTranscript)
	if err != nil {
		return err
	}
	c.feed = feed
	c.sess.SetState(voicesession.StateListening)
	c.writer.SendMessage(pipeline.Message{Type: pipeline.MsgStatus, SessionID: c.sess.ID, Status: "listening"}, 0)
	return nil
}

func (c *sessionConv) onTranscript(transcript string, isFinal bool) error {
	if transcript == "" {
		return nil
	}
	c.sess.Touch()
	if !isFinal {
		c.sess.SetState(voicesession.StateCapturing)
		c.writer.SendMessage(pipeline.Message{Type: pipeline.MsgPartialTranscript, SessionID: c.sess.ID, Content: transcript}, 0)
		return nil
	}
	c.writer.SendMessage(pipeline.Message{Type: pipeline.MsgFinalTranscript, SessionID: c.sess.ID, Content: transcript}, 0)
	c.pipe.PushFinalTranscript(transcript)
	return nil
}

func (c *sessionConv) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		msgType, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		c.sess.Touch()

		switch msgType {
		case websocket.MessageBinary:
			c.handleAudio(data)
		case websocket.MessageText:
			c.handleCommand(ctx, data)
		}
	}
}

func (c *sessionConv) handleAudio(data []byte) {
	if len(data) < minPacketLen {
		return
	}
	_ = binary.LittleEndian.Uint32(data[0:4]) // client timestamp, unused server-side
	_ = audioStatusFlags(binary.LittleEndian.Uint32(data[4:8]))
	pcm := data[headerLen:]

	metrics.AudioPacketsIn.Inc()

	if es := c.pipe.EchoSuppressor(); es != nil && es.IsEcho(pcm) {
		return
	}

	if c.vad != nil {
		event, err := c.vad.Process(pcm)
		if err == nil && event != nil && event.Type == voicesession.VADBargeIn && c.sess.Replying() {
			c.handler.logger.Info("barge-in detected", "session_id", c.sess.ID)
			metrics.BargeIns.Inc()
			c.vad.Reset()
			c.pipe.Interrupt("vad")
			c.writer.SendMessage(pipeline.Message{Type: pipeline.MsgTTSStop, SessionID: c.sess.ID}, 0)
		}
	}

	if c.feed != nil {
		select {
		case c.feed <- pcm:
		default:
			// Backed-up recognizer: drop rather than block the read loop
			// (spec.md §5: "no long synchronous CPU work" at this boundary).
		}
	}
}

type command struct {
	Type string `json:"type"`
}

func (c *sessionConv) handleCommand(ctx context.Context, data []byte) {
	var cmd command
	if err := json.Unmarshal(data, &cmd); err != nil {
		c.writer.SendError(c.sess.ID, "invalid command: "+err.Error())
		return
	}

	switch cmd.Type {
	case "start":
		if c.feed == nil {
			if err := c.startASR(ctx); err != nil {
				c.writer.SendError(c.sess.ID, "failed to start recognition: "+err.Error())
			}
		}
	case "stop":
		c.handleStop(ctx)
	case "reset":
		c.handleReset(ctx)
	case "interrupt":
		c.handleInterrupt()
	default:
		c.writer.SendError(c.sess.ID, "unknown command type: "+cmd.Type)
	}
}

func (c *sessionConv) handleStop(ctx context.Context) {
	<-c.sttLock
	c.stopASRLocked()
	c.sttLock <- struct{}{}

	c.sess.RequestInterrupt()
	c.pipe.Interrupt("stop")
	c.sess.SetState(voicesession.StateIdle)
	c.writer.SendMessage(pipeline.Message{Type: pipeline.MsgStatus, SessionID: c.sess.ID, Status: "stopped"}, 0)
	c.writer.SendMessage(pipeline.Message{
		Type:          pipeline.MsgStopAcknowledged,
		SessionID:     c.sess.ID,
		Message:       "all processing stopped",
		QueuesCleared: true,
	}, 0)
}

func (c *sessionConv) handleReset(ctx context.Context) {
	<-c.sttLock
	c.stopASRLocked()
	c.sttLock <- struct{}{}

	c.sess.RequestInterrupt()
	c.pipe.Interrupt("reset")

	time.Sleep(1 * time.Second)

	stt, err := c.handler.newSTT()
	if err != nil {
		c.writer.SendError(c.sess.ID, "failed to create new ASR service: "+err.Error())
		return
	}
	<-c.sttLock
	c.stt = stt
	c.sttLock <- struct{}{}

	if err := c.startASR(ctx); err != nil {
		c.writer.SendError(c.sess.ID, "failed to restart recognition: "+err.Error())
	}
}

// stopASRLocked stops the current recognizer session and clears the feed,
// so its goroutines/connection don't outlive the command that ended the
// session (spec.md §4.1: "stop ASR recognition" / "recreate the ASR
// adapter"). Callers must hold sttLock.
func (c *sessionConv) stopASRLocked() {
	if closer, ok := c.stt.(voicesession.Closer); ok {
		if err := closer.Close(); err != nil {
			c.handler.logger.Warn("closing ASR service failed", "session_id", c.sess.ID, "error", err)
		}
	}
	c.feed = nil
}

func (c *sessionConv) handleInterrupt() {
	c.pipe.Interrupt("command")
	c.writer.SendMessage(pipeline.Message{Type: pipeline.MsgInterruptAcknowledged, SessionID: c.sess.ID}, 0)
}
