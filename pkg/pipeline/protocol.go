// Package pipeline implements the three-stage recognize→generate→synthesize
// pipeline (spec.md §4.4) and its writer/out-queue (spec.md §4.7). It is a
// direct translation of original_source/websocket/pipeline.py's
// PipelineHandler — asyncio.Queue becomes a Go channel, asyncio.Event
// becomes a chan struct{} completion signal, and raised-CancelledError
// becomes explicit context.Context cancellation per DESIGN NOTES §9.
package pipeline

// MessageType enumerates the server→client JSON message catalog (spec.md §6).
type MessageType string

const (
	MsgStatus                MessageType = "status"
	MsgPartialTranscript     MessageType = "partial_transcript"
	MsgFinalTranscript       MessageType = "final_transcript"
	MsgLLMStatus             MessageType = "llm_status"
	MsgLLMResponse           MessageType = "llm_response"
	MsgSubtitle              MessageType = "subtitle"
	MsgTTSStart              MessageType = "tts_start"
	MsgTTSEnd                MessageType = "tts_end"
	MsgTTSStop               MessageType = "tts_stop"
	MsgStopAcknowledged      MessageType = "stop_acknowledged"
	MsgInterruptAcknowledged MessageType = "interrupt_acknowledged"
	MsgError                 MessageType = "error"
)

// Message is the JSON envelope sent on every text frame. All fields besides
// Type/SessionID are optional and only populated for the message types
// that use them (spec.md §6 catalog).
type Message struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`

	Status         string `json:"status,omitempty"`
	Content        string `json:"content,omitempty"`
	IsComplete     *bool  `json:"is_complete,omitempty"`
	WasInterrupted bool   `json:"was_interrupted,omitempty"`

	Format  string `json:"format,omitempty"`
	Text    string `json:"text,omitempty"`
	IsFirst bool   `json:"is_first,omitempty"`

	QueuesCleared bool `json:"queues_cleared,omitempty"`

	Message string `json:"message,omitempty"`
}

func boolPtr(b bool) *bool { return &b }

// interruptedReplyText is the canonical reply text sent when an utterance
// is cut short by an interrupt (spec.md §8 scenario S3). The source has
// this literal in Chinese ("对话被中断"); spec.md §9's open question on the
// `was_interrupted` bool/True typo asks us to pick one canonical spelling —
// we always emit the Go bool `true` and this fixed string.
const interruptedReplyText = "对话被中断"
