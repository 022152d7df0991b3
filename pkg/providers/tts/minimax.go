package tts

import (
	"bufio"
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/lokutor-ai/voicebridge/pkg/audio"
	"github.com/lokutor-ai/voicebridge/pkg/voicesession"
)

// MiniMaxTTS ports original_source/services/tts/minimax_tts.py: a
// streaming-HTTP vendor whose response body is a sequence of `data: {...}`
// lines carrying hex-encoded PCM16 audio, rather than the binary-WebSocket
// framing LokutorTTS uses. Each "data" line is one of:
//   - {"data": {"audio": "<hex>"}, ...}  one chunk of PCM16 audio
//   - {"extra_info": {...}}              trailing metadata, not audio
//   - {"base_resp": {"status_code": N, "status_msg": "..."}}  vendor error
type MiniMaxTTS struct {
	apiKey  string
	groupID string
	model   string
	url     string
	client  *http.Client
}

func NewMiniMaxTTS(apiKey, groupID string) *MiniMaxTTS {
	return &MiniMaxTTS{
		apiKey:  apiKey,
		groupID: groupID,
		model:   "speech-02-hd",
		url:     "https://api.minimax.chat/v1/t2a_v2",
		client:  http.DefaultClient,
	}
}

func (t *MiniMaxTTS) Name() string { return "minimax-tts" }

func (t *MiniMaxTTS) Synthesize(ctx context.Context, text string, voice voicesession.Voice, lang voicesession.Language) ([]byte, error) {
	var audioBuf []byte
	err := t.StreamSynthesize(ctx, text, voice, lang, func(chunk []byte) error {
		audioBuf = append(audioBuf, chunk...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return audioBuf, nil
}

type minimaxBaseResp struct {
	StatusCode int    `json:"status_code"`
	StatusMsg  string `json:"status_msg"`
}

type minimaxChunk struct {
	Data struct {
		Audio string `json:"audio"`
	} `json:"data"`
	ExtraInfo json.RawMessage  `json:"extra_info"`
	BaseResp  *minimaxBaseResp `json:"base_resp"`
}

// StreamSynthesize issues the vendor's streaming t2a_v2 request and decodes
// its line-delimited "data:" SSE-style body, forwarding each validated PCM16
// chunk to onChunk in order (spec.md §4.6).
func (t *MiniMaxTTS) StreamSynthesize(ctx context.Context, text string, voice voicesession.Voice, lang voicesession.Language, onChunk voicesession.AudioChunkCallback) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	url := t.url
	if t.groupID != "" {
		url = fmt.Sprintf("%s?GroupId=%s", url, t.groupID)
	}

	payload := map[string]interface{}{
		"model": t.model,
		"text":  text,
		"stream": true,
		"voice_setting": map[string]interface{}{
			"voice_id": string(voice),
			"speed":    1,
			"vol":      1,
			"pitch":    0,
		},
		"audio_setting": map[string]interface{}{
			"sample_rate": 16000,
			"format":      "pcm",
			"channel":     1,
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+t.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/plain, */*")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("minimax tts request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("minimax tts error (status %d)", resp.StatusCode)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var jsonBytes []byte
		switch {
		case bytes.HasPrefix(line, []byte("data: ")):
			jsonBytes = line[len("data: "):]
		case bytes.HasPrefix(line, []byte("data:")):
			jsonBytes = line[len("data:"):]
		default:
			continue
		}
		if len(jsonBytes) == 0 {
			continue
		}

		var chunk minimaxChunk
		if err := json.Unmarshal(jsonBytes, &chunk); err != nil {
			continue
		}

		if chunk.BaseResp != nil && chunk.BaseResp.StatusCode != 0 {
			return fmt.Errorf("minimax tts error: status_code=%d status_msg=%s", chunk.BaseResp.StatusCode, chunk.BaseResp.StatusMsg)
		}
		if chunk.ExtraInfo != nil {
			continue
		}
		if chunk.Data.Audio == "" {
			continue
		}

		decoded, err := hex.DecodeString(chunk.Data.Audio)
		if err != nil || len(decoded) == 0 {
			continue
		}

		decoded = audio.EnsureEvenLength(decoded)
		if len(decoded) == 0 || !audio.ValidPCM(decoded) {
			continue
		}

		if err := onChunk(decoded); err != nil {
			return err
		}
	}
	return scanner.Err()
}

var _ voicesession.TTSProvider = (*MiniMaxTTS)(nil)
