package tts

import (
	"context"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/lokutor-ai/voicebridge/pkg/voicesession"
)

func TestMiniMaxTTSStreamsAudioChunks(t *testing.T) {
	pcm1 := []byte{0x01, 0x00, 0x02, 0x00}
	pcm2 := []byte{0x03, 0x00, 0x04, 0x00}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer test-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		fmt.Fprintf(w, "data: {\"data\": {\"audio\": \"%s\"}}\n", hex.EncodeToString(pcm1))
		fmt.Fprintf(w, "data: {\"extra_info\": {\"foo\": 1}}\n")
		fmt.Fprintf(w, "data: {\"data\": {\"audio\": \"%s\"}}\n", hex.EncodeToString(pcm2))
	}))
	defer server.Close()

	tts := &MiniMaxTTS{apiKey: "test-key", url: server.URL, model: "speech-02-hd", client: server.Client()}

	var got []byte
	err := tts.StreamSynthesize(context.Background(), "hello", voicesession.Voice("male-qn-qingse"), voicesession.LanguageEn, func(chunk []byte) error {
		got = append(got, chunk...)
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := append(append([]byte{}, pcm1...), pcm2...)
	if string(got) != string(want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestMiniMaxTTSErrorStatusCode(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "data: {\"base_resp\": {\"status_code\": 1002, \"status_msg\": \"rate limited\"}}\n")
	}))
	defer server.Close()

	tts := &MiniMaxTTS{apiKey: "test-key", url: server.URL, model: "speech-02-hd", client: server.Client()}

	err := tts.StreamSynthesize(context.Background(), "hello", voicesession.Voice("male-qn-qingse"), voicesession.LanguageEn, func(chunk []byte) error {
		return nil
	})
	if err == nil {
		t.Fatal("expected error from non-zero status_code")
	}
}

func TestMiniMaxTTSSkipsEmptyText(t *testing.T) {
	called := false
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer server.Close()

	tts := &MiniMaxTTS{apiKey: "test-key", url: server.URL, model: "speech-02-hd", client: server.Client()}

	err := tts.StreamSynthesize(context.Background(), "   ", voicesession.Voice("x"), voicesession.LanguageEn, func(chunk []byte) error {
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if called {
		t.Error("expected no HTTP request for blank text")
	}
}
