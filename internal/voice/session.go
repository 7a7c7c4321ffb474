package voice

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"voxmail/internal/logging"
)

const realtimeBase = "https://api.openai.com/v1"

// EphemeralToken is the short-lived client secret the browser uses to open
// its own realtime connection.
type EphemeralToken struct {
	ClientSecret struct {
		Value     string `json:"value"`
		ExpiresAt int64  `json:"expires_at"`
	} `json:"client_secret"`
}

// MintEphemeralToken creates a realtime session server-side and returns its
// client secret. The API key never reaches the client.
func MintEphemeralToken(ctx context.Context, apiKey, model, voiceName string, httpClient *http.Client) (*EphemeralToken, error) {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	body, _ := json.Marshal(map[string]any{"model": model, "voice": voiceName})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, realtimeBase+"/realtime/sessions", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("realtime session mint: %w", err)
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("realtime session mint: %s: %s", resp.Status, string(respBody))
	}
	var tok EphemeralToken
	if err := json.Unmarshal(respBody, &tok); err != nil {
		return nil, fmt.Errorf("realtime session mint parse: %w", err)
	}
	return &tok, nil
}

// RealtimeSession is a server-side websocket connection to the realtime
// speech API, used when narration is produced by the backend itself.
type RealtimeSession struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

// DialRealtime opens the websocket for the given model.
func DialRealtime(ctx context.Context, apiKey, model string) (*RealtimeSession, error) {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+apiKey)
	header.Set("OpenAI-Beta", "realtime=v1")
	url := "wss://api.openai.com/v1/realtime?model=" + model

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			body, _ := io.ReadAll(resp.Body)
			return nil, fmt.Errorf("realtime dial: %s: %s", resp.Status, string(body))
		}
		return nil, fmt.Errorf("realtime dial: %w", err)
	}
	logging.Log.WithField("model", model).Info("realtime session connected")
	return &RealtimeSession{conn: conn}, nil
}

// Speak asks the session to voice the given text.
func (s *RealtimeSession) Speak(_ context.Context, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return fmt.Errorf("realtime session closed")
	}
	msg := map[string]any{
		"type": "response.create",
		"response": map[string]any{
			"modalities":   []string{"audio", "text"},
			"instructions": "Say exactly: " + text,
		},
	}
	return s.conn.WriteJSON(msg)
}

// Close shuts the websocket down.
func (s *RealtimeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	return err
}
