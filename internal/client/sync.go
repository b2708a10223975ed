package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"dolphdive/internal/models"
)

// Syncer is the REST surface the session reconciles against. The HTTP
// implementation talks to the messaging API; tests substitute fakes.
type Syncer interface {
	Sync(ctx context.Context, conversationWith uint, lastSyncTime *time.Time) (*models.SyncResponse, error)
	SendMessage(ctx context.Context, req *models.SendMessageRequest) (*models.SendMessageResponse, error)
}

type httpSyncer struct {
	baseURL string
	token   string
	client  *http.Client
}

func NewHTTPSyncer(baseURL, token string) Syncer {
	return &httpSyncer{
		baseURL: baseURL,
		token:   token,
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

func (s *httpSyncer) Sync(ctx context.Context, conversationWith uint, lastSyncTime *time.Time) (*models.SyncResponse, error) {
	q := url.Values{}
	q.Set("conversationWith", strconv.FormatUint(uint64(conversationWith), 10))
	if lastSyncTime != nil {
		q.Set("lastSyncTime", lastSyncTime.Format(time.RFC3339Nano))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		s.baseURL+"/messages/sync?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+s.token)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sync request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("sync request failed: status %d", resp.StatusCode)
	}

	var out models.SyncResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode sync response: %w", err)
	}
	return &out, nil
}

func (s *httpSyncer) SendMessage(ctx context.Context, sendReq *models.SendMessageRequest) (*models.SendMessageResponse, error) {
	body, err := json.Marshal(sendReq)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		s.baseURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+s.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("send request failed: status %d", resp.StatusCode)
	}

	var out models.SendMessageResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode send response: %w", err)
	}
	return &out, nil
}
