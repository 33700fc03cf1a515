package siem

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/brevanhowe/govern-core/pkg/model"
)

// hecPayload is the generic HEC-style envelope:
// {time, event, source, sourcetype, index, host}.
type hecPayload struct {
	Time       float64            `json:"time"`
	Event      model.AuditEvent   `json:"event"`
	Source     string             `json:"source"`
	SourceType string             `json:"sourcetype"`
	Index      string             `json:"index,omitempty"`
	Host       string             `json:"host,omitempty"`
}

// HECSink forwards batches to a generic HEC-style HTTP collector endpoint
// (one JSON object per event, epoch-seconds timestamps).
type HECSink struct {
	Endpoint         string
	AuthHeader       string // e.g. "Splunk <token>"
	Source           string
	SourceType       string
	Index            string
	Host             string
	MinCompressBytes int
	Client           *http.Client
}

// NewHECSink constructs an HECSink with sane defaults and its own HTTP
// client — no process-wide shared client.
func NewHECSink(endpoint, authHeader string) *HECSink {
	host, _ := os.Hostname()
	return &HECSink{
		Endpoint:         endpoint,
		AuthHeader:       authHeader,
		Source:           "govern-core",
		SourceType:       "gateway:audit",
		Host:             host,
		MinCompressBytes: 8 * 1024,
		Client:           &http.Client{Timeout: 10 * time.Second},
	}
}

func (s *HECSink) Name() string { return "hec:" + s.Endpoint }

func (s *HECSink) Send(ctx context.Context, batch []model.AuditEvent) error {
	payloads := make([]hecPayload, len(batch))
	for i, e := range batch {
		payloads[i] = hecPayload{
			Time:       float64(e.Timestamp.UnixNano()) / 1e9,
			Event:      e,
			Source:     s.Source,
			SourceType: s.SourceType,
			Index:      s.Index,
			Host:       s.Host,
		}
	}

	body, gzipped, err := EncodePayload(payloads, s.MinCompressBytes)
	if err != nil {
		return fmt.Errorf("hec sink: encode: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.Endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("hec sink: request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if gzipped {
		req.Header.Set("Content-Encoding", "gzip")
	}
	if s.AuthHeader != "" {
		req.Header.Set("Authorization", s.AuthHeader)
	}

	resp, err := s.Client.Do(req)
	if err != nil {
		return fmt.Errorf("hec sink: send: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return fmt.Errorf("hec sink: server error %d", resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("hec sink: terminal client error %d", resp.StatusCode)
	}
	return nil
}

// tagLogPayload is the tag-based-log envelope:
// {ddsource, ddtags, service, message, timestamp_ms, ...}.
type tagLogPayload struct {
	DDSource       string           `json:"ddsource"`
	DDTags         string           `json:"ddtags"`
	Service        string           `json:"service"`
	Message        string           `json:"message"`
	TimestampMS    int64            `json:"timestamp"`
	Hostname       string           `json:"hostname,omitempty"`
	Payload        model.AuditEvent `json:"audit"`
	EventID        string           `json:"event_id"`
	EventType      string           `json:"event_type"`
	Severity       string           `json:"severity"`
	PrincipalEmail string           `json:"principal_email,omitempty"`
}

// TagLogSink forwards batches to a tag-based log intake endpoint
// (epoch-millisecond timestamps, k:v comma-joined tags).
type TagLogSink struct {
	Endpoint         string
	APIKeyHeader     string
	Service          string
	Tags             map[string]string
	MinCompressBytes int
	Client           *http.Client
}

// NewTagLogSink constructs a TagLogSink.
func NewTagLogSink(endpoint, apiKeyHeader, service string, tags map[string]string) *TagLogSink {
	return &TagLogSink{
		Endpoint:         endpoint,
		APIKeyHeader:     apiKeyHeader,
		Service:          service,
		Tags:             tags,
		MinCompressBytes: 8 * 1024,
		Client:           &http.Client{Timeout: 10 * time.Second},
	}
}

func (s *TagLogSink) Name() string { return "taglog:" + s.Endpoint }

func (s *TagLogSink) Send(ctx context.Context, batch []model.AuditEvent) error {
	host, _ := os.Hostname()
	ddtags := joinTags(s.Tags)

	payloads := make([]tagLogPayload, len(batch))
	for i, e := range batch {
		eventID := e.ID
		if eventID == "" {
			eventID = uuid.NewString()
		}
		payloads[i] = tagLogPayload{
			DDSource:       "govern-core",
			DDTags:         ddtags,
			Service:        s.Service,
			Message:        fmt.Sprintf("%s decision=%s", e.EventType, e.Decision),
			TimestampMS:    e.Timestamp.UnixMilli(),
			Hostname:       host,
			Payload:        e,
			EventID:        eventID,
			EventType:      e.EventType,
			Severity:       string(e.Severity),
			PrincipalEmail: e.PrincipalEmail,
		}
	}

	body, gzipped, err := EncodePayload(payloads, s.MinCompressBytes)
	if err != nil {
		return fmt.Errorf("tag log sink: encode: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.Endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("tag log sink: request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if gzipped {
		req.Header.Set("Content-Encoding", "gzip")
	}
	if s.APIKeyHeader != "" {
		req.Header.Set("DD-API-KEY", s.APIKeyHeader)
	}

	resp, err := s.Client.Do(req)
	if err != nil {
		return fmt.Errorf("tag log sink: send: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return fmt.Errorf("tag log sink: server error %d", resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("tag log sink: terminal client error %d", resp.StatusCode)
	}
	return nil
}

func joinTags(tags map[string]string) string {
	parts := make([]string, 0, len(tags))
	for k, v := range tags {
		parts = append(parts, k+":"+v)
	}
	return strings.Join(parts, ",")
}
