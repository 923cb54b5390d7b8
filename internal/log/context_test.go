// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package log

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
)

func TestContextWithRequestID(t *testing.T) {
	tests := []struct {
		name      string
		ctx       context.Context
		requestID string
		want      string
	}{
		{name: "nil context", ctx: nil, requestID: "test-id-123", want: "test-id-123"},
		{name: "background context", ctx: context.Background(), requestID: "req-456", want: "req-456"},
		{name: "empty request ID", ctx: context.Background(), requestID: "", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := ContextWithRequestID(tt.ctx, tt.requestID)
			if got := RequestIDFromContext(ctx); got != tt.want {
				t.Errorf("RequestIDFromContext() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGroupIDFromContext(t *testing.T) {
	if _, ok := GroupIDFromContext(context.Background()); ok {
		t.Fatal("expected no group in empty context")
	}
	ctx := ContextWithGroupID(context.Background(), 3)
	got, ok := GroupIDFromContext(ctx)
	if !ok || got != 3 {
		t.Errorf("GroupIDFromContext() = %d,%v want 3,true", got, ok)
	}
}

func TestWithContext_AddsFields(t *testing.T) {
	var buf bytes.Buffer
	base := zerolog.New(&buf)

	ctx := ContextWithRequestID(context.Background(), "rid-1")
	ctx = ContextWithGroupID(ctx, 7)

	l := WithContext(ctx, base)
	l.Info().Msg("hello")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("invalid json log line: %v", err)
	}
	if entry[FieldRequestID] != "rid-1" {
		t.Errorf("expected request_id rid-1, got %v", entry[FieldRequestID])
	}
	if entry[FieldGroupID] != float64(7) {
		t.Errorf("expected group_id 7, got %v", entry[FieldGroupID])
	}
}

func TestWithContext_NoFieldsKeepsLogger(t *testing.T) {
	var buf bytes.Buffer
	base := zerolog.New(&buf)

	l := WithContext(context.Background(), base)
	l.Info().Msg("plain")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("invalid json log line: %v", err)
	}
	if _, ok := entry[FieldRequestID]; ok {
		t.Error("request_id must not be present")
	}
}
