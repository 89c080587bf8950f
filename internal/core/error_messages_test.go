package core

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestMapError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode string
	}{
		{name: "nil error returns empty", err: nil, wantCode: ""},
		{name: "selection error", err: &SelectionError{Input: "a-b", Reason: "not a number"}, wantCode: "SEL001"},
		{name: "page beyond document", err: &SelectionError{Input: "9", Reason: "page out of range: 9 > 3"}, wantCode: "SEL002"},
		{name: "extraction error", err: &ExtractionError{Page: 2, Err: errors.New("boom")}, wantCode: "EXT001"},
		{name: "wrapped extraction error", err: fmt.Errorf("run: %w", &ExtractionError{Page: 2, Err: errors.New("boom")}), wantCode: "EXT001"},
		{name: "document not found", err: fmt.Errorf("open x.pdf: %w", ErrDocumentNotFound), wantCode: "DOC001"},
		{name: "document unreadable", err: ErrDocumentUnreadable, wantCode: "DOC002"},
		{name: "busy", err: ErrTooManyRuns, wantCode: "RUN001"},
		{name: "run not found", err: ErrRunNotFound, wantCode: "RUN002"},
		{name: "cancelled", err: context.Canceled, wantCode: "RUN003"},
		{name: "deadline", err: context.DeadlineExceeded, wantCode: "RUN004"},
		{name: "no artifacts", err: ErrArtifactsNotFound, wantCode: "ART001"},
		{name: "invalid mode text", err: errors.New(`invalid detection mode "x"`), wantCode: "EXT002"},
		{name: "rate limit text", err: errors.New("rate limit exceeded"), wantCode: "RATE001"},
		{name: "unknown falls back", err: errors.New("something odd"), wantCode: "ERR000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MapError(tt.err)
			if got.Code != tt.wantCode {
				t.Errorf("MapError(%v).Code = %q, want %q", tt.err, got.Code, tt.wantCode)
			}
		})
	}
}

func TestFormatUserError(t *testing.T) {
	if got := FormatUserError(nil); got != "" {
		t.Errorf("FormatUserError(nil) = %q, want empty", got)
	}

	got := FormatUserError(ErrTooManyRuns)
	want := "Too many extractions in progress (Code: RUN001). Please wait a moment and try again"
	if got != want {
		t.Errorf("FormatUserError = %q, want %q", got, want)
	}
}

func TestIsUserFacing(t *testing.T) {
	if IsUserFacing(nil) {
		t.Error("nil should not be user facing")
	}
	if !IsUserFacing(ErrRunNotFound) {
		t.Error("ErrRunNotFound should be user facing")
	}
	if IsUserFacing(errors.New("mystery")) {
		t.Error("unknown error should not be user facing")
	}
}

func TestMessageForCode(t *testing.T) {
	for _, code := range []string{"SEL001", "SEL002", "EXT001", "DOC003", "RUN003", "ART001", "RATE001"} {
		if got := MessageForCode(code); got.Code != code {
			t.Errorf("MessageForCode(%q).Code = %q", code, got.Code)
		}
	}
	if got := MessageForCode("NOPE"); got.Code != "ERR000" {
		t.Errorf("unknown code mapped to %q, want ERR000", got.Code)
	}
}
