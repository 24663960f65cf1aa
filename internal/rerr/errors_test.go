package rerr

import (
	"errors"
	"fmt"
	"testing"
)

func TestCodeOf(t *testing.T) {
	base := errors.New("socket closed")
	err := Embedding(base)

	if CodeOf(err) != CodeEmbeddingFailed {
		t.Errorf("CodeOf = %q, want %q", CodeOf(err), CodeEmbeddingFailed)
	}
	if !errors.Is(err, base) {
		t.Errorf("cause not unwrappable")
	}

	// The code survives further wrapping.
	wrapped := fmt.Errorf("handling request: %w", err)
	if CodeOf(wrapped) != CodeEmbeddingFailed {
		t.Errorf("CodeOf through wrap = %q", CodeOf(wrapped))
	}

	if CodeOf(errors.New("plain")) != "" {
		t.Errorf("plain error should carry no code")
	}
}

func TestErrorMessage(t *testing.T) {
	err := New(CodeInvalidRequest, "query required", nil)
	if err.Error() != "INVALID_REQUEST: query required" {
		t.Errorf("Error() = %q", err.Error())
	}
}
