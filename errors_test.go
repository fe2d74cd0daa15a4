package bridge

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestE_KindPreservedThroughWrapping(t *testing.T) {
	inner := E(KindTransientStore, errors.New("dial tcp: connection refused"))
	wrapped := fmt.Errorf("cannot connect to store at localhost:6379 after 5 attempts: %w", inner)

	out := E(KindTransientNetwork, wrapped)

	if out.Kind != KindTransientStore {
		t.Errorf("kind = %q; want the inner %q preserved", out.Kind, KindTransientStore)
	}

	// The descriptive wrap between the two typed errors must stay on the
	// chain for logs.
	cause := errors.Unwrap(out)
	if cause == nil || !strings.Contains(cause.Error(), "after 5 attempts") {
		t.Errorf("cause = %v; want the connection context kept", cause)
	}

	if !errors.Is(out, inner) {
		t.Error("inner error lost from the chain")
	}
}

func TestE_UntypedCause(t *testing.T) {
	cause := errors.New("boom")
	out := E(KindUpstreamProtocol, cause)

	if out.Kind != KindUpstreamProtocol {
		t.Errorf("kind = %q; want %q", out.Kind, KindUpstreamProtocol)
	}

	if !errors.Is(out, cause) {
		t.Error("cause lost from the chain")
	}
}

func TestKindOf_Untyped(t *testing.T) {
	if got := KindOf(errors.New("boom")); got != "" {
		t.Errorf("KindOf = %q; want empty for untyped errors", got)
	}
}
