package sageerr

import (
	"fmt"
	"testing"
)

func TestIsClassifiesWrappedSentinel(t *testing.T) {
	err := fmt.Errorf("%w: signal-cli unreachable", Transient)
	if !Is(err, Transient) {
		t.Fatal("expected Is to match a wrapped Transient sentinel")
	}
	if Is(err, ParseFormat) {
		t.Fatal("a Transient error should not match ParseFormat")
	}
}

func TestEachKindIsDistinct(t *testing.T) {
	kinds := []Kind{Transient, ParseFormat, ToolError, PolicyDenied, StorageFatal, ConfigError}
	for i, k := range kinds {
		wrapped := fmt.Errorf("%w: detail", k)
		for j, other := range kinds {
			if i == j {
				if !Is(wrapped, other) {
					t.Errorf("kind %d should match itself", i)
				}
				continue
			}
			if Is(wrapped, other) {
				t.Errorf("kind %d should not match kind %d", i, j)
			}
		}
	}
}
