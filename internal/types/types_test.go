// ABOUTME: Unit tests for shared daemon types.
// ABOUTME: Covers the Falco payload container-id fallback chain and field extraction.

package types

import (
	"encoding/json"
	"testing"
)

func TestFalcoPayloadContainerID(t *testing.T) {
	t.Run("prefers container.id output field", func(t *testing.T) {
		p := &FalcoPayload{
			OutputFields: map[string]any{"container.id": "abc", "containerId": "def"},
			Container:    &FalcoContainer{ID: "ghi"},
		}
		if got := p.ContainerID(); got != "abc" {
			t.Errorf("Expected abc, got %q", got)
		}
	})

	t.Run("falls back to containerId", func(t *testing.T) {
		p := &FalcoPayload{
			OutputFields: map[string]any{"containerId": "def"},
		}
		if got := p.ContainerID(); got != "def" {
			t.Errorf("Expected def, got %q", got)
		}
	})

	t.Run("falls back to container object", func(t *testing.T) {
		p := &FalcoPayload{Container: &FalcoContainer{ID: "ghi"}}
		if got := p.ContainerID(); got != "ghi" {
			t.Errorf("Expected ghi, got %q", got)
		}
	})

	t.Run("falls back to context object", func(t *testing.T) {
		p := &FalcoPayload{Context: &FalcoContext{ContainerID: "jkl"}}
		if got := p.ContainerID(); got != "jkl" {
			t.Errorf("Expected jkl, got %q", got)
		}
	})

	t.Run("non-string field values are ignored", func(t *testing.T) {
		p := &FalcoPayload{
			OutputFields: map[string]any{"container.id": 42},
			Container:    &FalcoContainer{ID: "ghi"},
		}
		if got := p.ContainerID(); got != "ghi" {
			t.Errorf("Expected ghi, got %q", got)
		}
	})

	t.Run("empty payload yields empty id", func(t *testing.T) {
		if got := (&FalcoPayload{}).ContainerID(); got != "" {
			t.Errorf("Expected empty, got %q", got)
		}
	})
}

func TestFalcoPayloadProcessAndUser(t *testing.T) {
	p := &FalcoPayload{
		OutputFields: map[string]any{"proc.name": "bash", "user.name": "root"},
	}
	if p.ProcessName() != "bash" || p.UserName() != "root" {
		t.Errorf("Field extraction failed: %q %q", p.ProcessName(), p.UserName())
	}

	empty := &FalcoPayload{}
	if empty.ProcessName() != "" || empty.UserName() != "" {
		t.Error("Missing output fields must yield empty strings")
	}
}

func TestAlertRecordOmitsEmptyFields(t *testing.T) {
	data, err := json.Marshal(&AlertRecord{ID: "a1", Source: "daemon"})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var probe map[string]any
	if err := json.Unmarshal(data, &probe); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	for _, field := range []string{"rule", "container", "trivy", "action_taken", "gate", "risks"} {
		if _, present := probe[field]; present {
			t.Errorf("Empty field %q must be omitted: %s", field, data)
		}
	}
}
