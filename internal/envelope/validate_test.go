package envelope

import (
	"encoding/json"
	"errors"
	"testing"
)

func mustValidator(t *testing.T) *Validator {
	t.Helper()
	v, err := NewValidator()
	if err != nil {
		t.Fatalf("NewValidator: %v", err)
	}
	return v
}

func validIngestJSON(t *testing.T, mutate func(m map[string]interface{})) []byte {
	t.Helper()
	m := map[string]interface{}{
		"schema_version": "ingest.v1",
		"source": map[string]interface{}{
			"channel":           "telegram",
			"provider":          "telegram",
			"endpoint_identity": "telegram:bot:b1",
		},
		"event": map[string]interface{}{
			"external_event_id": "42",
			"observed_at":       "2026-03-05T14:30:00Z",
		},
		"sender": map[string]interface{}{"identity": "user:123"},
		"payload": map[string]interface{}{
			"normalized_text": "Log my weight 75 kg",
		},
		"control": map[string]interface{}{
			"policy_tier":    "default",
			"ingestion_tier": "metadata",
		},
	}
	if mutate != nil {
		mutate(m)
	}
	data, err := json.Marshal(m)
	if err != nil {
		t.Fatalf("marshal fixture: %v", err)
	}
	return data
}

func TestValidateIngest_Valid(t *testing.T) {
	v := mustValidator(t)
	env, err := v.ValidateIngest(validIngestJSON(t, nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if env.Payload.NormalizedText != "Log my weight 75 kg" {
		t.Fatalf("unexpected normalized_text: %q", env.Payload.NormalizedText)
	}
}

func TestValidateIngest_FullTierRequiresRaw(t *testing.T) {
	v := mustValidator(t)
	data := validIngestJSON(t, func(m map[string]interface{}) {
		m["control"].(map[string]interface{})["ingestion_tier"] = "full"
	})
	_, err := v.ValidateIngest(data)
	if !errors.Is(err, ErrInvalidEnvelope) {
		t.Fatalf("expected ErrInvalidEnvelope, got %v", err)
	}
}

func TestValidateIngest_MetadataTierRejectsRaw(t *testing.T) {
	v := mustValidator(t)
	data := validIngestJSON(t, func(m map[string]interface{}) {
		m["payload"].(map[string]interface{})["raw"] = map[string]interface{}{"x": 1}
	})
	_, err := v.ValidateIngest(data)
	if !errors.Is(err, ErrInvalidEnvelope) {
		t.Fatalf("expected ErrInvalidEnvelope, got %v", err)
	}
}

func TestValidateIngest_BadChannelProviderPair(t *testing.T) {
	v := mustValidator(t)
	data := validIngestJSON(t, func(m map[string]interface{}) {
		m["source"].(map[string]interface{})["provider"] = "imap"
	})
	_, err := v.ValidateIngest(data)
	if err == nil {
		t.Fatalf("expected error for telegram/imap pair")
	}
}

func TestValidateIngest_EmptyNormalizedTextRejected(t *testing.T) {
	v := mustValidator(t)
	data := validIngestJSON(t, func(m map[string]interface{}) {
		m["payload"].(map[string]interface{})["normalized_text"] = ""
	})
	if _, err := v.ValidateIngest(data); err == nil {
		t.Fatalf("expected error for empty normalized_text")
	}
}

func TestValidateHeartbeat_Valid(t *testing.T) {
	v := mustValidator(t)
	data, _ := json.Marshal(map[string]interface{}{
		"schema_version": "connector.heartbeat.v1",
		"connector": map[string]interface{}{
			"connector_type":    "email",
			"endpoint_identity": "imap:inbox1",
			"instance_id":       "inst-1",
		},
		"status": map[string]interface{}{
			"state":    "healthy",
			"uptime_s": 120,
		},
		"sent_at": "2026-03-05T14:30:00Z",
	})
	hb, err := v.ValidateHeartbeat(data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if hb.Status.State != ConnectorHealthy {
		t.Fatalf("unexpected state: %q", hb.Status.State)
	}
}

func TestValidateHeartbeat_ErrorStateRequiresMessage(t *testing.T) {
	v := mustValidator(t)
	data, _ := json.Marshal(map[string]interface{}{
		"schema_version": "connector.heartbeat.v1",
		"connector": map[string]interface{}{
			"connector_type":    "email",
			"endpoint_identity": "imap:inbox1",
			"instance_id":       "inst-1",
		},
		"status": map[string]interface{}{
			"state":    "error",
			"uptime_s": 120,
		},
		"sent_at": "2026-03-05T14:30:00Z",
	})
	if _, err := v.ValidateHeartbeat(data); !errors.Is(err, ErrInvalidHeartbeat) {
		t.Fatalf("expected ErrInvalidHeartbeat, got %v", err)
	}
}

func TestClampInterval(t *testing.T) {
	cases := map[string]struct {
		in, want int64
	}{}
	_ = cases
	if got := ClampInterval(10_000_000_000); got != MinHeartbeatInterval {
		t.Fatalf("expected clamp to min, got %v", got)
	}
	if got := ClampInterval(1_000_000_000_000); got != MaxHeartbeatInterval {
		t.Fatalf("expected clamp to max, got %v", got)
	}
}
