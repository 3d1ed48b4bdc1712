package db

import (
	"encoding/json"
	"testing"
)

func TestIsSaturated(t *testing.T) {
	tests := []struct {
		acquired, max int32
		want          bool
	}{
		{0, 20, false},
		{19, 20, false},
		{20, 20, true},
		{1, 1, true},
		{0, 0, false},
	}
	for _, tt := range tests {
		if got := isSaturated(tt.acquired, tt.max); got != tt.want {
			t.Errorf("isSaturated(%d, %d) = %v, want %v", tt.acquired, tt.max, got, tt.want)
		}
	}
}

func TestPoolStats_JSONFields(t *testing.T) {
	stats := &PoolStats{
		TotalConns:        10,
		AcquiredConns:     10,
		MaxConns:          10,
		EmptyAcquireCount: 3,
		Saturated:         true,
		Healthy:           true,
	}
	raw, err := json.Marshal(stats)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	for _, key := range []string{"total_conns", "acquired_conns", "empty_acquire_count", "canceled_acquire_count", "saturated", "healthy"} {
		if _, ok := m[key]; !ok {
			t.Errorf("expected key %q in pool stats JSON", key)
		}
	}
	if m["saturated"] != true {
		t.Errorf("expected saturated=true, got %v", m["saturated"])
	}
}
