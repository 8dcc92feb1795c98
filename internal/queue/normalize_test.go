package queue

import "testing"

func boolPtr(b bool) *bool { return &b }

func TestNormalize_FieldNameDrift(t *testing.T) {
	cases := []struct {
		name string
		raw  RawSnapshot
		want *bool
	}{
		{"active only", RawSnapshot{ID: "q-1", Active: boolPtr(true)}, boolPtr(true)},
		{"isActive only", RawSnapshot{ID: "q-1", IsActive: boolPtr(true)}, boolPtr(true)},
		{"active wins over isActive", RawSnapshot{ID: "q-1", Active: boolPtr(true), IsActive: boolPtr(false)}, boolPtr(true)},
		{"active false wins", RawSnapshot{ID: "q-1", Active: boolPtr(false), IsActive: boolPtr(true)}, boolPtr(false)},
		{"neither", RawSnapshot{ID: "q-1"}, nil},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			q := Normalize(&tc.raw)
			if tc.want == nil {
				if q.IsActive != nil {
					t.Errorf("expected nil IsActive, got %v", *q.IsActive)
				}
				return
			}
			if q.IsActive == nil {
				t.Fatal("expected IsActive to be set")
			}
			if *q.IsActive != *tc.want {
				t.Errorf("IsActive = %v, want %v", *q.IsActive, *tc.want)
			}
		})
	}
}

func TestNormalize_Defaults(t *testing.T) {
	q := Normalize(&RawSnapshot{ID: "q-1"})
	if q.Tokens == nil {
		t.Error("expected empty token slice, got nil")
	}
	if len(q.Tokens) != 0 {
		t.Errorf("expected no tokens, got %d", len(q.Tokens))
	}
	if !q.Active() {
		t.Error("missing activity flag should default to active")
	}

	if Normalize(nil) != nil {
		t.Error("nil snapshot should normalize to nil")
	}
}

func TestDecode(t *testing.T) {
	data := []byte(`{"id":"q-1","serviceName":"Dental","active":false,"tokens":[{"tokenId":"T-1","status":"WAITING","userId":"u-1"}]}`)
	q, err := Decode(data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if q.ID != "q-1" || q.ServiceName != "Dental" {
		t.Errorf("unexpected queue: %+v", q)
	}
	if q.IsActive == nil || *q.IsActive {
		t.Error("expected isActive=false")
	}
	if len(q.Tokens) != 1 || q.Tokens[0].Status != StatusWaiting {
		t.Errorf("unexpected tokens: %+v", q.Tokens)
	}
}

func TestDecode_Malformed(t *testing.T) {
	if _, err := Decode([]byte("not json")); err == nil {
		t.Error("expected error for malformed body")
	}
}

func TestDecodeList(t *testing.T) {
	data := []byte(`[{"id":"q-1","active":true},{"id":"q-2","isActive":false}]`)
	queues, err := DecodeList(data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(queues) != 2 {
		t.Fatalf("expected 2 queues, got %d", len(queues))
	}
	if !queues[0].Active() || queues[1].Active() {
		t.Error("normalization not applied to list elements")
	}
}
