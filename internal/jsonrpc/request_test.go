package jsonrpc

import "testing"

func TestParseRequests_Single(t *testing.T) {
	reqs, isBatch, err := ParseRequests([]byte(`{"jsonrpc":"2.0","method":"eth_chainId","id":1}`))
	if err != nil {
		t.Fatalf("ParseRequests: %v", err)
	}
	if isBatch {
		t.Error("single request reported as batch")
	}
	if len(reqs) != 1 || reqs[0].Method != "eth_chainId" {
		t.Errorf("unexpected requests: %+v", reqs)
	}
	if err := reqs[0].Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestParseRequests_Batch(t *testing.T) {
	body := `[{"jsonrpc":"2.0","method":"eth_blockNumber","id":1},{"jsonrpc":"2.0","method":"eth_chainId","id":"a"}]`
	reqs, isBatch, err := ParseRequests([]byte(body))
	if err != nil {
		t.Fatalf("ParseRequests: %v", err)
	}
	if !isBatch || len(reqs) != 2 {
		t.Fatalf("isBatch = %v, len = %d", isBatch, len(reqs))
	}
	if reqs[1].ID.Value() != "a" {
		t.Errorf("ID = %v, want a", reqs[1].ID.Value())
	}
}

func TestParseRequests_Invalid(t *testing.T) {
	for _, body := range []string{"", "  ", "[]", "{bad"} {
		if _, _, err := ParseRequests([]byte(body)); err == nil {
			t.Errorf("ParseRequests(%q): expected error", body)
		}
	}
}

func TestRequest_Validate(t *testing.T) {
	req := &Request{JSONRPC: "1.0", Method: "eth_chainId"}
	if err := req.Validate(); err == nil {
		t.Error("expected error for wrong version")
	}
	req = &Request{JSONRPC: Version}
	if err := req.Validate(); err == nil {
		t.Error("expected error for missing method")
	}
}

func TestResponse_Roundtrip(t *testing.T) {
	resp := NewResponseRaw(NewIDInt(7), []byte(`"0x1"`))
	data, err := resp.Bytes()
	if err != nil {
		t.Fatalf("Bytes: %v", err)
	}
	parsed, err := ParseResponse(data)
	if err != nil {
		t.Fatalf("ParseResponse: %v", err)
	}
	if parsed.HasError() || string(parsed.Result) != `"0x1"` {
		t.Errorf("unexpected response: %+v", parsed)
	}
	// JSON numbers decode as float64
	if parsed.ID.Value() != float64(7) {
		t.Errorf("ID = %v (%T)", parsed.ID.Value(), parsed.ID.Value())
	}
}
