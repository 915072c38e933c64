package protocol

import "testing"

func TestRequestValidate(t *testing.T) {
	tests := []struct {
		name    string
		req     Request
		wantErr bool
	}{
		{"valid", Request{JSONRPC: "2.0", Method: "getMetadata", ID: float64(1)}, false},
		{"wrong version", Request{JSONRPC: "1.0", Method: "getMetadata", ID: float64(1)}, true},
		{"missing method", Request{JSONRPC: "2.0", ID: float64(1)}, true},
		{"missing id", Request{JSONRPC: "2.0", Method: "getMetadata"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestNewResultRoundTrip(t *testing.T) {
	resp, err := NewResult(float64(7), map[string]string{"ok": "yes"})
	if err != nil {
		t.Fatalf("NewResult: %v", err)
	}
	if resp.ID != float64(7) {
		t.Errorf("ID = %v, want 7", resp.ID)
	}
	if resp.Error != nil {
		t.Errorf("Error = %v, want nil", resp.Error)
	}
	if string(resp.Result) != `{"ok":"yes"}` {
		t.Errorf("Result = %s", resp.Result)
	}
}

func TestParseErrorResponse(t *testing.T) {
	resp := ParseErrorResponse()
	if resp.ID != 0 {
		t.Errorf("ID = %v, want 0", resp.ID)
	}
	if resp.Error == nil || resp.Error.Code != CodeParseError {
		t.Errorf("Error = %v, want code %d", resp.Error, CodeParseError)
	}
}
