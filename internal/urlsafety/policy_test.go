package urlsafety

import "testing"

func TestValidateTargetURL(t *testing.T) {
	p := Policy{}
	cases := []struct {
		name    string
		raw     string
		wantErr bool
	}{
		{"valid https", "https://example.com/path", false},
		{"valid http", "http://example.com", false},
		{"unsupported scheme", "ftp://example.com", true},
		{"malformed", "http://[::1", true},
		{"empty host", "http:///path", true},
		{"loopback literal", "http://127.0.0.1:8080", true},
		{"private literal", "http://10.0.0.5", true},
		{"link-local literal", "http://169.254.169.254", true},
		{"public literal ip", "http://93.184.216.34", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := p.ValidateTargetURL(tc.raw)
			if (err != nil) != tc.wantErr {
				t.Fatalf("ValidateTargetURL(%q) error = %v, wantErr %v", tc.raw, err, tc.wantErr)
			}
		})
	}
}
