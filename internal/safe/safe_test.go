package safe

import (
	"errors"
	"strings"
	"testing"
)

func TestHTTPURL(t *testing.T) {
	tests := []struct {
		in      string
		wantErr bool
	}{
		{"https://host.test/app/EG0008W", false},
		{"http://10.0.0.5:8080/hook", false},
		{"ftp://host.test/file", true},
		{"javascript:alert(1)", true},
		{"https:///nohost", true},
		{"x", true},
	}
	for _, tt := range tests {
		err := HTTPURL(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("HTTPURL(%q): got %v, wantErr %v", tt.in, err, tt.wantErr)
		}
	}
	if err := HTTPURL("file:///etc/passwd"); !errors.Is(err, ErrUnsafeScheme) {
		t.Errorf("file scheme: got %v, want ErrUnsafeScheme", err)
	}
}

func TestIdentifier(t *testing.T) {
	tests := []struct {
		in      string
		wantErr bool
	}{
		{"page-1", false},
		{"kyuyo_v2.main", false},
		{"", true},
		{"a/b", true},
		{"a b", true},
		{strings.Repeat("a", 257), true},
	}
	for _, tt := range tests {
		err := Identifier(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("Identifier(%q): got %v, wantErr %v", tt.in, err, tt.wantErr)
		}
	}
}

func TestDrain(t *testing.T) {
	r := strings.NewReader(strings.Repeat("x", 100))
	Drain(r, 10)
	if r.Len() != 90 {
		t.Errorf("remaining: got %d, want 90", r.Len())
	}
}
