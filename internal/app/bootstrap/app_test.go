package bootstrap

import "testing"

func TestMaskDSN(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"postgres://fg:s3cret@db:5432/frostguard?sslmode=disable", "postgres://fg:****@db:5432/frostguard?sslmode=disable"},
		{"postgres://fg@db:5432/frostguard", "postgres://fg@db:5432/frostguard"},
		{"host=db user=fg", "host=db user=fg"},
	}
	for _, tt := range tests {
		if got := maskDSN(tt.in); got != tt.want {
			t.Errorf("maskDSN(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
