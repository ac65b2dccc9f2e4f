package tasks

import (
	"testing"
)

func TestOutputBuffer_Write(t *testing.T) {
	tests := []struct {
		name      string
		limit     int
		writes    []string
		want      string
		wantTrunc bool
	}{
		{
			name:      "No truncation",
			limit:     10,
			writes:    []string{"hello", "world"},
			want:      "helloworld",
			wantTrunc: false,
		},
		{
			name:      "Exact limit",
			limit:     11,
			writes:    []string{"hello", "world!"},
			want:      "helloworld!",
			wantTrunc: false,
		},
		{
			name:      "Truncation in single write",
			limit:     5,
			writes:    []string{"helloworld"},
			want:      "hello\n... output truncated ...",
			wantTrunc: true,
		},
		{
			name:      "Truncation in second write",
			limit:     10,
			writes:    []string{"hello", " world! this is long"},
			want:      "hello worl\n... output truncated ...",
			wantTrunc: true,
		},
		{
			name:      "Writes after truncation are ignored",
			limit:     5,
			writes:    []string{"hello", "world", "ignored"},
			want:      "hello\n... output truncated ...",
			wantTrunc: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewOutputBuffer(tt.limit)
			for _, w := range tt.writes {
				n, err := b.Write([]byte(w))
				if err != nil {
					t.Errorf("Write() error = %v", err)
				}
				if n != len(w) {
					t.Errorf("Write() returned %v, want %v", n, len(w))
				}
			}

			if b.Truncated() != tt.wantTrunc {
				t.Errorf("Truncated() = %v, want %v", b.Truncated(), tt.wantTrunc)
			}
			if got := b.String(); got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestOutputBuffer_DefaultLimit(t *testing.T) {
	b := NewOutputBuffer(0)
	big := make([]byte, defaultMaxOutputSize+1)
	if n, _ := b.Write(big); n != len(big) {
		t.Errorf("Write() = %d, want %d", n, len(big))
	}
	if !b.Truncated() {
		t.Error("default limit not applied")
	}
}
