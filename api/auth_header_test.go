package api

import (
	"errors"
	"testing"
)

func TestBearerTokenFromString(t *testing.T) {
	tests := []struct {
		name    string
		header  string
		want    string
		wantErr error
	}{
		{name: "empty", header: "", wantErr: errMissingAuthorization},
		{name: "whitespace", header: "   ", wantErr: errMissingAuthorization},
		{name: "no_scheme", header: "a.b.c", wantErr: errBadAuthorization},
		{name: "wrong_scheme", header: "Basic a.b.c", wantErr: errBadAuthorization},
		{name: "empty_token", header: "Bearer ", wantErr: errBadAuthorization},
		{name: "one_dot", header: "Bearer a.b", wantErr: errBadAuthorization},
		{name: "three_dots", header: "Bearer a.b.c.d", wantErr: errBadAuthorization},
		{name: "valid", header: "Bearer a.b.c", want: "a.b.c"},
		{name: "valid_trimmed", header: "  Bearer a.b.c  ", want: "a.b.c"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := bearerTokenFromString(tt.header)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("expected token %q, got %q", tt.want, got)
			}
		})
	}
}
