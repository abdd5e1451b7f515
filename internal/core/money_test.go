package core

import "testing"

func TestParseAmount(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    int64
		wantErr bool
	}{
		{name: "plain decimal", input: "12.34", want: 1234},
		{name: "comma separator", input: "12,34", want: 1234},
		{name: "integer", input: "1000", want: 100000},
		{name: "single fraction digit", input: "5.5", want: 550},
		{name: "surrounding spaces", input: " 9.99 ", want: 999},
		{name: "third decimal rounds half up", input: "1.005", want: 101},
		{name: "zero rejected", input: "0", wantErr: true},
		{name: "negative rejected", input: "-4.20", wantErr: true},
		{name: "rounds to zero rejected", input: "0.001", wantErr: true},
		{name: "garbage rejected", input: "12abc", wantErr: true},
		{name: "empty rejected", input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseAmount(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseAmount(%q) = %v, want error", tt.input, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseAmount(%q) unexpected error: %v", tt.input, err)
			}
			if got.Cents != tt.want {
				t.Errorf("ParseAmount(%q) = %d cents, want %d", tt.input, got.Cents, tt.want)
			}
		})
	}
}

func TestParseSignedAmount(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    int64
		wantErr bool
	}{
		{name: "positive", input: "12.34", want: 1234},
		{name: "negative", input: "-12.34", want: -1234},
		{name: "negative comma separator", input: "-12,34", want: -1234},
		{name: "zero", input: "0", want: 0},
		{name: "zero two fraction digits", input: "0.00", want: 0},
		{name: "zero one fraction digit", input: "0.0", want: 0},
		{name: "zero three fraction digits", input: "0.000", want: 0},
		{name: "zero comma separator", input: "0,00", want: 0},
		{name: "rounds to zero", input: "0.001", want: 0},
		{name: "garbage rejected", input: "12abc", wantErr: true},
		{name: "empty rejected", input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseSignedAmount(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseSignedAmount(%q) = %v, want error", tt.input, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseSignedAmount(%q) unexpected error: %v", tt.input, err)
			}
			if got.Cents != tt.want {
				t.Errorf("ParseSignedAmount(%q) = %d cents, want %d", tt.input, got.Cents, tt.want)
			}
		})
	}
}

func TestMoneyString(t *testing.T) {
	tests := []struct {
		cents int64
		want  string
	}{
		{cents: 1234, want: "12.34"},
		{cents: 100000, want: "1000.00"},
		{cents: 5, want: "0.05"},
	}

	for _, tt := range tests {
		if got := (Money{Cents: tt.cents}).String(); got != tt.want {
			t.Errorf("Money{%d}.String() = %q, want %q", tt.cents, got, tt.want)
		}
	}
}
