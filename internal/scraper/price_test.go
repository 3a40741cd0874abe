package scraper

import (
	"testing"
)

func TestParsePrice(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"Plain integer", "1990", "1990"},
		{"CLP with dot thousands", "$1.990", "1990"},
		{"CLP with repeated dots", "$1.234.567", "1234567"},
		{"Comma decimal", "1990,50", "1990.5"},
		{"Dot thousands comma decimal", "1.234,56", "1234.56"},
		{"Comma thousands dot decimal", "1,234,567.89", "1234567.89"},
		{"Dot decimal two digits", "19.99", "19.99"},
		{"Currency prefix with spaces", "CLP 12 990", "12990"},
		{"Non-breaking space", "$ 1.990", "1990"},
		{"Comma thousands no decimal", "1,234,567", "1234567"},
		{"Rounds to two places", "1.234,567", "1234.57"},
		{"Dot with three digits is thousands", "19.999", "19999"},
		{"Single comma three digits is thousands", "1,990", "1990"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := ParsePrice(tt.input)
			if err != nil {
				t.Fatalf("ParsePrice(%q) returned error: %v", tt.input, err)
			}
			if result.String() != tt.expected {
				t.Errorf("ParsePrice(%q) = %s, want %s", tt.input, result.String(), tt.expected)
			}
		})
	}
}

func TestParsePriceErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"Empty string", ""},
		{"Only currency symbol", "$"},
		{"Only letters", "precio"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParsePrice(tt.input); err == nil {
				t.Errorf("ParsePrice(%q) expected error, got nil", tt.input)
			}
		})
	}
}
