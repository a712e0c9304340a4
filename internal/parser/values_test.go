package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParsePrice(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"Simple number", "1800", "1800"},
		{"Thousands separator", "1,234.50", "1234.5"},
		{"Currency prefix", "Rs. 2,000", "2000"},
		{"Currency suffix", "99.99 USD", "99.99"},
		{"Spaces", " 1 250 ", "1250"},
		{"Text only", "call for price", "0"},
		{"Empty", "", "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParsePrice(tt.input)
			assert.Equal(t, tt.expected, got.String())
		})
	}
}

func TestParseStock(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected int
	}{
		{"Plain", "12", 12},
		{"With label and plus", "stock: 12+", 12},
		{"First run wins", "3 left of 40", 3},
		{"No digits", "out of stock", 0},
		{"Empty", "", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ParseStock(tt.input))
		})
	}
}

func TestNormalizeID(t *testing.T) {
	assert.Equal(t, "Cool-Lamp-2000", NormalizeID(" Cool Lamp 2000 "))
	assert.Equal(t, "a-b", NormalizeID("a///b"))
	assert.Equal(t, "x-y", NormalizeID("--x__y--"))
	assert.Equal(t, "", NormalizeID("!!!"))
}

func TestIDFromDetailURL(t *testing.T) {
	tests := []struct {
		name     string
		url      string
		param    string
		expected string
	}{
		{"Query parameter decoded", "https://shop.example/item?name=Desk%20Lamp%20XL", "name", "Desk-Lamp-XL"},
		{"Missing parameter uses path", "https://shop.example/p/desk-lamp.html", "name", "desk-lamp"},
		{"Trailing slash", "https://shop.example/p/chair-01/", "", "chair-01"},
		{"Encoded path", "https://shop.example/p/Caf%C3%A9%20Table", "", "Caf-Table"},
		{"Root only", "https://shop.example/", "", ""},
		{"Empty", "", "id", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, IDFromDetailURL(tt.url, tt.param))
		})
	}
}

func TestIDFromDetailURLStable(t *testing.T) {
	a := IDFromDetailURL("https://shop.example/item?name=Desk%20Lamp", "name")
	b := IDFromDetailURL("https://shop.example/item?name=Desk+Lamp&ref=home", "name")
	assert.Equal(t, a, b)
}

func TestResolveURL(t *testing.T) {
	assert.Equal(t, "https://shop.example/p/1", ResolveURL("https://shop.example/list", "/p/1"))
	assert.Equal(t, "https://cdn.example/a.jpg", ResolveURL("https://shop.example/list", "https://cdn.example/a.jpg"))
	assert.Equal(t, "", ResolveURL("https://shop.example/list", ""))
}
