package scraper

import "testing"

func TestLotNumberFromLink(t *testing.T) {
	tests := []struct {
		link string
		want string
	}{
		{"https://torgi.example.org/lot/91:01:100:5", "91:01:100:5"},
		{"https://torgi.example.org/lots/SEV-2025-0042?utm=feed", "SEV-2025-0042"},
		{"https://torgi.example.org/notice/12345", "12345"},
		{"https://torgi.example.org/auction/SEV-2025-0042/", "SEV-2025-0042"},
		{"https://torgi.example.org/auction/item123?page=2", "item123"},
		{"https://torgi.example.org/about/contacts", ""},
		{"https://torgi.example.org/", ""},
		{"", ""},
	}

	for _, tt := range tests {
		if got := LotNumberFromLink(tt.link); got != tt.want {
			t.Errorf("LotNumberFromLink(%q) = %q, want %q", tt.link, got, tt.want)
		}
	}
}

func TestSynthesizeNumber(t *testing.T) {
	a := SynthesizeNumber("webforms", "Аренда помещения, ул. Ленина 1")
	b := SynthesizeNumber("webforms", "Аренда помещения, ул. Ленина 1")
	c := SynthesizeNumber("webforms", "Другой лот")

	if a != b {
		t.Error("synthesized numbers are not stable for the same seed")
	}
	if a == c {
		t.Error("different seeds produced the same number")
	}
	if SynthesizeNumber("feed", "Аренда помещения, ул. Ленина 1") == a {
		t.Error("numbers are not namespaced by source")
	}
}
