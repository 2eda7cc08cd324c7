package cmd

import (
	"image"
	"testing"
)

func TestParseRect(t *testing.T) {
	cases := []struct {
		in   string
		want image.Rectangle
		ok   bool
	}{
		{"10,20,30,40", image.Rect(10, 20, 40, 60), true},
		{" 0 , 0 , 5 , 5 ", image.Rect(0, 0, 5, 5), true},
		{"10,20,30", image.Rectangle{}, false},
		{"10,20,30,40,50", image.Rectangle{}, false},
		{"a,b,c,d", image.Rectangle{}, false},
		{"10,20,0,40", image.Rectangle{}, false},
		{"10,20,30,-1", image.Rectangle{}, false},
	}
	for _, tc := range cases {
		got, err := parseRect(tc.in)
		if tc.ok != (err == nil) {
			t.Fatalf("parseRect(%q) err = %v, want ok=%v", tc.in, err, tc.ok)
		}
		if tc.ok && got != tc.want {
			t.Fatalf("parseRect(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}
