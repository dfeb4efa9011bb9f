package hostparse

import "testing"

func TestParse_Apex(t *testing.T) {
	p := New("platformx.localhost")

	for _, host := range []string{
		"platformx.localhost",
		"platformx.localhost:5000",
		"PLATFORMX.LOCALHOST",
	} {
		if got := p.Parse(host); got.Kind != Platform {
			t.Errorf("Parse(%q) = %+v, want Platform", host, got)
		}
	}
}

func TestParse_App(t *testing.T) {
	p := New("platformx.localhost")

	cases := []struct {
		host string
		slug string
	}{
		{"shop.platformx.localhost", "shop"},
		{"shop.platformx.localhost:5000", "shop"},
		{"My-Shop.platformx.localhost", "my-shop"},
		{"a1b.platformx.localhost", "a1b"},
	}
	for _, tc := range cases {
		got := p.Parse(tc.host)
		if got.Kind != App || got.Slug != tc.slug {
			t.Errorf("Parse(%q) = %+v, want App/%q", tc.host, got, tc.slug)
		}
	}
}

func TestParse_Reject(t *testing.T) {
	p := New("platformx.localhost")

	for _, host := range []string{
		"",
		"example.com",
		"platformx.localhost.evil.com",
		"foo--bar.platformx.localhost", // consecutive hyphens
		"ab.platformx.localhost",       // too short
		"-abc.platformx.localhost",     // leading hyphen
		"a.b.platformx.localhost",      // nested subdomain
		"shop.otherapex.localhost",
	} {
		if got := p.Parse(host); got.Kind != Reject {
			t.Errorf("Parse(%q) = %+v, want Reject", host, got)
		}
	}
}
