package config

import "testing"

func TestParseCORS(t *testing.T) {
	cases := map[string]struct {
		raw  string
		want []string
	}{
		"wildcard":      {"*", []string{"*"}},
		"empty":         {"", []string{"*"}},
		"single":        {"https://app.example.com", []string{"https://app.example.com"}},
		"multiple":      {"https://a.example.com, https://b.example.com", []string{"https://a.example.com", "https://b.example.com"}},
		"trailing comma": {"https://a.example.com,", []string{"https://a.example.com"}},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			got := parseCORS(tc.raw)
			if len(got) != len(tc.want) {
				t.Fatalf("parseCORS(%q) = %v, want %v", tc.raw, got, tc.want)
			}
			for i := range got {
				if got[i] != tc.want[i] {
					t.Fatalf("parseCORS(%q)[%d] = %q, want %q", tc.raw, i, got[i], tc.want[i])
				}
			}
		})
	}
}

func TestParseIntOrDefault(t *testing.T) {
	t.Setenv("TEST_RATE_LIMIT_MAX", "250")
	if got := parseIntOrDefault("TEST_RATE_LIMIT_MAX", 100); got != 250 {
		t.Fatalf("parseIntOrDefault = %d, want 250", got)
	}

	t.Setenv("TEST_RATE_LIMIT_BAD", "not-a-number")
	if got := parseIntOrDefault("TEST_RATE_LIMIT_BAD", 100); got != 100 {
		t.Fatalf("parseIntOrDefault with invalid value = %d, want fallback 100", got)
	}

	if got := parseIntOrDefault("TEST_RATE_LIMIT_UNSET", 42); got != 42 {
		t.Fatalf("parseIntOrDefault with unset var = %d, want fallback 42", got)
	}
}

func TestListenAddr(t *testing.T) {
	c := &Config{ListenHost: "0.0.0.0", ListenPort: "3020"}
	if got, want := c.ListenAddr(), "0.0.0.0:3020"; got != want {
		t.Fatalf("ListenAddr() = %q, want %q", got, want)
	}
}
