package obs

import "testing"

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                               "/",
		"/metrics":                       "/metrics",
		"/v1/threats/01ABC":              "/v1/threats/:id",
		"/v1/threats/01ABC/mitigate":     "/v1/threats/:id/mitigate",
		"/v1/incidents/01DEF/lessons":    "/v1/incidents/:id/lessons",
		"/v1/actors/dr-jones/access":     "/v1/actors/:id/access",
		"/v1/roles/radiologist":          "/v1/roles/:name",
		"/v1/security/metrics":           "/v1/security/metrics",
		"/v1/security/metrics?window=1h": "/v1/security/metrics",
	}
	for input, expected := range cases {
		if got := CanonicalPath(input); got != expected {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", input, got, expected)
		}
	}
}
