package obs

import "testing"

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                                    "/",
		"/metrics":                            "/metrics",
		"/v1/complaints/abc":                  "/v1/complaints/:id",
		"/v1/complaints/abc/status":           "/v1/complaints/:id/status",
		"/v1/complaints/abc/escalations":      "/v1/complaints/:id/escalations",
		"/v1/complaints/abc/extra":            "/v1/complaints/abc/extra",
		"/v1/complaints":                      "/v1/complaints",
		"/v1/escalations/run":                 "/v1/escalations/run",
		"/v1/complaints/abc/status?verbose=1": "/v1/complaints/:id/status",
	}
	for input, expected := range cases {
		if got := CanonicalPath(input); got != expected {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", input, got, expected)
		}
	}
}
