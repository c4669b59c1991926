package server

import "testing"

func TestShouldSkipJWT(t *testing.T) {
	t.Parallel()

	cases := []struct {
		path string
		want bool
	}{
		{path: "/ping", want: true},
		{path: "/health", want: true},
		{path: "/auth/login", want: true},
		{path: "/webhooks/mailgun", want: true},
		{path: "/webhooks/fax", want: true},
		{path: "/requests", want: false},
		{path: "/escalations", want: false},
		{path: "/webhooks", want: false},
		{path: "/api/webhooks/mailgun", want: false},
	}

	for _, tc := range cases {
		got := shouldSkipJWT(tc.path)
		if got != tc.want {
			t.Fatalf("path=%q want=%v got=%v", tc.path, tc.want, got)
		}
	}
}
