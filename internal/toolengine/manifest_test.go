package toolengine

import (
	"strings"
	"testing"

	"weave/internal/domain/tool"
	"weave/internal/errors"
)

const validManifest = `
name: fetch_page
version: 1.2.0
description: Fetches a web page and returns its body.
category: network
tags: [http, fetch]
parameters:
  - name: url
    type: string
    required: true
  - name: timeout
    type: number
    default: 10
entry:
  type: http
  url: https://tools.internal/fetch
concurrency: 8
`

func TestParseManifestValid(t *testing.T) {
	parsed, err := ParseManifest([]byte(validManifest))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if parsed.Name != "fetch_page" {
		t.Fatalf("expected name fetch_page, got %q", parsed.Name)
	}
	if parsed.ID != "tool-fetch_page" {
		t.Fatalf("expected derived id, got %q", parsed.ID)
	}
	if parsed.Status != tool.StatusPublished {
		t.Fatalf("directory manifests load as published, got %q", parsed.Status)
	}
	if parsed.Concurrency != 8 {
		t.Fatalf("expected concurrency 8, got %d", parsed.Concurrency)
	}
	if len(parsed.Params) != 2 {
		t.Fatalf("expected 2 parameters, got %d", len(parsed.Params))
	}
}

func TestParseManifestRejectsUnknownKeys(t *testing.T) {
	doc := strings.Replace(validManifest, "concurrency: 8", "concurency: 8", 1)
	_, err := ParseManifest([]byte(doc))
	if err == nil {
		t.Fatalf("misspelled key must fail the load")
	}
	if errors.KindOf(err) != errors.KindValidation {
		t.Fatalf("expected validation_error, got %q", errors.KindOf(err))
	}
}

func TestParseManifestValidation(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(string) string
		problem string
	}{
		{
			name:    "bad version",
			mutate:  func(s string) string { return strings.Replace(s, "1.2.0", "v1.2", 1) },
			problem: "semver",
		},
		{
			name:    "unknown category",
			mutate:  func(s string) string { return strings.Replace(s, "network", "webstuff", 1) },
			problem: "category",
		},
		{
			name:    "http without url",
			mutate:  func(s string) string { return strings.Replace(s, "  url: https://tools.internal/fetch\n", "", 1) },
			problem: "url",
		},
		{
			name: "duplicate parameter",
			mutate: func(s string) string {
				return s + "  - name: url\n    type: string\n"
			},
			problem: "duplicate",
		},
		{
			name:    "unknown parameter type",
			mutate:  func(s string) string { return strings.Replace(s, "type: number", "type: float", 1) },
			problem: "type",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseManifest([]byte(tc.mutate(validManifest)))
			if err == nil {
				t.Fatalf("expected a validation error")
			}
			if errors.KindOf(err) != errors.KindValidation {
				t.Fatalf("expected validation_error, got %q", errors.KindOf(err))
			}
		})
	}
}

func TestParseManifestBuiltinRequiresHandler(t *testing.T) {
	doc := `
name: local_echo
version: 0.1.0
description: Echoes input.
category: general
entry:
  type: builtin
`
	_, err := ParseManifest([]byte(doc))
	if err == nil {
		t.Fatalf("builtin entry without handler must fail")
	}
}
