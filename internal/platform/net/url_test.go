// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package net

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeHost(t *testing.T) {
	got, err := NormalizeHost("Bücher.Example.")
	require.NoError(t, err)
	assert.Equal(t, "xn--bcher-kva.example", got)

	got, err = NormalizeHost("[::1]")
	require.NoError(t, err)
	assert.Equal(t, "::1", got)

	for _, bad := range []string{"", "http://x", "x/y", "user@x", "x:80"} {
		_, err := NormalizeHost(bad)
		assert.Error(t, err, bad)
	}
}

func TestNormalizeBaseURL(t *testing.T) {
	got, err := NormalizeBaseURL("HTTP://Bücher.example:3000/api/?x=1")
	require.NoError(t, err)
	assert.Equal(t, "http://xn--bcher-kva.example:3000/api", got)

	got, err = NormalizeBaseURL("https://[::1]:8443")
	require.NoError(t, err)
	assert.Equal(t, "https://[::1]:8443", got)

	for _, bad := range []string{"ftp://x", "/api", "http://u:p@host", "http://host/#frag"} {
		_, err := NormalizeBaseURL(bad)
		assert.Error(t, err, bad)
	}
}

func TestSanitizeURL(t *testing.T) {
	assert.Equal(t, "http://host/song/url", SanitizeURL("http://user:pw@host/song/url?id=1"))
	assert.Equal(t, "invalid-url-redacted", SanitizeURL("http://[::1"))
}
