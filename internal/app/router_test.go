package app

import (
	"testing"
)

func TestBuildCORSConfig_AllowsAuthorizationHeader(t *testing.T) {
	got := buildCORSConfig([]string{"https://studio.example.com"})

	if got.AllowAllOrigins {
		t.Fatalf("AllowAllOrigins = %v, want false", got.AllowAllOrigins)
	}
	if len(got.AllowOrigins) != 1 || got.AllowOrigins[0] != "https://studio.example.com" {
		t.Fatalf("AllowOrigins = %#v, want the configured origin", got.AllowOrigins)
	}

	found := false
	for _, h := range got.AllowHeaders {
		if h == "Authorization" {
			found = true
		}
	}
	if !found {
		t.Fatalf("AllowHeaders = %#v, want Authorization included", got.AllowHeaders)
	}
}

func TestBuildCORSConfig_WildcardSwitchesToAllowAll(t *testing.T) {
	got := buildCORSConfig([]string{"*", "https://studio.example.com"})

	if !got.AllowAllOrigins {
		t.Fatalf("AllowAllOrigins = %v, want true", got.AllowAllOrigins)
	}
	if len(got.AllowOrigins) != 0 {
		t.Fatalf("AllowOrigins = %#v, want empty when allowing all", got.AllowOrigins)
	}
	if got.AllowCredentials {
		t.Fatalf("AllowCredentials = %v, want false when allowing all origins", got.AllowCredentials)
	}
}
