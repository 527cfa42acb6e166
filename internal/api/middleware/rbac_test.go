package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestRequireRole(t *testing.T) {
	t.Parallel()

	gin.SetMode(gin.TestMode)

	run := func(roles interface{}, required string) (int, bool) {
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
		if roles != nil {
			c.Set("roles", roles)
		}

		RequireRole(required)(c)
		return w.Code, !c.IsAborted()
	}

	tests := []struct {
		name     string
		roles    interface{}
		required string
		passes   bool
	}{
		{"exact role passes", []string{"user"}, "user", true},
		{"admin passes any check", []string{"admin"}, "user", true},
		{"missing role denied", []string{"user"}, "admin", false},
		{"no roles in context denied", nil, "user", false},
		{"wrong type denied", "user", "user", false},
		{"empty roles denied", []string{}, "user", false},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			code, passed := run(tc.roles, tc.required)
			if passed != tc.passes {
				t.Fatalf("RequireRole(%q) with roles %v: passed=%v, want %v", tc.required, tc.roles, passed, tc.passes)
			}
			if !tc.passes && code != http.StatusForbidden {
				t.Fatalf("denied request status = %d, want %d", code, http.StatusForbidden)
			}
		})
	}
}

func TestHasRole(t *testing.T) {
	t.Parallel()

	gin.SetMode(gin.TestMode)

	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	if HasRole(c, "user") {
		t.Fatal("expected false with no roles in context")
	}

	c.Set("roles", []string{"user"})
	if !HasRole(c, "user") {
		t.Fatal("expected direct role match")
	}
	if HasRole(c, "admin") {
		t.Fatal("user must not satisfy admin")
	}

	c.Set("roles", []string{"admin"})
	if !HasRole(c, "user") {
		t.Fatal("admin must satisfy any role")
	}
}
