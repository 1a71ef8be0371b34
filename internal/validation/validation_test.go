package validation

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func TestIsValidRoom(t *testing.T) {
	valid := []string{"global", "soc-team", "room_1", "A", strings.Repeat("a", 64)}
	for _, room := range valid {
		assert.True(t, IsValidRoom(room), "expected %q to be valid", room)
	}

	invalid := []string{"", "has space", "emoji😀", "slash/room", strings.Repeat("a", 65), "dot.room"}
	for _, room := range invalid {
		assert.False(t, IsValidRoom(room), "expected %q to be invalid", room)
	}
}

func TestSanitizeString(t *testing.T) {
	assert.Equal(t, "hello", SanitizeString("  hello  ", 100))
	assert.Equal(t, "abc", SanitizeString("abcdef", 3))
	assert.Equal(t, "ab", SanitizeString("a\x00b", 100))
}

func TestValidate(t *testing.T) {
	errs := Validate(
		Required("name", ""),
		Required("type", "phishing"),
		ValidRoom("room", "bad room"),
		MaxLength("description", strings.Repeat("x", 20), 10),
		OneOf("status", "nonsense", "open", "resolved"),
	)

	fields := make([]string, len(errs))
	for i, e := range errs {
		fields[i] = e.Field
	}
	assert.Equal(t, []string{"name", "room", "description", "status"}, fields)

	assert.Empty(t, Validate(
		Required("type", "phishing"),
		ValidRoom("room", "ops"),
		OneOf("status", "", "open"),
	))
}

func TestRequestSizeMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.Use(RequestSizeMiddleware(16))
	r.POST("/echo", func(c *gin.Context) {
		body, err := c.GetRawData()
		if err != nil {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "too_large"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"bytes": len(body)})
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/echo", strings.NewReader("small"))
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/echo", strings.NewReader(strings.Repeat("x", 64)))
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}
