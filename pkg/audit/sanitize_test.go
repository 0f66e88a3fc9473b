package audit

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitize(t *testing.T) {
	in := map[string]interface{}{
		"name":          "Ana",
		"password":      "hunter2",
		"passwordHash":  "x",
		"password_hash": "y",
		"profile": map[string]interface{}{
			"email":    "ana@example.com",
			"Password": "nested",
			"contacts": []interface{}{
				map[string]interface{}{"phone": "555", "passwordHash": "deep"},
				"plain",
			},
		},
	}

	got := Sanitize(in)

	assert.Equal(t, map[string]interface{}{
		"name": "Ana",
		"profile": map[string]interface{}{
			"email": "ana@example.com",
			"contacts": []interface{}{
				map[string]interface{}{"phone": "555"},
				"plain",
			},
		},
	}, got)

	assert.Equal(t, "hunter2", in["password"], "input is not modified")
	assert.Contains(t, in["profile"].(map[string]interface{}), "Password")
}

func TestSanitize_NonObjects(t *testing.T) {
	assert.Equal(t, map[string]interface{}{}, Sanitize(nil))
	assert.Equal(t, "text", Sanitize("text"))
	assert.Equal(t, 4.0, Sanitize(4.0))
	assert.Equal(t, []interface{}{map[string]interface{}{}}, Sanitize([]interface{}{map[string]interface{}{"password": "p"}}))
}
