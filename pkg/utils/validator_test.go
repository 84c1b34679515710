package utils

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestValidateID(t *testing.T) {
	assert.NoError(t, ValidateID(uuid.NewString()))
	assert.Error(t, ValidateID(""))
	assert.Error(t, ValidateID("../etc"))
	assert.Error(t, ValidateID(uuid.NewString()+"#p1"))
}

func TestSanitizeText(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"plain", "Zum Löwen", "Zum Löwen"},
		{"markup", "<b>Zum</b> Löwen", "Zum Löwen"},
		{"line breaks", "Hauptstr. 1\n\n80331  München", "Hauptstr. 1 80331 München"},
		{"control characters", "Anna\x00, Ben\x07", "Anna, Ben"},
		{"only markup", "<br/>", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SanitizeText(tt.input))
		})
	}
}
