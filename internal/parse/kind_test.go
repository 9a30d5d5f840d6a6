package parse

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"medikiosk/internal/medicine"
)

func TestKind(t *testing.T) {
	testCases := []struct {
		name      string
		raw       string
		expected  medicine.Kind
		expectErr bool
	}{
		{
			name:     "Canonical kind",
			raw:      "fever",
			expected: medicine.Fever,
		},
		{
			name:     "Camel case kind",
			raw:      "stomachAche",
			expected: medicine.StomachAche,
		},
		{
			name:     "Spaced spelling",
			raw:      "  Stomach Ache ",
			expected: medicine.StomachAche,
		},
		{
			name:     "Dashed upper case",
			raw:      "STOMACH-ACHE",
			expected: medicine.StomachAche,
		},
		{
			name:     "Display name",
			raw:      "cough syrup",
			expected: medicine.Cough,
		},
		{
			name:     "Display name of cold slot",
			raw:      "Antihistamine",
			expected: medicine.Cold,
		},
		{
			name:      "Unknown kind",
			raw:       "headache",
			expectErr: true,
		},
		{
			name:      "Blank input",
			raw:       "   ",
			expectErr: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			kind, err := Kind(tc.raw)
			if tc.expectErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
				assert.Equal(t, tc.expected, kind)
			}
		})
	}
}
