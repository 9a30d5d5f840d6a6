package parse

import (
	"fmt"
	"regexp"
	"strings"

	"medikiosk/internal/medicine"
)

var separatorRe = regexp.MustCompile(`[\s_\-]+`)

// Kind normalizes a free-text medicine selector into a catalog kind. It accepts
// the canonical kind ("stomachAche"), spaced or dashed spellings ("stomach ache",
// "STOMACH-ACHE") and the slot's display name ("Antacid").
func Kind(raw string) (medicine.Kind, error) {
	key := fold(raw)
	if key == "" {
		return "", fmt.Errorf("empty medicine kind")
	}

	for _, info := range medicine.All() {
		if key == fold(string(info.Kind)) || key == fold(info.DisplayName) {
			return info.Kind, nil
		}
	}
	return "", fmt.Errorf("unknown medicine kind: %q", raw)
}

func fold(s string) string {
	s = strings.TrimSpace(s)
	s = separatorRe.ReplaceAllString(s, "")
	return strings.ToLower(s)
}
