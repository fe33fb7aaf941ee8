package jobs

import (
	"strings"
	"testing"
)

func TestGenerateID(t *testing.T) {
	a := GenerateID("render-")
	b := GenerateID("render-")
	if !strings.HasPrefix(a, "render-") {
		t.Errorf("id %q missing prefix", a)
	}
	if len(a) <= len("render-") {
		t.Errorf("id %q has no random suffix", a)
	}
	if a == b {
		t.Errorf("ids not unique: %q", a)
	}
}
