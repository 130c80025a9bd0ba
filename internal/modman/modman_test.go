package modman

import (
	"testing"

	"github.com/reboot-codes/cloverhub/internal/store"
	"github.com/reboot-codes/cloverhub/internal/warehouse/manifest"
	"github.com/reboot-codes/cloverhub/pkg/models"
)

func strPtr(s string) *string { return &s }

func TestRegisterModules(t *testing.T) {
	s := store.New()
	s.PutRepo("com.example.repo", manifest.Manifest{
		Version: "1.0.0",
		Modules: map[string]manifest.ModuleSpec{
			"com.example.ears": {
				Name: strPtr("Ears"),
				Components: map[string]string{
					"com.example.ears.servo": "movement",
					"com.example.ears.mic":   "audio",
					"com.example.ears.bogus": "not-a-class",
				},
			},
		},
	})

	registerModules(s)

	module, ok := s.Modules()["com.example.ears"]
	if !ok {
		t.Fatal("module not registered")
	}
	if module.PrettyName != "Ears" {
		t.Errorf("PrettyName = %q, want Ears", module.PrettyName)
	}
	if module.RegisteredBy != "com.example.repo" {
		t.Errorf("RegisteredBy = %q", module.RegisteredBy)
	}
	if got := module.Components["com.example.ears.servo"]; got != models.ComponentMovement {
		t.Errorf("servo class = %q, want movement", got)
	}
	if got := module.Components["com.example.ears.mic"]; got != models.ComponentAudio {
		t.Errorf("mic class = %q, want audio", got)
	}
	if _, ok := module.Components["com.example.ears.bogus"]; ok {
		t.Error("unknown component class registered anyway")
	}
}

func TestComponentClass(t *testing.T) {
	tests := []struct {
		class string
		want  models.Component
		ok    bool
	}{
		{"audio", models.ComponentAudio, true},
		{"video", models.ComponentVideo, true},
		{"sensor", models.ComponentSensor, true},
		{"movement", models.ComponentMovement, true},
		{"Movement", "", false},
		{"", "", false},
	}

	for _, tc := range tests {
		got, ok := componentClass(tc.class)
		if got != tc.want || ok != tc.ok {
			t.Errorf("componentClass(%q) = (%q, %v), want (%q, %v)", tc.class, got, ok, tc.want, tc.ok)
		}
	}
}
