package language

import "testing"

func TestDetect(t *testing.T) {
	cases := []struct {
		name       string
		text       string
		wantLang   string
		wantConf   float64
	}{
		{"spanish accented si", "Sí, mañana está bien", "es", 0.9},
		{"spanish unaccented si", "si gracias", "es", 0.9},
		{"spanish hola", "Hola! que tal", "es", 0.9},
		{"portuguese sim", "Sim, pode ser", "pt", 0.9},
		{"portuguese obrigado", "muito obrigado", "pt", 0.9},
		{"english yes", "Yes, that works for me", "en", 0.8},
		{"english thanks", "thanks!", "en", 0.8},
		{"spanish wins over english", "si yes", "es", 0.9},
		{"no indicators", "ok 123", "unknown", 0.0},
		{"empty", "", "unknown", 0.0},
		{"whitespace only", "   ", "unknown", 0.0},
		{"punctuation around token", "Hola, amigo.", "es", 0.9},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			lang, conf := Detect(tc.text)
			if lang != tc.wantLang {
				t.Errorf("Detect(%q) lang = %q, want %q", tc.text, lang, tc.wantLang)
			}
			if conf != tc.wantConf {
				t.Errorf("Detect(%q) confidence = %v, want %v", tc.text, conf, tc.wantConf)
			}
		})
	}
}

func TestDetect_NoSubstringFalsePositives(t *testing.T) {
	// "simple" contains "sim" and "yesterday" contains "yes"; token matching
	// must not fire on substrings.
	lang, conf := Detect("a simple note about yesterday")
	if lang != "unknown" || conf != 0.0 {
		t.Fatalf("expected unknown/0, got %s/%v", lang, conf)
	}
}
