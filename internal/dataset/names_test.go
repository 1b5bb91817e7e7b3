package dataset

import (
	"crypto/sha1"
	"encoding/hex"
	"strings"
	"testing"
)

func sha1Hex(s string) string {
	sum := sha1.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

func TestTableName(t *testing.T) {
	long90 := strings.Repeat("Abc De", 15) // 90 chars, mixed case and spaces

	tests := []struct {
		name       string
		identifier string
		want       string
	}{
		{
			name:       "accents folded and spaces replaced",
			identifier: "Zona Protección Especial Río Miño",
			want:       "zona_proteccion_especial_rio_mino",
		},
		{
			name:       "punctuation replaced",
			identifier: "Red-Natura 2000 (ES)",
			want:       "red_natura_2000__es_",
		},
		{
			name:       "already normalized",
			identifier: "limites_municipales",
			want:       "limites_municipales",
		},
		{
			name:       "non latin characters dropped",
			identifier: "河川 rivers",
			want:       "_rivers",
		},
		{
			name:       "ninety characters hashed",
			identifier: long90,
			want:       sha1Hex(long90),
		},
		{
			name:       "exactly sixty characters hashed",
			identifier: strings.Repeat("a", 60),
			want:       sha1Hex(strings.Repeat("a", 60)),
		},
		{
			name:       "fifty nine characters kept",
			identifier: strings.Repeat("a", 59),
			want:       strings.Repeat("a", 59),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := TableName(tt.identifier)
			if got != tt.want {
				t.Errorf("TableName(%q) = %q, want %q", tt.identifier, got, tt.want)
			}
			if again := TableName(tt.identifier); again != got {
				t.Errorf("TableName not deterministic: %q then %q", got, again)
			}
		})
	}
}

func TestTableName_HashShape(t *testing.T) {
	got := TableName(strings.Repeat("Mixed Case Words ", 6))
	if len(got) != 40 {
		t.Fatalf("len = %d, want 40", len(got))
	}
	for _, r := range got {
		if !(r >= '0' && r <= '9' || r >= 'a' && r <= 'f') {
			t.Fatalf("hash %q contains non lowercase hex rune %q", got, r)
		}
	}
}

func TestTableName_CharacterSet(t *testing.T) {
	inputs := []string{
		"Espacios Naturales Protegidos",
		"ÁREAS de Interés / Geológico",
		"tab\tand\nnewline",
		"ﬁligrana", // compatibility ligature decomposes under NFKD
		"",
	}
	for _, in := range inputs {
		got := TableName(in)
		for _, r := range got {
			ok := r >= '0' && r <= '9' || r >= 'a' && r <= 'z' || r == '_'
			if !ok {
				t.Errorf("TableName(%q) = %q contains %q", in, got, r)
			}
		}
	}
}

func TestLayerName(t *testing.T) {
	table := TableName("Zona Protección Especial Río Miño")
	if got := LayerName(table); got != table {
		t.Errorf("LayerName(%q) = %q, want unchanged", table, got)
	}

	long := strings.Repeat("x", 80)
	if got := LayerName(long); got != sha1Hex(long) {
		t.Errorf("LayerName of 80 chars = %q, want sha1", got)
	}
	if got := LayerName(strings.Repeat("x", 79)); got != strings.Repeat("x", 79) {
		t.Errorf("LayerName of 79 chars hashed unexpectedly: %q", got)
	}
}

func TestNormalize_Ligature(t *testing.T) {
	if got := Normalize("ﬁligrana"); got != "filigrana" {
		t.Errorf("Normalize = %q, want filigrana", got)
	}
}
