package textnorm_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"cubeo/internal/textnorm"
)

func TestNormalize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", ""},
		{"whitespace only", "   \t\n", ""},
		{"lowercase and accents", "¿Cómo ESTÁS, Señor?", "como estas senor"},
		{"keeps barred i", "Tɨ kɨrɨ", "tɨ kɨrɨ"},
		{"nasal vowels lose tilde", "ãwẽ", "awe"},
		{"digits become spaces", "uno 2 tres", "uno tres"},
		{"collapses whitespace", "  hola   amigo  ", "hola amigo"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, textnorm.Normalize(tt.in))
		})
	}
}

func TestNormalizeForSearch_KeepsDigits(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "capitulo 3", textnorm.NormalizeForSearch("Capítulo 3!"))
}

func TestLettersOnly(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "amigó", textnorm.LettersOnly("¡Amigó!"))
	assert.Equal(t, "", textnorm.LettersOnly("123"))
}

func TestMeaningfulWords(t *testing.T) {
	t.Parallel()

	t.Run("empty yields nothing", func(t *testing.T) {
		assert.Empty(t, textnorm.MeaningfulWords(""))
	})

	t.Run("spanish drops stop words and short tokens", func(t *testing.T) {
		got := textnorm.MeaningfulWords("el perro de la casa y a mi amigo")
		assert.Equal(t, []string{"perro", "casa", "amigo"}, got)
	})

	t.Run("pamiwa keeps particles in short texts", func(t *testing.T) {
		got := textnorm.MeaningfulWords("kɨ wa")
		assert.Equal(t, []string{"kɨ", "wa"}, got)
	})

	t.Run("pamiwa drops particles in longer texts", func(t *testing.T) {
		got := textnorm.MeaningfulWords("kɨ jãre wa bɨkɨ")
		assert.Equal(t, []string{"jare", "bɨkɨ"}, got)
	})
}

func TestDetectLanguage(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want textnorm.Language
	}{
		{"", textnorm.Unknown},
		{"el perro come con la familia", textnorm.Spanish},
		{"hola", textnorm.Spanish},
		{"kɨrɨ bɨkɨ", textnorm.Pamiwa},
		{"xyz", textnorm.Unknown},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, textnorm.DetectLanguage(tt.in))
		})
	}
}

func TestKeywords(t *testing.T) {
	t.Parallel()

	t.Run("spanish prefers longest", func(t *testing.T) {
		got := textnorm.Keywords("hola mi querido amigo del alma", 3)
		assert.Equal(t, []string{"querido", "amigo", "hola"}, got)
	})

	t.Run("deduplicates", func(t *testing.T) {
		got := textnorm.Keywords("casa casa casa de la playa", 3)
		assert.Equal(t, []string{"playa", "casa"}, got)
	})

	t.Run("pamiwa rewards barred i", func(t *testing.T) {
		got := textnorm.Keywords("bɨkɨ wane", 1)
		assert.Equal(t, []string{"bɨkɨ"}, got)
	})

	t.Run("zero max", func(t *testing.T) {
		assert.Nil(t, textnorm.Keywords("hola amigo", 0))
	})
}
