package ingest

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/urdimbre/urdimbre-go/internal/models"
)

const threeTurnDoc = `Entrevistador: ¿Qué pasó?
Entrevistado: Llegó el pueblo entero.
Entrevistado: Nadie faltó.`

func TestParseTurns(t *testing.T) {
	turns := ParseTurns(threeTurnDoc)
	require.Len(t, turns, 3)

	assert.Equal(t, models.SpeakerInterviewer, turns[0].Speaker)
	assert.Equal(t, "¿Qué pasó?", turns[0].Text)
	assert.Equal(t, "entrevistado", turns[1].Speaker)
	assert.Equal(t, "Llegó el pueblo entero.", turns[1].Text)
	assert.Equal(t, "entrevistado", turns[2].Speaker)
}

func TestParseTurnsContinuationLines(t *testing.T) {
	raw := "Entrevistado: La primera parte\ny la continuación sin prefijo.\n\nEntrevistador: ¿Y luego?"
	turns := ParseTurns(raw)
	require.Len(t, turns, 2)
	assert.Equal(t, "La primera parte y la continuación sin prefijo.", turns[0].Text)
}

func TestParseTurnsNoSpeakerPrefix(t *testing.T) {
	turns := ParseTurns("solo un párrafo suelto\nen dos líneas")
	require.Len(t, turns, 1)
	assert.Equal(t, "", turns[0].Speaker)
	assert.Equal(t, "solo un párrafo suelto en dos líneas", turns[0].Text)
}

func TestParseDocumentDropsInterviewer(t *testing.T) {
	fragments, err := ParseDocument("p1", "entrevista_01.txt", threeTurnDoc, 10, 200, false)
	require.NoError(t, err)
	require.Len(t, fragments, 2)

	assert.Equal(t, 0, fragments[0].ParIdx)
	assert.Equal(t, "Llegó el pueblo entero.", fragments[0].Text)
	assert.Equal(t, 1, fragments[1].ParIdx)
	assert.Equal(t, "Nadie faltó.", fragments[1].Text)
	for _, f := range fragments {
		require.NotNil(t, f.Speaker)
		assert.Equal(t, "entrevistado", *f.Speaker)
		assert.False(t, f.IsInterviewer())
	}
}

func TestParseDocumentKeepInterviewer(t *testing.T) {
	fragments, err := ParseDocument("p1", "entrevista_01.txt", threeTurnDoc, 10, 200, true)
	require.NoError(t, err)
	require.Len(t, fragments, 3)
	assert.True(t, fragments[0].IsInterviewer())
}

func TestParseDocumentValidation(t *testing.T) {
	_, err := ParseDocument("", "e.txt", "Entrevistado: algo", 10, 200, false)
	require.Error(t, err)

	_, err = ParseDocument("p1", "", "Entrevistado: algo", 10, 200, false)
	require.Error(t, err)

	_, err = ParseDocument("p1", "e.txt", "Entrevistado: algo", 300, 200, false)
	require.Error(t, err)

	_, err = ParseDocument("p1", "e.txt", "", 10, 200, false)
	require.Error(t, err)
}

func TestSplitFragment(t *testing.T) {
	t.Run("short text stays whole", func(t *testing.T) {
		pieces := SplitFragment("corto.", 10, 200)
		assert.Equal(t, []string{"corto."}, pieces)
	})

	t.Run("splits on sentence boundary", func(t *testing.T) {
		text := strings.Repeat("Una frase completa aquí. ", 20)
		pieces := SplitFragment(text, 80, 200)
		require.Greater(t, len(pieces), 1)
		for _, p := range pieces {
			assert.LessOrEqual(t, len(p), 200)
			assert.True(t, strings.HasSuffix(p, "."), "piece should end at a sentence: %q", p)
		}
	})

	t.Run("short tail merges backward", func(t *testing.T) {
		text := strings.Repeat("Frase de relleno para ocupar espacio aquí. ", 5) + "Fin."
		pieces := SplitFragment(text, 80, 120)
		last := pieces[len(pieces)-1]
		assert.GreaterOrEqual(t, len(last), 4)
		assert.Contains(t, strings.Join(pieces, " "), "Fin.")
	})

	t.Run("hard cut when no boundary", func(t *testing.T) {
		text := strings.Repeat("x", 500)
		pieces := SplitFragment(text, 80, 200)
		require.Len(t, pieces, 3)
		assert.Len(t, pieces[0], 200)
	})
}

func TestFragmentIDStable(t *testing.T) {
	a := FragmentID("entrevista_01.txt", 3)
	b := FragmentID("entrevista_01.txt", 3)
	c := FragmentID("entrevista_01.txt", 4)
	d := FragmentID("entrevista_02.txt", 3)

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.NotEqual(t, a, d)
	assert.True(t, strings.HasSuffix(a, "_0003"))

	// Case differences in archivo do not change the id.
	assert.Equal(t, a, FragmentID("Entrevista_01.TXT", 3))
}
