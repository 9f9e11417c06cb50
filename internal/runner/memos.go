package runner

import (
	"fmt"
	"strings"
	"time"

	"github.com/urdimbre/urdimbre-go/internal/models"
	"github.com/urdimbre/urdimbre-go/internal/vector"
)

// suggestion is one scored neighbour considered during a step.
type suggestion struct {
	FragmentID string
	Text       string
	Score      float64
}

// codeSuggestion is what the LLM proposes for a step's fragment pack.
type codeSuggestion struct {
	Codigo    string
	Confianza float64
	Memo      string
}

// renderStepMemo builds the Markdown memo artifact for one runner step.
func renderStepMemo(archivo, seedText string, step, intra int, sugs []suggestion, code *codeSuggestion, ts time.Time) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "# Memo del runner semántico\n\n")
	fmt.Fprintf(&b, "- **Entrevista:** %s\n", archivo)
	fmt.Fprintf(&b, "- **Paso global:** %d (paso %d en la entrevista)\n", step, intra)
	fmt.Fprintf(&b, "- **Fecha:** %s\n\n", ts.UTC().Format(time.RFC3339))

	fmt.Fprintf(&b, "## Semilla\n\n> %s\n\n", seedText)

	if len(sugs) > 0 {
		fmt.Fprintf(&b, "## Fragmentos próximos\n\n")
		for _, s := range sugs {
			fmt.Fprintf(&b, "- `%s` (%.3f): %s\n", s.FragmentID, s.Score, truncateText(s.Text, 200))
		}
		b.WriteString("\n")
	}

	if code != nil {
		fmt.Fprintf(&b, "## Código sugerido\n\n")
		fmt.Fprintf(&b, "**%s** (confianza %.2f)\n\n%s\n", code.Codigo, code.Confianza, code.Memo)
	}
	return []byte(b.String())
}

func truncateText(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return models.TruncateBytes(s, n) + "…"
}

// buildFragmentPack formats the seed plus top suggestions for the LLM prompt.
func buildFragmentPack(seedText string, sugs []suggestion, limit int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Fragmento semilla:\n%s\n", seedText)
	for i, s := range sugs {
		if i == limit {
			break
		}
		fmt.Fprintf(&b, "\nFragmento próximo %d (similitud %.3f):\n%s\n", i+1, s.Score, s.Text)
	}
	return b.String()
}

func toSuggestions(results []vector.Result) []suggestion {
	out := make([]suggestion, 0, len(results))
	for _, r := range results {
		out = append(out, suggestion{FragmentID: r.FragmentID, Text: r.Text, Score: r.Score})
	}
	return out
}
