package models

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoStatementNormalize(t *testing.T) {
	tests := []struct {
		name     string
		memo     MemoStatement
		wantType EpistemicType
	}{
		{
			name:     "observation with evidence stays",
			memo:     MemoStatement{Type: MemoObservation, EvidenceIDs: []string{"f1"}},
			wantType: MemoObservation,
		},
		{
			name:     "observation without evidence demoted",
			memo:     MemoStatement{Type: MemoObservation},
			wantType: MemoInterpretation,
		},
		{
			name:     "hypothesis untouched",
			memo:     MemoStatement{Type: MemoHypothesis},
			wantType: MemoHypothesis,
		},
		{
			name:     "unknown type coerced to interpretation",
			memo:     MemoStatement{Type: EpistemicType("GUESS")},
			wantType: MemoInterpretation,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.memo.Normalize()
			assert.Equal(t, tt.wantType, tt.memo.Type)
		})
	}
}

func TestCandidateValidate(t *testing.T) {
	frag := "f1"
	base := CandidateCode{
		ProjectID:       "p1",
		Codigo:          "desplazamiento",
		FragmentID:      &frag,
		Archivo:         "entrevista_01.txt",
		SourceOrigin:    OriginManual,
		ScoreConfidence: 1.0,
		Status:          CandidatePendiente,
	}

	t.Run("valid", func(t *testing.T) {
		c := base
		require.NoError(t, c.Validate())
	})

	t.Run("hipotesis requires null fragment", func(t *testing.T) {
		c := base
		c.Status = CandidateHipotesis
		assert.Error(t, c.Validate())
		c.FragmentID = nil
		assert.NoError(t, c.Validate())
	})

	t.Run("confidence bounds", func(t *testing.T) {
		c := base
		c.ScoreConfidence = 1.2
		assert.Error(t, c.Validate())
	})

	t.Run("unknown origin", func(t *testing.T) {
		c := base
		c.SourceOrigin = SourceOrigin("oracle")
		assert.Error(t, c.Validate())
	})

	t.Run("cita truncated to 500", func(t *testing.T) {
		c := base
		c.Cita = strings.Repeat("x", 900)
		require.NoError(t, c.Validate())
		assert.Len(t, c.Cita, MaxCitaLen)
	})

	t.Run("cita truncation keeps rune boundary", func(t *testing.T) {
		c := base
		// "ñ" is two bytes; an odd cap would land mid-rune on a byte cut.
		c.Cita = strings.Repeat("ñ", 600)
		require.NoError(t, c.Validate())
		assert.True(t, utf8.ValidString(c.Cita))
		assert.LessOrEqual(t, len(c.Cita), MaxCitaLen)
	})
}

func TestTruncateBytes(t *testing.T) {
	assert.Equal(t, "añ", TruncateBytes("añejo", 3))
	assert.Equal(t, "a", TruncateBytes("añejo", 2))
	assert.Equal(t, "añejo", TruncateBytes("añejo", 10))
	assert.Equal(t, "", TruncateBytes("ñ", 1))
}

func TestValidRelationType(t *testing.T) {
	for _, tipo := range AllowedRelationTypes {
		assert.True(t, ValidRelationType(tipo))
	}
	assert.False(t, ValidRelationType(RelationType("correlacion")))
}

func TestFragmentIsInterviewer(t *testing.T) {
	sp := SpeakerInterviewer
	f := Fragment{Speaker: &sp}
	assert.True(t, f.IsInterviewer())
	other := "E1"
	f.Speaker = &other
	assert.False(t, f.IsInterviewer())
	f.Speaker = nil
	assert.False(t, f.IsInterviewer())
}
