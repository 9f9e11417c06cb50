package models

import (
	"time"
	"unicode/utf8"
)

// Fragment is the atomic unit of analysis: one paragraph of one interview.
type Fragment struct {
	FragmentID string            `json:"fragment_id" db:"fragment_id"`
	ProjectID  string            `json:"project_id" db:"project_id"`
	Archivo    string            `json:"archivo" db:"archivo"`
	ParIdx     int               `json:"par_idx" db:"par_idx"`
	Speaker    *string           `json:"speaker,omitempty" db:"speaker"`
	Text       string            `json:"text" db:"text"`
	CharLen    int               `json:"char_len" db:"char_len"`
	Embedding  []float32         `json:"-" db:"-"`
	Metadata   map[string]any    `json:"metadata,omitempty" db:"-"`
	CreatedAt  time.Time         `json:"created_at" db:"created_at"`
}

// SpeakerInterviewer fragments are excluded from retrieval by default.
const SpeakerInterviewer = "interviewer"

// IsInterviewer reports whether the fragment belongs to the interviewer turn.
func (f *Fragment) IsInterviewer() bool {
	return f.Speaker != nil && *f.Speaker == SpeakerInterviewer
}

// CandidateStatus is the validation-tray state of a candidate code.
type CandidateStatus string

const (
	CandidatePendiente CandidateStatus = "pendiente"
	CandidateValidado  CandidateStatus = "validado"
	CandidateRechazado CandidateStatus = "rechazado"
	CandidateHipotesis CandidateStatus = "hipotesis"
)

// SourceOrigin records how a candidate entered the ledger.
type SourceOrigin string

const (
	OriginManual             SourceOrigin = "manual"
	OriginLLM                SourceOrigin = "llm"
	OriginSemanticSuggestion SourceOrigin = "semantic_suggestion"
	OriginLinkPrediction     SourceOrigin = "link_prediction"
)

// MaxCitaLen caps the quoted evidence text stored with a candidate.
const MaxCitaLen = 500

// CandidateCode is an entry in the validation tray.
type CandidateCode struct {
	ID              int64           `json:"id" db:"id"`
	ProjectID       string          `json:"project_id" db:"project_id"`
	Codigo          string          `json:"codigo" db:"codigo"`
	FragmentID      *string         `json:"fragment_id,omitempty" db:"fragment_id"`
	Archivo         string          `json:"archivo" db:"archivo"`
	Cita            string          `json:"cita" db:"cita"`
	SourceOrigin    SourceOrigin    `json:"source_origin" db:"source_origin"`
	ScoreConfidence float64         `json:"score_confidence" db:"score_confidence"`
	Status          CandidateStatus `json:"status" db:"status"`
	Memo            string          `json:"memo" db:"memo"`
	PromotedAt      *time.Time      `json:"promoted_at,omitempty" db:"promoted_at"`
	CreatedAt       time.Time       `json:"created_at" db:"created_at"`
}

// Validate enforces the ledger invariants at the entry of every insert.
func (c *CandidateCode) Validate() error {
	if c.ProjectID == "" {
		return errValidation("candidate requires project_id")
	}
	if c.Codigo == "" {
		return errValidation("candidate requires a code name")
	}
	if c.ScoreConfidence < 0 || c.ScoreConfidence > 1 {
		return errValidationf("score_confidence %f outside [0,1]", c.ScoreConfidence)
	}
	switch c.SourceOrigin {
	case OriginManual, OriginLLM, OriginSemanticSuggestion, OriginLinkPrediction:
	default:
		return errValidationf("unknown source_origin %q", c.SourceOrigin)
	}
	switch c.Status {
	case CandidatePendiente, CandidateValidado, CandidateRechazado:
	case CandidateHipotesis:
		// A hypothesis is a code without evidence yet.
		if c.FragmentID != nil {
			return errValidation("hipotesis status requires null fragment_id")
		}
	default:
		return errValidationf("unknown candidate status %q", c.Status)
	}
	if len(c.Cita) > MaxCitaLen {
		c.Cita = TruncateBytes(c.Cita, MaxCitaLen)
	}
	return nil
}

// TruncateBytes cuts s to at most n bytes without splitting a UTF-8 rune;
// transcript text is Spanish, so a byte slice can land mid-sequence.
func TruncateBytes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// OpenCode is a promoted (codigo, fragment) pair; created only by promotion.
type OpenCode struct {
	ID         int64     `json:"id" db:"id"`
	ProjectID  string    `json:"project_id" db:"project_id"`
	Codigo     string    `json:"codigo" db:"codigo"`
	FragmentID string    `json:"fragment_id" db:"fragment_id"`
	Archivo    string    `json:"archivo" db:"archivo"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

// RelationType is the typed Category→Code association of axial coding.
type RelationType string

const (
	RelationParteDe      RelationType = "partede"
	RelationCausa        RelationType = "causa"
	RelationCondicion    RelationType = "condicion"
	RelationConsecuencia RelationType = "consecuencia"
)

// AllowedRelationTypes is the closed set accepted by the axial engine.
var AllowedRelationTypes = []RelationType{
	RelationParteDe, RelationCausa, RelationCondicion, RelationConsecuencia,
}

// ValidRelationType reports whether tipo belongs to the allowed set.
func ValidRelationType(tipo RelationType) bool {
	for _, t := range AllowedRelationTypes {
		if t == tipo {
			return true
		}
	}
	return false
}

// AxialRelation is a validated Category→Code relation with evidence.
type AxialRelation struct {
	ID        int64        `json:"id" db:"id"`
	ProjectID string       `json:"project_id" db:"project_id"`
	Categoria string       `json:"categoria" db:"categoria"`
	Codigo    string       `json:"codigo" db:"codigo"`
	Tipo      RelationType `json:"tipo" db:"tipo"`
	Evidencia []string     `json:"evidencia" db:"-"`
	Memo      string       `json:"memo" db:"memo"`
	CreatedAt time.Time    `json:"created_at" db:"created_at"`
}

// MinAxialEvidence is the evidence gate for axial relations.
const MinAxialEvidence = 2

// EpistemicType tags memo statements by their epistemic standing.
type EpistemicType string

const (
	MemoObservation        EpistemicType = "OBSERVATION"
	MemoInterpretation     EpistemicType = "INTERPRETATION"
	MemoHypothesis         EpistemicType = "HYPOTHESIS"
	MemoNormativeInference EpistemicType = "NORMATIVE_INFERENCE"
)

// MemoStatement is one tagged analytic statement with optional evidence.
type MemoStatement struct {
	Type        EpistemicType  `json:"type"`
	Text        string         `json:"text"`
	EvidenceIDs []string       `json:"evidence_ids,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// Normalize applies the epistemic demotion rule: an OBSERVATION with no
// evidence is only an INTERPRETATION.
func (m *MemoStatement) Normalize() {
	switch m.Type {
	case MemoObservation:
		if len(m.EvidenceIDs) == 0 {
			m.Type = MemoInterpretation
		}
	case MemoInterpretation, MemoHypothesis, MemoNormativeInference:
	default:
		m.Type = MemoInterpretation
	}
}

// AuditEntry records every mutation for the audit trail.
type AuditEntry struct {
	ID        int64     `json:"id" db:"id"`
	ProjectID string    `json:"project_id" db:"project_id"`
	Actor     string    `json:"actor" db:"actor"`
	Action    string    `json:"action" db:"action"`
	Entity    string    `json:"entity" db:"entity"`
	Before    []byte    `json:"before,omitempty" db:"before_state"`
	After     []byte    `json:"after,omitempty" db:"after_state"`
	Timestamp time.Time `json:"ts" db:"ts"`
}

// InterviewInfo summarises one interview for ordering and sampling.
type InterviewInfo struct {
	Archivo        string    `json:"archivo" db:"archivo"`
	ProjectID      string    `json:"project_id" db:"project_id"`
	Fragments      int       `json:"fragments" db:"fragments"`
	CodedFragments int       `json:"coded_fragments" db:"coded_fragments"`
	AreaTematica   string    `json:"area_tematica" db:"area_tematica"`
	ActorPrincipal string    `json:"actor_principal" db:"actor_principal"`
	IngestedAt     time.Time `json:"ingested_at" db:"ingested_at"`
	UpdatedAt      time.Time `json:"updated_at" db:"updated_at"`
}

// SearchResult is one fused retrieval hit.
type SearchResult struct {
	FragmentID    string  `json:"fragment_id"`
	Archivo       string  `json:"archivo"`
	ParIdx        int     `json:"par_idx"`
	Speaker       string  `json:"speaker,omitempty"`
	Text          string  `json:"text"`
	SemanticScore float64 `json:"semantic_score"`
	BM25Score     float64 `json:"bm25_score,omitempty"`
	Score         float64 `json:"score"`
}

// DiscoveryType labels which discover path produced a result.
type DiscoveryType string

const (
	DiscoveryNative   DiscoveryType = "native"
	DiscoveryFallback DiscoveryType = "fallback"
)
