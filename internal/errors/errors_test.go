package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"timeout keyword", fmt.Errorf("request timeout after 5s"), true},
		{"gateway keyword", fmt.Errorf("bad gateway from upstream"), true},
		{"502 keyword", fmt.Errorf("upstream returned 502"), true},
		{"temporarily unavailable", fmt.Errorf("service temporarily unavailable"), true},
		{"plain failure", fmt.Errorf("constraint violation"), false},
		{"transient kind", Transient("vector upsert", fmt.Errorf("boom")), true},
		{"persistent kind wins over keyword", Persistent("bad creds", fmt.Errorf("timeout in schema")), false},
		{"validation kind never transient", Validation("bad relation type timeout"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, 200},
		{"validation", Validation("bad input"), 400},
		{"ownership", Ownership("not yours"), 403},
		{"not found", NotFound("no such task"), 404},
		{"axial not ready", &AxialNotReadyError{BlockingReasons: []string{"no plateau"}}, 409},
		{"axial gate", &AxialError{Reason: "≥2 evidence"}, 400},
		{"transient upstream", Transient("qdrant", fmt.Errorf("x")), 502},
		{"persistent upstream", Persistent("schema", fmt.Errorf("x")), 502},
		{"unknown", fmt.Errorf("boom"), 500},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HTTPStatus(tt.err))
		})
	}
}

func TestWrapNil(t *testing.T) {
	assert.Nil(t, Wrap(nil, KindTransient, "ignored"))
}

func TestIsFatal(t *testing.T) {
	assert.True(t, IsFatal(Persistent("missing schema", fmt.Errorf("x"))))
	assert.False(t, IsFatal(Transient("blip", fmt.Errorf("x"))))
	assert.False(t, IsFatal(nil))
}

func TestWithContext(t *testing.T) {
	e := Validation("bad").WithContext("project", "p1")
	assert.Contains(t, e.DetailedString(), "project=p1")
	assert.Contains(t, e.DetailedString(), "[VALIDATION]")
}
