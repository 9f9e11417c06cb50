package graph

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

// Every relationship MERGE must stamp project_id on the edge itself, not only
// on the endpoint nodes; EdgeTenantViolations audits stored edges against the
// same rule.
func TestProjectionRelationsCarryTenant(t *testing.T) {
	queries := map[string]string{
		"merge fragment": cypherMergeFragment,
		"assign code":    cypherAssignCode,
		"rename code":    cypherRenameCode,
		"merge relation": cypherMergeRelation,
	}
	for name, query := range queries {
		for _, line := range strings.Split(query, "\n") {
			if !strings.Contains(line, "MERGE") || !strings.Contains(line, "]->(") {
				continue
			}
			assert.Contains(t, line, "project_id",
				"%s: relation merge without tenant: %s", name, strings.TrimSpace(line))
		}
	}
}

func TestProjectionRelationTypesCovered(t *testing.T) {
	// The three edge types of the projection all appear in a tenant-stamped
	// MERGE somewhere.
	all := cypherMergeFragment + cypherAssignCode + cypherRenameCode + cypherMergeRelation
	for _, rel := range []string{":CONTIENE", ":CODIFICA", ":RELACION"} {
		assert.Contains(t, all, rel)
	}
}
