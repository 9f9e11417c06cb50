package graph

import (
	"context"
	"fmt"

	qerr "github.com/urdimbre/urdimbre-go/internal/errors"
	"github.com/urdimbre/urdimbre-go/internal/models"
)

// Projector is the graph surface the coding and axial layers depend on;
// NullProjector satisfies it when the graph store is disabled in tests.
type Projector interface {
	MergeFragment(ctx context.Context, projectID, fragmentID, archivo string, parIdx int) error
	AssignCode(ctx context.Context, projectID, codigo, fragmentID string) error
	UnassignCode(ctx context.Context, projectID, codigo, fragmentID string) error
	RenameCode(ctx context.Context, projectID, from, to string) error
	MergeCategoryRelation(ctx context.Context, rel *models.AxialRelation) error
	RemoveFragment(ctx context.Context, projectID, fragmentID string) error
}

// Every projection write stamps project_id on the nodes and on the relation;
// an edge whose project_id differs from its endpoints is a consistency defect
// the verifier reports.
const (
	cypherMergeFragment = `
		MERGE (e:Entrevista {project_id: $project_id, archivo: $archivo})
		MERGE (f:Fragmento {project_id: $project_id, fragment_id: $fragment_id})
		SET f.archivo = $archivo, f.par_idx = $par_idx
		MERGE (e)-[:CONTIENE {project_id: $project_id}]->(f)`

	cypherAssignCode = `
		MERGE (co:Codigo {project_id: $project_id, nombre: $codigo})
		MERGE (f:Fragmento {project_id: $project_id, fragment_id: $fragment_id})
		MERGE (co)-[r:CODIFICA {project_id: $project_id}]->(f)
		SET r.updated_at = timestamp()`

	cypherRenameCode = `
		MATCH (old:Codigo {project_id: $project_id, nombre: $from})
		MERGE (new:Codigo {project_id: $project_id, nombre: $to})
		WITH old, new
		OPTIONAL MATCH (old)-[r:CODIFICA]->(f:Fragmento)
		FOREACH (_ IN CASE WHEN f IS NULL THEN [] ELSE [1] END |
			MERGE (new)-[:CODIFICA {project_id: $project_id}]->(f))
		WITH old, new
		OPTIONAL MATCH (cat:Categoria)-[ar:RELACION]->(old)
		FOREACH (_ IN CASE WHEN cat IS NULL THEN [] ELSE [1] END |
			MERGE (cat)-[nr:RELACION {tipo: ar.tipo, project_id: $project_id}]->(new)
			SET nr.origen = ar.origen, nr.evidencia = ar.evidencia, nr.memo = ar.memo)
		DETACH DELETE old`

	cypherMergeRelation = `
		MERGE (cat:Categoria {project_id: $project_id, nombre: $categoria})
		MERGE (co:Codigo {project_id: $project_id, nombre: $codigo})
		MERGE (cat)-[r:RELACION {tipo: $tipo, project_id: $project_id}]->(co)
		SET r.origen = 'axial', r.evidencia = $evidencia, r.memo = $memo,
		    r.updated_at = timestamp()`
)

// MergeFragment projects a fragment node under its interview; repeated
// ingests are no-ops.
func (c *Client) MergeFragment(ctx context.Context, projectID, fragmentID, archivo string, parIdx int) error {
	_, err := c.run(ctx, cypherMergeFragment,
		map[string]any{
			"project_id":  projectID,
			"fragment_id": fragmentID,
			"archivo":     archivo,
			"par_idx":     parIdx,
		})
	if err != nil {
		return qerr.Transient(fmt.Sprintf("merge fragment %s", fragmentID), err)
	}
	return nil
}

// AssignCode projects a promoted open code as a CODIFICA edge.
func (c *Client) AssignCode(ctx context.Context, projectID, codigo, fragmentID string) error {
	_, err := c.run(ctx, cypherAssignCode,
		map[string]any{
			"project_id":  projectID,
			"codigo":      codigo,
			"fragment_id": fragmentID,
		})
	if err != nil {
		return qerr.Transient(fmt.Sprintf("assign code %q to %s", codigo, fragmentID), err)
	}
	return nil
}

// UnassignCode removes the CODIFICA edge and the code node itself once it
// codes nothing and carries no axial relation.
func (c *Client) UnassignCode(ctx context.Context, projectID, codigo, fragmentID string) error {
	_, err := c.run(ctx, `
		MATCH (co:Codigo {project_id: $project_id, nombre: $codigo})
		      -[r:CODIFICA]->(f:Fragmento {project_id: $project_id, fragment_id: $fragment_id})
		DELETE r
		WITH co
		WHERE NOT (co)-[:CODIFICA]->() AND NOT (co)<-[:RELACION]-()
		DELETE co`,
		map[string]any{
			"project_id":  projectID,
			"codigo":      codigo,
			"fragment_id": fragmentID,
		})
	if err != nil {
		return qerr.Transient(fmt.Sprintf("unassign code %q from %s", codigo, fragmentID), err)
	}
	return nil
}

// RenameCode repoints every edge of `from` onto `to` during a code merge.
func (c *Client) RenameCode(ctx context.Context, projectID, from, to string) error {
	_, err := c.run(ctx, cypherRenameCode,
		map[string]any{"project_id": projectID, "from": from, "to": to})
	if err != nil {
		return qerr.Transient(fmt.Sprintf("rename code %q to %q", from, to), err)
	}
	return nil
}

// MergeCategoryRelation projects a validated axial relation. The relation
// type lives as a property, so the closed tipo set never reaches the query
// text.
func (c *Client) MergeCategoryRelation(ctx context.Context, rel *models.AxialRelation) error {
	_, err := c.run(ctx, cypherMergeRelation,
		map[string]any{
			"project_id": rel.ProjectID,
			"categoria":  rel.Categoria,
			"codigo":     rel.Codigo,
			"tipo":       string(rel.Tipo),
			"evidencia":  rel.Evidencia,
			"memo":       rel.Memo,
		})
	if err != nil {
		return qerr.Transient(fmt.Sprintf("merge relation %s-[%s]->%s", rel.Categoria, rel.Tipo, rel.Codigo), err)
	}
	return nil
}

// RemoveFragment deletes a fragment node with its edges.
func (c *Client) RemoveFragment(ctx context.Context, projectID, fragmentID string) error {
	_, err := c.run(ctx, `
		MATCH (f:Fragmento {project_id: $project_id, fragment_id: $fragment_id})
		DETACH DELETE f`,
		map[string]any{"project_id": projectID, "fragment_id": fragmentID})
	if err != nil {
		return qerr.Transient(fmt.Sprintf("remove fragment %s", fragmentID), err)
	}
	return nil
}

// MigrateLegacyEdges relabels relation edges written by earlier versions
// with origen='descubierta' to the current origin vocabulary. Returns the
// number of edges touched.
func (c *Client) MigrateLegacyEdges(ctx context.Context, projectID string) (int, error) {
	result, err := c.run(ctx, `
		MATCH (cat:Categoria {project_id: $project_id})-[r:RELACION]->(:Codigo)
		WHERE r.origen = 'descubierta'
		SET r.origen = 'link_prediction'
		RETURN count(r) AS migrated`,
		map[string]any{"project_id": projectID})
	if err != nil {
		return 0, qerr.Transient("migrate legacy edges", err)
	}
	if len(result.Records) == 0 {
		return 0, nil
	}
	n, err := recordInt(result.Records[0], "migrated")
	if err != nil {
		return 0, err
	}
	if n > 0 {
		c.logger.Info("legacy relation edges migrated", "project", projectID, "edges", n)
	}
	return int(n), nil
}

// CodeOverlap counts fragments coded with both codes; the axial engine uses
// it to score candidate relations.
func (c *Client) CodeOverlap(ctx context.Context, projectID, codeA, codeB string) (int, error) {
	result, err := c.read(ctx, `
		MATCH (a:Codigo {project_id: $project_id, nombre: $a})-[:CODIFICA]->(f:Fragmento)
		      <-[:CODIFICA]-(b:Codigo {project_id: $project_id, nombre: $b})
		RETURN count(DISTINCT f) AS overlap`,
		map[string]any{"project_id": projectID, "a": codeA, "b": codeB})
	if err != nil {
		return 0, qerr.Transient("code overlap query", err)
	}
	if len(result.Records) == 0 {
		return 0, nil
	}
	n, err := recordInt(result.Records[0], "overlap")
	return int(n), err
}

// CategoryEdge is one axial relation as stored in the graph.
type CategoryEdge struct {
	Categoria string   `json:"categoria"`
	Codigo    string   `json:"codigo"`
	Tipo      string   `json:"tipo"`
	Origen    string   `json:"origen"`
	Evidencia []string `json:"evidencia,omitempty"`
}

// CategorySubgraph returns the relations under one category, or the whole
// project when categoria is empty.
func (c *Client) CategorySubgraph(ctx context.Context, projectID, categoria string) ([]CategoryEdge, error) {
	result, err := c.read(ctx, `
		MATCH (cat:Categoria {project_id: $project_id})-[r:RELACION]->(co:Codigo)
		WHERE $categoria = '' OR cat.nombre = $categoria
		RETURN cat.nombre AS categoria, co.nombre AS codigo, r.tipo AS tipo,
		       coalesce(r.origen, '') AS origen, coalesce(r.evidencia, []) AS evidencia
		ORDER BY categoria, codigo`,
		map[string]any{"project_id": projectID, "categoria": categoria})
	if err != nil {
		return nil, qerr.Transient("category subgraph query", err)
	}

	edges := make([]CategoryEdge, 0, len(result.Records))
	for _, rec := range result.Records {
		e := CategoryEdge{
			Categoria: recordString(rec, "categoria"),
			Codigo:    recordString(rec, "codigo"),
			Tipo:      recordString(rec, "tipo"),
			Origen:    recordString(rec, "origen"),
		}
		if v, ok := rec.Get("evidencia"); ok {
			if list, ok := v.([]any); ok {
				for _, item := range list {
					if s, ok := item.(string); ok {
						e.Evidencia = append(e.Evidencia, s)
					}
				}
			}
		}
		edges = append(edges, e)
	}
	return edges, nil
}

// FragmentIDs lists every projected fragment of a project; the tri-store
// verifier compares this against the relational anchor.
func (c *Client) FragmentIDs(ctx context.Context, projectID string) ([]string, error) {
	result, err := c.read(ctx, `
		MATCH (f:Fragmento {project_id: $project_id})
		RETURN f.fragment_id AS fragment_id`,
		map[string]any{"project_id": projectID})
	if err != nil {
		return nil, qerr.Transient("list graph fragments", err)
	}
	ids := make([]string, 0, len(result.Records))
	for _, rec := range result.Records {
		ids = append(ids, recordString(rec, "fragment_id"))
	}
	return ids, nil
}

// EdgeTenantViolations counts relationships between this project's nodes
// whose project_id property is missing or disagrees with the endpoints.
// Writes always stamp the relation, so anything counted here was written by
// an older version or by hand.
func (c *Client) EdgeTenantViolations(ctx context.Context, projectID string) (int, error) {
	result, err := c.read(ctx, `
		MATCH (a {project_id: $project_id})-[r]->(b {project_id: $project_id})
		WHERE r.project_id IS NULL OR r.project_id <> $project_id
		RETURN count(r) AS violations`,
		map[string]any{"project_id": projectID})
	if err != nil {
		return 0, qerr.Transient("edge tenant audit", err)
	}
	if len(result.Records) == 0 {
		return 0, nil
	}
	n, err := recordInt(result.Records[0], "violations")
	return int(n), err
}

// CoOccurrenceEdge links two codes that code at least one common fragment.
type CoOccurrenceEdge struct {
	CodeA  string
	CodeB  string
	Weight float64
}

// CoOccurrenceGraph exports the project's code co-occurrence edges for the
// in-memory algorithm engine.
func (c *Client) CoOccurrenceGraph(ctx context.Context, projectID string) ([]CoOccurrenceEdge, error) {
	result, err := c.read(ctx, `
		MATCH (a:Codigo {project_id: $project_id})-[:CODIFICA]->(f:Fragmento)
		      <-[:CODIFICA]-(b:Codigo {project_id: $project_id})
		WHERE a.nombre < b.nombre
		RETURN a.nombre AS code_a, b.nombre AS code_b, count(DISTINCT f) AS weight`,
		map[string]any{"project_id": projectID})
	if err != nil {
		return nil, qerr.Transient("co-occurrence query", err)
	}

	edges := make([]CoOccurrenceEdge, 0, len(result.Records))
	for _, rec := range result.Records {
		w, err := recordInt(rec, "weight")
		if err != nil {
			return nil, err
		}
		edges = append(edges, CoOccurrenceEdge{
			CodeA:  recordString(rec, "code_a"),
			CodeB:  recordString(rec, "code_b"),
			Weight: float64(w),
		})
	}
	return edges, nil
}

// PersistCodeScores writes centrality and community results back onto the
// code nodes.
func (c *Client) PersistCodeScores(ctx context.Context, projectID string, centrality map[string]float64, community map[string]int) error {
	for nombre, score := range centrality {
		params := map[string]any{
			"project_id": projectID,
			"nombre":     nombre,
			"score":      score,
		}
		query := `
			MATCH (co:Codigo {project_id: $project_id, nombre: $nombre})
			SET co.score_centralidad = $score`
		if cid, ok := community[nombre]; ok {
			params["community"] = cid
			query += `, co.community_id = $community`
		}
		if _, err := c.run(ctx, query, params); err != nil {
			return qerr.Transient(fmt.Sprintf("persist scores for %q", nombre), err)
		}
	}
	return nil
}

// NullProjector discards projections; used when the graph store is disabled.
type NullProjector struct{}

func (NullProjector) MergeFragment(context.Context, string, string, string, int) error { return nil }
func (NullProjector) AssignCode(context.Context, string, string, string) error        { return nil }
func (NullProjector) UnassignCode(context.Context, string, string, string) error      { return nil }
func (NullProjector) RenameCode(context.Context, string, string, string) error        { return nil }
func (NullProjector) MergeCategoryRelation(context.Context, *models.AxialRelation) error {
	return nil
}
func (NullProjector) RemoveFragment(context.Context, string, string) error { return nil }
