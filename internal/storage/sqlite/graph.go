package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/borjamoskv/cortex/internal/debug"
	"github.com/borjamoskv/cortex/internal/graph"
	"github.com/borjamoskv/cortex/internal/temporal"
	"github.com/borjamoskv/cortex/internal/types"
)

// The engine is the local graph backend.
var _ graph.Backend = (*Engine)(nil)

// processFactGraph runs extraction for one fact and applies the mutations
// to every configured backend: the local store synchronously (sharing the
// fact's transaction), the remote best-effort with failures demoted to the
// CDC outbox. Extraction problems never fail the store.
func (e *Engine) processFactGraph(ctx context.Context, tx *sql.Tx, factID int64, content, project, ts string) {
	entities, relations := graph.Extract(content)
	if len(entities) == 0 {
		return
	}

	entityIDs := make(map[string]int64, len(entities))
	for _, ent := range entities {
		id, err := upsertEntity(ctx, tx, ent.Name, ent.Type, project, ts)
		if err != nil {
			debug.Logf("cortex: graph entity upsert failed for fact %d: %v\n", factID, err)
			return
		}
		entityIDs[ent.Name] = id
	}
	for _, rel := range relations {
		sid, sok := entityIDs[rel.SourceName]
		tid, tok := entityIDs[rel.TargetName]
		if !sok || !tok {
			continue
		}
		if _, err := upsertRelation(ctx, tx, sid, tid, rel.RelationType, factID, ts); err != nil {
			debug.Logf("cortex: graph relation upsert failed for fact %d: %v\n", factID, err)
			return
		}
	}

	if e.opts.Remote != nil {
		if err := e.remoteWrite(ctx, factID, project, ts, entities, relations); err != nil {
			debug.Logf("cortex: remote graph write failed for fact %d, demoting to outbox: %v\n", factID, err)
			if err := enqueueOutbox(ctx, tx, factID, "sync_graph"); err != nil {
				debug.Logf("cortex: outbox enqueue failed for fact %d: %v\n", factID, err)
			}
		}
	}
}

func (e *Engine) remoteWrite(ctx context.Context, factID int64, project, ts string, entities []graph.ExtractedEntity, relations []graph.ExtractedRelation) error {
	remoteIDs := make(map[string]int64, len(entities))
	for _, ent := range entities {
		id, err := e.opts.Remote.UpsertEntity(ctx, ent.Name, ent.Type, project, ts)
		if err != nil {
			return err
		}
		remoteIDs[ent.Name] = id
	}
	for _, rel := range relations {
		sid, sok := remoteIDs[rel.SourceName]
		tid, tok := remoteIDs[rel.TargetName]
		if !sok || !tok {
			continue
		}
		if _, err := e.opts.Remote.UpsertRelation(ctx, sid, tid, rel.RelationType, factID, ts); err != nil {
			return err
		}
	}
	return nil
}

// upsertEntity increments the mention count of an existing (name, project)
// entity or inserts a new one.
func upsertEntity(ctx context.Context, q execer, name, entityType, project, ts string) (int64, error) {
	var id, count int64
	err := q.QueryRowContext(ctx,
		"SELECT id, mention_count FROM entities WHERE name = ? AND project = ?",
		name, project).Scan(&id, &count)
	switch {
	case err == nil:
		if _, err := q.ExecContext(ctx,
			"UPDATE entities SET mention_count = ?, last_seen = ? WHERE id = ?",
			count+1, ts, id); err != nil {
			return 0, fmt.Errorf("failed to update entity: %w", err)
		}
		return id, nil
	case errors.Is(err, sql.ErrNoRows):
		res, err := q.ExecContext(ctx,
			"INSERT INTO entities (name, entity_type, project, first_seen, last_seen, mention_count) VALUES (?, ?, ?, ?, ?, 1)",
			name, entityType, project, ts, ts)
		if err != nil {
			return 0, fmt.Errorf("failed to insert entity: %w", err)
		}
		return res.LastInsertId()
	default:
		return 0, fmt.Errorf("failed to look up entity: %w", err)
	}
}

// upsertRelation bumps the weight of an existing directed pair by 0.5 and
// refreshes its type, or inserts the edge with weight 1.0.
func upsertRelation(ctx context.Context, q execer, sourceID, targetID int64, relationType string, factID int64, ts string) (int64, error) {
	var id int64
	var weight float64
	err := q.QueryRowContext(ctx,
		"SELECT id, weight FROM entity_relations WHERE source_entity_id = ? AND target_entity_id = ?",
		sourceID, targetID).Scan(&id, &weight)
	switch {
	case err == nil:
		if _, err := q.ExecContext(ctx,
			"UPDATE entity_relations SET weight = ?, relation_type = ? WHERE id = ?",
			weight+0.5, relationType, id); err != nil {
			return 0, fmt.Errorf("failed to update relation: %w", err)
		}
		return id, nil
	case errors.Is(err, sql.ErrNoRows):
		res, err := q.ExecContext(ctx,
			"INSERT INTO entity_relations (source_entity_id, target_entity_id, relation_type, weight, first_seen, source_fact_id) VALUES (?, ?, ?, 1.0, ?, ?)",
			sourceID, targetID, relationType, ts, factID)
		if err != nil {
			return 0, fmt.Errorf("failed to insert relation: %w", err)
		}
		return res.LastInsertId()
	default:
		return 0, fmt.Errorf("failed to look up relation: %w", err)
	}
}

// UpsertEntity exposes the local backend mutation (graph.Backend).
func (e *Engine) UpsertEntity(ctx context.Context, name, entityType, project, ts string) (int64, error) {
	if ts == "" {
		ts = temporal.NowISO()
	}
	return upsertEntity(ctx, e.db, name, entityType, project, ts)
}

// UpsertRelation exposes the local backend mutation (graph.Backend).
func (e *Engine) UpsertRelation(ctx context.Context, sourceID, targetID int64, relationType string, factID int64, ts string) (int64, error) {
	if ts == "" {
		ts = temporal.NowISO()
	}
	return upsertRelation(ctx, e.db, sourceID, targetID, relationType, factID, ts)
}

// DeleteFactElements removes the relations a fact originated. Entities stay:
// they may be referenced by other facts.
func (e *Engine) DeleteFactElements(ctx context.Context, factID int64) error {
	_, err := e.db.ExecContext(ctx,
		"DELETE FROM entity_relations WHERE source_fact_id = ?", factID)
	return wrapDBErrorf(err, "delete graph elements for fact %d", factID)
}

// GetGraph returns the top-N entities by mention count with every relation
// among them, plus totals.
func (e *Engine) GetGraph(ctx context.Context, project string, limit int) (*types.GraphView, error) {
	if limit <= 0 {
		limit = 50
	}

	query := "SELECT id, name, entity_type, project, first_seen, last_seen, mention_count FROM entities"
	var args []any
	if project != "" {
		query += " WHERE project = ?"
		args = append(args, project)
	}
	query += " ORDER BY mention_count DESC LIMIT ?"
	args = append(args, limit)

	rows, err := e.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapDBError("get graph", err)
	}

	view := &types.GraphView{}
	var ids []int64
	for rows.Next() {
		var ent types.Entity
		if err := rows.Scan(&ent.ID, &ent.Name, &ent.EntityType, &ent.Project, &ent.FirstSeen, &ent.LastSeen, &ent.MentionCount); err != nil {
			rows.Close()
			return nil, wrapDBError("scan entity", err)
		}
		view.Entities = append(view.Entities, ent)
		ids = append(ids, ent.ID)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	if len(ids) == 0 {
		return view, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	relQuery := fmt.Sprintf(
		`SELECT id, source_entity_id, target_entity_id, relation_type, weight, first_seen, COALESCE(source_fact_id, 0)
		 FROM entity_relations
		 WHERE source_entity_id IN (%s) AND target_entity_id IN (%s)`,
		placeholders, placeholders)
	relArgs := make([]any, 0, len(ids)*2)
	for _, id := range ids {
		relArgs = append(relArgs, id)
	}
	for _, id := range ids {
		relArgs = append(relArgs, id)
	}

	relRows, err := e.db.QueryContext(ctx, relQuery, relArgs...)
	if err != nil {
		return nil, wrapDBError("get graph relations", err)
	}
	defer relRows.Close()
	for relRows.Next() {
		var r types.Relation
		if err := relRows.Scan(&r.ID, &r.SourceID, &r.TargetID, &r.RelationType, &r.Weight, &r.FirstSeen, &r.SourceFactID); err != nil {
			return nil, wrapDBError("scan relation", err)
		}
		view.Relations = append(view.Relations, r)
	}
	if err := relRows.Err(); err != nil {
		return nil, err
	}

	countEntQuery := "SELECT COUNT(*) FROM entities"
	countRelQuery := "SELECT COUNT(*) FROM entity_relations"
	var countArgs []any
	if project != "" {
		countEntQuery += " WHERE project = ?"
		countRelQuery = `SELECT COUNT(*) FROM entity_relations er
			JOIN entities e ON er.source_entity_id = e.id WHERE e.project = ?`
		countArgs = append(countArgs, project)
	}
	if err := e.db.QueryRowContext(ctx, countEntQuery, countArgs...).Scan(&view.Stats.TotalEntities); err != nil {
		return nil, wrapDBError("count entities", err)
	}
	if err := e.db.QueryRowContext(ctx, countRelQuery, countArgs...).Scan(&view.Stats.TotalRelations); err != nil {
		return nil, wrapDBError("count relations", err)
	}
	return view, nil
}

// QueryEntity returns an entity by name (most-mentioned across projects
// when project is empty) with up to 20 highest-weight connections.
func (e *Engine) QueryEntity(ctx context.Context, name, project string) (*types.EntityView, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("%w: entity name cannot be empty", ErrInvalidInput)
	}

	query := "SELECT id, name, entity_type, project, first_seen, last_seen, mention_count FROM entities WHERE name = ?"
	args := []any{name}
	if project != "" {
		query += " AND project = ?"
		args = append(args, project)
	} else {
		query += " ORDER BY mention_count DESC LIMIT 1"
	}

	var ent types.Entity
	err := e.db.QueryRowContext(ctx, query, args...).
		Scan(&ent.ID, &ent.Name, &ent.EntityType, &ent.Project, &ent.FirstSeen, &ent.LastSeen, &ent.MentionCount)
	if err != nil {
		return nil, wrapDBErrorf(err, "query entity %q", name)
	}

	rows, err := e.db.QueryContext(ctx,
		`SELECT e.name, e.entity_type, er.relation_type, er.weight
		 FROM entity_relations er
		 JOIN entities e ON (CASE WHEN er.source_entity_id = ? THEN er.target_entity_id ELSE er.source_entity_id END = e.id)
		 WHERE er.source_entity_id = ? OR er.target_entity_id = ?
		 ORDER BY er.weight DESC LIMIT 20`,
		ent.ID, ent.ID, ent.ID)
	if err != nil {
		return nil, wrapDBError("query entity connections", err)
	}
	defer rows.Close()

	view := &types.EntityView{Entity: ent}
	for rows.Next() {
		var c types.EntityConnection
		if err := rows.Scan(&c.Name, &c.EntityType, &c.RelationType, &c.Weight); err != nil {
			return nil, wrapDBError("scan connection", err)
		}
		view.Connections = append(view.Connections, c)
	}
	return view, rows.Err()
}

// FindPath runs an undirected BFS between two entity names up to maxDepth
// hops. Returns the first path found as an ordered edge list, or nil when
// unreachable.
func (e *Engine) FindPath(ctx context.Context, source, target string, maxDepth int) ([]types.PathStep, error) {
	if maxDepth <= 0 {
		maxDepth = 3
	}

	rows, err := e.db.QueryContext(ctx,
		"SELECT id, name FROM entities WHERE name IN (?, ?)", source, target)
	if err != nil {
		return nil, wrapDBError("find path", err)
	}
	idByName := map[string]int64{}
	for rows.Next() {
		var id int64
		var name string
		if err := rows.Scan(&id, &name); err != nil {
			rows.Close()
			return nil, wrapDBError("find path scan", err)
		}
		idByName[name] = id
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	startID, okS := idByName[source]
	endID, okT := idByName[target]
	if !okS || !okT {
		return nil, nil
	}

	type queued struct {
		id   int64
		path []types.PathStep
	}
	queue := []queued{{id: startID}}
	visited := map[int64]bool{startID: true}

	for len(queue) > 0 {
		curr := queue[0]
		queue = queue[1:]
		if len(curr.path) >= maxDepth {
			continue
		}

		nRows, err := e.db.QueryContext(ctx,
			`SELECT e.id, e.name, er.relation_type, er.weight
			 FROM entity_relations er
			 JOIN entities e ON (CASE WHEN er.source_entity_id = ? THEN er.target_entity_id ELSE er.source_entity_id END = e.id)
			 WHERE er.source_entity_id = ? OR er.target_entity_id = ?`,
			curr.id, curr.id, curr.id)
		if err != nil {
			return nil, wrapDBError("find path neighbors", err)
		}

		type neighbor struct {
			id     int64
			name   string
			rel    string
			weight float64
		}
		var neighbors []neighbor
		for nRows.Next() {
			var n neighbor
			if err := nRows.Scan(&n.id, &n.name, &n.rel, &n.weight); err != nil {
				nRows.Close()
				return nil, wrapDBError("find path scan neighbor", err)
			}
			neighbors = append(neighbors, n)
		}
		if err := nRows.Err(); err != nil {
			nRows.Close()
			return nil, err
		}
		nRows.Close()

		for _, n := range neighbors {
			stepSource := "intermediate"
			if curr.id == startID {
				stepSource = source
			}
			step := types.PathStep{
				Source:       stepSource,
				Target:       n.name,
				RelationType: n.rel,
				Weight:       n.weight,
			}
			if n.id == endID {
				return append(curr.path, step), nil
			}
			if !visited[n.id] {
				visited[n.id] = true
				queue = append(queue, queued{id: n.id, path: append(append([]types.PathStep{}, curr.path...), step)})
			}
		}
	}
	return nil, nil
}

// GetContextSubgraph expands the graph outward from seed entity names,
// layer by layer, stopping at depth or maxNodes. Nodes and edges are
// deduplicated.
func (e *Engine) GetContextSubgraph(ctx context.Context, seeds []string, depth, maxNodes int) (*types.Subgraph, error) {
	if len(seeds) == 0 {
		return &types.Subgraph{}, nil
	}
	if depth <= 0 {
		depth = 2
	}
	if maxNodes <= 0 {
		maxNodes = 50
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(seeds)), ",")
	args := make([]any, len(seeds))
	for i, s := range seeds {
		args[i] = s
	}
	rows, err := e.db.QueryContext(ctx,
		fmt.Sprintf("SELECT id, name, entity_type FROM entities WHERE name IN (%s)", placeholders),
		args...)
	if err != nil {
		return nil, wrapDBError("subgraph seeds", err)
	}

	sub := &types.Subgraph{}
	nodeSeen := map[int64]bool{}
	edgeSeen := map[string]bool{}
	var layer []int64
	for rows.Next() {
		var n types.SubgraphNode
		if err := rows.Scan(&n.ID, &n.Name, &n.EntityType); err != nil {
			rows.Close()
			return nil, wrapDBError("subgraph scan seed", err)
		}
		sub.Nodes = append(sub.Nodes, n)
		nodeSeen[n.ID] = true
		layer = append(layer, n.ID)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	for d := 0; d < depth; d++ {
		if len(layer) == 0 || len(sub.Nodes) >= maxNodes {
			break
		}
		phs := strings.TrimSuffix(strings.Repeat("?,", len(layer)), ",")
		expandArgs := make([]any, 0, len(layer)*2)
		for _, id := range layer {
			expandArgs = append(expandArgs, id)
		}
		for _, id := range layer {
			expandArgs = append(expandArgs, id)
		}
		relRows, err := e.db.QueryContext(ctx, fmt.Sprintf(
			`SELECT e1.id, e1.name, e1.entity_type, e2.id, e2.name, e2.entity_type, er.relation_type, er.weight
			 FROM entity_relations er
			 JOIN entities e1 ON er.source_entity_id = e1.id
			 JOIN entities e2 ON er.target_entity_id = e2.id
			 WHERE er.source_entity_id IN (%s) OR er.target_entity_id IN (%s)`,
			phs, phs), expandArgs...)
		if err != nil {
			return nil, wrapDBError("subgraph expand", err)
		}

		var next []int64
		for relRows.Next() {
			var (
				s, t types.SubgraphNode
				rel  string
				w    float64
			)
			if err := relRows.Scan(&s.ID, &s.Name, &s.EntityType, &t.ID, &t.Name, &t.EntityType, &rel, &w); err != nil {
				relRows.Close()
				return nil, wrapDBError("subgraph scan edge", err)
			}
			if !nodeSeen[s.ID] && len(sub.Nodes) < maxNodes {
				nodeSeen[s.ID] = true
				sub.Nodes = append(sub.Nodes, s)
				next = append(next, s.ID)
			}
			if !nodeSeen[t.ID] && len(sub.Nodes) < maxNodes {
				nodeSeen[t.ID] = true
				sub.Nodes = append(sub.Nodes, t)
				next = append(next, t.ID)
			}
			key := fmt.Sprintf("%s|%s|%s", s.Name, t.Name, rel)
			if !edgeSeen[key] {
				edgeSeen[key] = true
				sub.Edges = append(sub.Edges, types.SubgraphEdge{
					Source: s.Name, Target: t.Name, RelationType: rel, Weight: w,
				})
			}
		}
		if err := relRows.Err(); err != nil {
			relRows.Close()
			return nil, err
		}
		relRows.Close()
		layer = next
	}
	return sub, nil
}

// RegisterGhost records a dangling reference. Idempotent on
// (reference, project) among open ghosts: re-registering returns the
// existing id.
func (e *Engine) RegisterGhost(ctx context.Context, reference, ghostContext, project string) (int64, error) {
	if strings.TrimSpace(reference) == "" || strings.TrimSpace(project) == "" {
		return 0, fmt.Errorf("%w: reference and project are required", ErrInvalidInput)
	}

	tx, release, err := e.beginWrite(ctx)
	if err != nil {
		return 0, err
	}
	defer release()

	var id int64
	err = tx.QueryRowContext(ctx,
		"SELECT id FROM ghosts WHERE reference = ? AND project = ? AND status = 'open'",
		reference, project).Scan(&id)
	if err == nil {
		tx.Rollback()
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		tx.Rollback()
		return 0, wrapDBError("register ghost", err)
	}

	res, err := tx.ExecContext(ctx,
		"INSERT INTO ghosts (reference, context, project, status, detected_at) VALUES (?, ?, ?, 'open', ?)",
		reference, ghostContext, project, temporal.NowISO())
	if err != nil {
		tx.Rollback()
		return 0, wrapDBError("register ghost", err)
	}
	id, err = res.LastInsertId()
	if err != nil {
		tx.Rollback()
		return 0, wrapDBError("register ghost", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit ghost: %w", err)
	}
	return id, nil
}

// ResolveGhost binds a ghost to its target entity.
func (e *Engine) ResolveGhost(ctx context.Context, ghostID, targetEntityID int64, confidence float64) (bool, error) {
	if ghostID <= 0 {
		return false, fmt.Errorf("%w: invalid ghost id %d", ErrInvalidInput, ghostID)
	}
	res, err := e.db.ExecContext(ctx,
		"UPDATE ghosts SET status = 'resolved', resolved_at = ?, target_id = ?, confidence = ? WHERE id = ?",
		temporal.NowISO(), targetEntityID, confidence, ghostID)
	if err != nil {
		return false, wrapDBErrorf(err, "resolve ghost %d", ghostID)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, wrapDBError("resolve ghost", err)
	}
	return affected > 0, nil
}

// Ghosts lists a project's ghosts, optionally filtered by status.
func (e *Engine) Ghosts(ctx context.Context, project string, status types.GhostStatus) ([]types.Ghost, error) {
	query := "SELECT id, reference, COALESCE(context, ''), project, status, detected_at, resolved_at, target_id, confidence FROM ghosts WHERE project = ?"
	args := []any{project}
	if status != "" {
		query += " AND status = ?"
		args = append(args, string(status))
	}
	query += " ORDER BY id"

	rows, err := e.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapDBError("list ghosts", err)
	}
	defer rows.Close()

	var ghosts []types.Ghost
	for rows.Next() {
		var (
			g          types.Ghost
			status     string
			resolvedAt sql.NullString
			targetID   sql.NullInt64
		)
		if err := rows.Scan(&g.ID, &g.Reference, &g.Context, &g.Project, &status, &g.DetectedAt, &resolvedAt, &targetID, &g.Confidence); err != nil {
			return nil, wrapDBError("scan ghost", err)
		}
		g.Status = types.GhostStatus(status)
		g.ResolvedAt = stringPtr(resolvedAt)
		g.TargetID = int64Ptr(targetID)
		ghosts = append(ghosts, g)
	}
	return ghosts, rows.Err()
}
