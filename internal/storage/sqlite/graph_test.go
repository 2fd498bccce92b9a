package sqlite

import (
	"context"
	"testing"
)

// Storing a fact extracts entities and relations into the project graph.
func TestStoreExtractsGraph(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, Options{})

	if _, err := e.Store(ctx, StoreRequest{
		Project: "proj",
		Content: "CortexEngine uses SQLite and FastAPI",
	}); err != nil {
		t.Fatalf("Store failed: %v", err)
	}

	view, err := e.GetGraph(ctx, "proj", 50)
	if err != nil {
		t.Fatalf("GetGraph failed: %v", err)
	}

	names := make(map[string]bool)
	for _, ent := range view.Entities {
		names[ent.Name] = true
	}
	for _, want := range []string{"CortexEngine", "SQLite", "FastAPI"} {
		if !names[want] {
			t.Errorf("entity %q missing from graph: %v", want, names)
		}
	}

	foundUses := false
	for _, rel := range view.Relations {
		if rel.RelationType == "uses" {
			foundUses = true
		}
	}
	if !foundUses {
		t.Errorf("no 'uses' relation in graph: %+v", view.Relations)
	}
}

func TestEntityMentionCountAccumulates(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, Options{})

	for i := 0; i < 3; i++ {
		if _, err := e.Store(ctx, StoreRequest{Project: "proj", Content: "Docker simplifies things"}); err != nil {
			t.Fatal(err)
		}
	}

	view, err := e.QueryEntity(ctx, "Docker", "proj")
	if err != nil {
		t.Fatalf("QueryEntity failed: %v", err)
	}
	if view.Entity.MentionCount != 3 {
		t.Errorf("mention_count = %d, want 3", view.Entity.MentionCount)
	}
}

func TestRelationWeightAccumulates(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, Options{})

	for i := 0; i < 2; i++ {
		if _, err := e.Store(ctx, StoreRequest{Project: "proj", Content: "Redis uses Docker"}); err != nil {
			t.Fatal(err)
		}
	}

	view, err := e.GetGraph(ctx, "proj", 50)
	if err != nil {
		t.Fatal(err)
	}
	if len(view.Relations) == 0 {
		t.Fatal("expected a relation")
	}
	// Second occurrence bumps the existing directed edge by 0.5.
	if view.Relations[0].Weight != 1.5 {
		t.Errorf("weight = %v, want 1.5", view.Relations[0].Weight)
	}
}

func TestFindPath(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, Options{})

	// Redis—Docker and Docker—Kubernetes; Redis to Kubernetes needs two
	// hops through Docker.
	if _, err := e.Store(ctx, StoreRequest{Project: "proj", Content: "Redis uses Docker"}); err != nil {
		t.Fatal(err)
	}
	if _, err := e.Store(ctx, StoreRequest{Project: "proj", Content: "Docker uses Kubernetes"}); err != nil {
		t.Fatal(err)
	}

	path, err := e.FindPath(ctx, "Redis", "Kubernetes", 3)
	if err != nil {
		t.Fatalf("FindPath failed: %v", err)
	}
	if len(path) == 0 {
		t.Fatal("expected a path between Redis and Kubernetes")
	}
	if path[len(path)-1].Target != "Kubernetes" {
		t.Errorf("path does not end at Kubernetes: %+v", path)
	}

	// Unreachable entities yield no path, not an error.
	if _, err := e.Store(ctx, StoreRequest{Project: "proj", Content: "only GitLab here"}); err != nil {
		t.Fatal(err)
	}
	none, err := e.FindPath(ctx, "Redis", "GitLab", 3)
	if err != nil {
		t.Fatalf("FindPath failed: %v", err)
	}
	if len(none) != 0 {
		t.Errorf("expected no path to isolated entity, got %+v", none)
	}
}

func TestGetContextSubgraph(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, Options{})

	if _, err := e.Store(ctx, StoreRequest{Project: "proj", Content: "Redis uses Docker"}); err != nil {
		t.Fatal(err)
	}
	if _, err := e.Store(ctx, StoreRequest{Project: "proj", Content: "Docker uses Kubernetes"}); err != nil {
		t.Fatal(err)
	}

	sub, err := e.GetContextSubgraph(ctx, []string{"Redis"}, 2, 50)
	if err != nil {
		t.Fatalf("GetContextSubgraph failed: %v", err)
	}
	names := make(map[string]bool)
	for _, n := range sub.Nodes {
		names[n.Name] = true
	}
	if !names["Redis"] || !names["Docker"] {
		t.Errorf("subgraph missing expected nodes: %v", names)
	}
	if len(sub.Edges) == 0 {
		t.Error("subgraph has no edges")
	}

	// maxNodes bounds the expansion.
	bounded, err := e.GetContextSubgraph(ctx, []string{"Redis"}, 3, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(bounded.Nodes) > 1 {
		t.Errorf("max_nodes=1 returned %d nodes", len(bounded.Nodes))
	}

	empty, err := e.GetContextSubgraph(ctx, nil, 2, 50)
	if err != nil {
		t.Fatal(err)
	}
	if len(empty.Nodes) != 0 {
		t.Error("no seeds should yield an empty subgraph")
	}
}

func TestDeleteFactElements(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, Options{})

	id, err := e.Store(ctx, StoreRequest{Project: "proj", Content: "Redis uses Docker"})
	if err != nil {
		t.Fatal(err)
	}
	if err := e.DeleteFactElements(ctx, id); err != nil {
		t.Fatalf("DeleteFactElements failed: %v", err)
	}

	view, err := e.GetGraph(ctx, "proj", 50)
	if err != nil {
		t.Fatal(err)
	}
	if len(view.Relations) != 0 {
		t.Errorf("relations from fact %d survived deletion: %+v", id, view.Relations)
	}
	// Entities stay; they may have other references.
	if len(view.Entities) == 0 {
		t.Error("entities must not be deleted with their fact")
	}
}

func TestRegisterGhostIdempotent(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, Options{})

	id1, err := e.RegisterGhost(ctx, "UnknownService", "mentioned in deploy doc", "proj")
	if err != nil {
		t.Fatalf("RegisterGhost failed: %v", err)
	}
	id2, err := e.RegisterGhost(ctx, "UnknownService", "mentioned again", "proj")
	if err != nil {
		t.Fatalf("second RegisterGhost failed: %v", err)
	}
	if id1 != id2 {
		t.Errorf("ghost registration not idempotent: %d vs %d", id1, id2)
	}

	// Different project registers a fresh ghost.
	id3, err := e.RegisterGhost(ctx, "UnknownService", "elsewhere", "other")
	if err != nil {
		t.Fatal(err)
	}
	if id3 == id1 {
		t.Error("ghosts must be scoped per project")
	}
}

func TestResolveGhost(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, Options{})

	entityID, err := e.UpsertEntity(ctx, "KnownService", "tool", "proj", "")
	if err != nil {
		t.Fatal(err)
	}
	ghostID, err := e.RegisterGhost(ctx, "KnownService", "ctx", "proj")
	if err != nil {
		t.Fatal(err)
	}

	ok, err := e.ResolveGhost(ctx, ghostID, entityID, 0.9)
	if err != nil {
		t.Fatalf("ResolveGhost failed: %v", err)
	}
	if !ok {
		t.Fatal("ResolveGhost returned false")
	}

	ghosts, err := e.Ghosts(ctx, "proj", "resolved")
	if err != nil {
		t.Fatal(err)
	}
	if len(ghosts) != 1 {
		t.Fatalf("expected 1 resolved ghost, got %d", len(ghosts))
	}
	g := ghosts[0]
	if g.TargetID == nil || *g.TargetID != entityID {
		t.Errorf("ghost target = %v, want %d", g.TargetID, entityID)
	}
	if g.Confidence != 0.9 {
		t.Errorf("ghost confidence = %v, want 0.9", g.Confidence)
	}
	if g.ResolvedAt == nil {
		t.Error("resolved ghost missing resolved_at")
	}

	// After resolution, re-registering the same reference opens a new
	// ghost (idempotence holds only among open ghosts).
	newID, err := e.RegisterGhost(ctx, "KnownService", "ctx", "proj")
	if err != nil {
		t.Fatal(err)
	}
	if newID == ghostID {
		t.Error("resolved ghost must not absorb new registrations")
	}
}
