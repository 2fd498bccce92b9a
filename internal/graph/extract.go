// Package graph extracts entities and relationships from fact content and
// defines the storage backend contract for the knowledge graph.
//
// Extraction is rule-based and deterministic: an ordered list of typed
// regexes plus a relation-signal dictionary. Misclassification is
// acceptable; downstream consumers see typed entities, not ground truth.
package graph

import "strings"

// ExtractedEntity is a candidate graph node found in content.
type ExtractedEntity struct {
	Name string
	Type string
}

// ExtractedRelation is a candidate edge between two extracted entities,
// identified by name.
type ExtractedRelation struct {
	SourceName   string
	TargetName   string
	RelationType string
}

// ExtractEntities scans content with the ordered entity patterns. The first
// pattern to match a name wins; names are deduplicated case-insensitively
// and bounded to 2..100 characters.
func ExtractEntities(content string) []ExtractedEntity {
	if strings.TrimSpace(content) == "" {
		return nil
	}
	seen := make(map[string]bool)
	var entities []ExtractedEntity
	for _, ep := range entityPatterns {
		for _, match := range ep.re.FindAllStringSubmatch(content, -1) {
			name := strings.TrimSpace(match[1])
			lower := strings.ToLower(name)
			if len(name) < 2 || len(name) > 100 || seen[lower] {
				continue
			}
			if ep.kind == "project" && commonWords[lower] {
				continue
			}
			seen[lower] = true
			entities = append(entities, ExtractedEntity{Name: name, Type: ep.kind})
		}
	}
	return entities
}

// DetectRelations pairs every extracted entity with every other under the
// first relation signal found in the content, or related_to when none
// matches. Needs at least two entities to produce anything.
func DetectRelations(content string, entities []ExtractedEntity) []ExtractedRelation {
	if len(entities) < 2 {
		return nil
	}
	relation := detectRelationType(content)
	var relations []ExtractedRelation
	for i, source := range entities {
		for _, target := range entities[i+1:] {
			if strings.EqualFold(source.Name, target.Name) {
				continue
			}
			relations = append(relations, ExtractedRelation{
				SourceName:   source.Name,
				TargetName:   target.Name,
				RelationType: relation,
			})
		}
	}
	return relations
}

func detectRelationType(content string) string {
	lower := strings.ToLower(content)
	for _, sig := range relationSignals {
		for _, phrase := range sig.phrases {
			if strings.Contains(lower, phrase) {
				return sig.relation
			}
		}
	}
	return RelationFallback
}

// Extract runs the full pipeline: entities plus relations. It never fails;
// unusable content yields empty results so the owning fact still commits.
func Extract(content string) ([]ExtractedEntity, []ExtractedRelation) {
	entities := ExtractEntities(content)
	return entities, DetectRelations(content, entities)
}
