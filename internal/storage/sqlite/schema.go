package sqlite

// SchemaVersion is stamped into cortex_meta on init.
const SchemaVersion = "4.1.0"

// Base tables. Virtual tables and later additions live in migrations so an
// old database upgrades in order.
const createFacts = `
CREATE TABLE IF NOT EXISTS facts (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    project         TEXT NOT NULL,
    content         TEXT NOT NULL,
    fact_type       TEXT NOT NULL DEFAULT 'knowledge',
    tags            TEXT NOT NULL DEFAULT '[]',
    confidence      TEXT NOT NULL DEFAULT 'stated',
    consensus_score REAL NOT NULL DEFAULT 1.0,
    valid_from      TEXT NOT NULL,
    valid_until     TEXT,
    source          TEXT,
    meta            TEXT DEFAULT '{}',
    created_at      TEXT NOT NULL,
    updated_at      TEXT NOT NULL,
    tx_id           INTEGER REFERENCES transactions(id),
    CHECK (valid_until IS NULL OR valid_until > valid_from)
);
CREATE INDEX IF NOT EXISTS idx_facts_project ON facts(project);
CREATE INDEX IF NOT EXISTS idx_facts_type ON facts(fact_type);
CREATE INDEX IF NOT EXISTS idx_facts_valid ON facts(valid_from, valid_until);
CREATE INDEX IF NOT EXISTS idx_facts_confidence ON facts(confidence);
CREATE INDEX IF NOT EXISTS idx_facts_created ON facts(created_at DESC);
CREATE INDEX IF NOT EXISTS idx_facts_tx_id ON facts(tx_id);
`

const createTransactions = `
CREATE TABLE IF NOT EXISTS transactions (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    project     TEXT NOT NULL,
    action      TEXT NOT NULL,
    detail      TEXT,
    prev_hash   TEXT,
    hash        TEXT NOT NULL,
    timestamp   TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tx_project ON transactions(project);
CREATE INDEX IF NOT EXISTS idx_tx_action ON transactions(action);
`

// fact_embeddings holds one JSON-encoded vector per fact. KNN is computed
// in-process; when this table is missing or empty, search degrades to FTS.
const createEmbeddings = `
CREATE TABLE IF NOT EXISTS fact_embeddings (
    fact_id   INTEGER PRIMARY KEY REFERENCES facts(id),
    embedding TEXT NOT NULL,
    dim       INTEGER NOT NULL
);
`

const createFTS = `
CREATE VIRTUAL TABLE IF NOT EXISTS facts_fts USING fts5(
    content, project, tags, fact_type,
    content='facts', content_rowid='id'
);
`

// Triggers keep facts_fts synchronous with the facts table.
const createFTSTriggers = `
CREATE TRIGGER IF NOT EXISTS facts_ai AFTER INSERT ON facts BEGIN
    INSERT INTO facts_fts(rowid, content, project, tags, fact_type)
    VALUES (new.id, new.content, new.project, new.tags, new.fact_type);
END;

CREATE TRIGGER IF NOT EXISTS facts_ad AFTER DELETE ON facts BEGIN
    INSERT INTO facts_fts(facts_fts, rowid, content, project, tags, fact_type)
    VALUES ('delete', old.id, old.content, old.project, old.tags, old.fact_type);
END;

CREATE TRIGGER IF NOT EXISTS facts_au AFTER UPDATE ON facts BEGIN
    INSERT INTO facts_fts(facts_fts, rowid, content, project, tags, fact_type)
    VALUES ('delete', old.id, old.content, old.project, old.tags, old.fact_type);
    INSERT INTO facts_fts(rowid, content, project, tags, fact_type)
    VALUES (new.id, new.content, new.project, new.tags, new.fact_type);
END;
`

const createGraph = `
CREATE TABLE IF NOT EXISTS entities (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT NOT NULL,
    entity_type TEXT NOT NULL DEFAULT 'unknown',
    project TEXT NOT NULL,
    first_seen TEXT NOT NULL,
    last_seen TEXT NOT NULL,
    mention_count INTEGER DEFAULT 1,
    meta TEXT DEFAULT '{}',
    UNIQUE(name, project)
);
CREATE INDEX IF NOT EXISTS idx_entities_type ON entities(entity_type);
CREATE INDEX IF NOT EXISTS idx_entities_project ON entities(project);

CREATE TABLE IF NOT EXISTS entity_relations (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    source_entity_id INTEGER NOT NULL REFERENCES entities(id),
    target_entity_id INTEGER NOT NULL REFERENCES entities(id),
    relation_type TEXT NOT NULL DEFAULT 'related_to',
    weight REAL DEFAULT 1.0,
    first_seen TEXT NOT NULL,
    source_fact_id INTEGER REFERENCES facts(id)
);
CREATE INDEX IF NOT EXISTS idx_relations_source ON entity_relations(source_entity_id);
CREATE INDEX IF NOT EXISTS idx_relations_target ON entity_relations(target_entity_id);

CREATE TABLE IF NOT EXISTS ghosts (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    reference TEXT NOT NULL,
    context TEXT,
    project TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'open',
    detected_at TEXT NOT NULL,
    resolved_at TEXT,
    target_id INTEGER REFERENCES entities(id),
    confidence REAL DEFAULT 0.0
);
CREATE INDEX IF NOT EXISTS idx_ghosts_ref ON ghosts(reference, project);
`

const createConsensus = `
CREATE TABLE IF NOT EXISTS consensus_votes (
    id      INTEGER PRIMARY KEY AUTOINCREMENT,
    fact_id INTEGER NOT NULL REFERENCES facts(id),
    agent   TEXT NOT NULL,
    vote    INTEGER NOT NULL,
    timestamp TEXT NOT NULL,
    UNIQUE(fact_id, agent)
);
CREATE INDEX IF NOT EXISTS idx_votes_fact ON consensus_votes(fact_id);
CREATE INDEX IF NOT EXISTS idx_votes_agent ON consensus_votes(agent);

CREATE TABLE IF NOT EXISTS agents (
    id               TEXT PRIMARY KEY,
    name             TEXT NOT NULL,
    agent_type       TEXT NOT NULL DEFAULT 'ai',
    public_key       TEXT NOT NULL DEFAULT '',
    tenant_id        TEXT NOT NULL DEFAULT 'default',
    reputation_score REAL NOT NULL DEFAULT 0.5,
    is_active        INTEGER NOT NULL DEFAULT 1,
    created_at       TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS consensus_votes_v2 (
    id                INTEGER PRIMARY KEY AUTOINCREMENT,
    fact_id           INTEGER NOT NULL REFERENCES facts(id),
    agent_id          TEXT NOT NULL REFERENCES agents(id),
    vote              INTEGER NOT NULL,
    vote_weight       REAL NOT NULL,
    agent_rep_at_vote REAL NOT NULL,
    vote_reason       TEXT,
    tx_id             INTEGER REFERENCES transactions(id),
    created_at        TEXT NOT NULL,
    UNIQUE(fact_id, agent_id)
);
CREATE INDEX IF NOT EXISTS idx_votes_v2_fact ON consensus_votes_v2(fact_id);
`

const createLedger = `
CREATE TABLE IF NOT EXISTS merkle_roots (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    root_hash       TEXT NOT NULL,
    tx_start_id     INTEGER NOT NULL,
    tx_end_id       INTEGER NOT NULL,
    tx_count        INTEGER NOT NULL,
    created_at      TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_merkle_range ON merkle_roots(tx_start_id, tx_end_id);

CREATE TABLE IF NOT EXISTS integrity_checks (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    check_type      TEXT NOT NULL,
    status          TEXT NOT NULL,
    details         TEXT,
    started_at      TEXT NOT NULL,
    completed_at    TEXT NOT NULL
);
`

const createOutbox = `
CREATE TABLE IF NOT EXISTS graph_outbox (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    fact_id      INTEGER NOT NULL,
    action       TEXT NOT NULL,
    status       TEXT NOT NULL DEFAULT 'pending',
    retry_count  INTEGER NOT NULL DEFAULT 0,
    created_at   TEXT NOT NULL,
    processed_at TEXT
);
CREATE INDEX IF NOT EXISTS idx_outbox_status ON graph_outbox(status);
`

const createCompactionLog = `
CREATE TABLE IF NOT EXISTS compaction_log (
    id             INTEGER PRIMARY KEY AUTOINCREMENT,
    project        TEXT NOT NULL,
    strategies     TEXT NOT NULL,
    deprecated_ids TEXT NOT NULL DEFAULT '[]',
    new_fact_ids   TEXT NOT NULL DEFAULT '[]',
    facts_before   INTEGER NOT NULL,
    facts_after    INTEGER NOT NULL,
    created_at     TEXT NOT NULL
);
`

const createMeta = `
CREATE TABLE IF NOT EXISTS cortex_meta (
    key     TEXT PRIMARY KEY,
    value   TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS schema_version (
    version    INTEGER PRIMARY KEY,
    applied_at TEXT NOT NULL
);
`

// migration pairs a version with its DDL. Applied in order inside one
// transaction each; schema_version records what has run.
type migration struct {
	version int
	name    string
	ddl     string
}

var migrations = []migration{
	{1, "base tables", createTransactions + createFacts + createMeta},
	{2, "embedding index", createEmbeddings},
	{3, "fts5 search", createFTS},
	{4, "fts sync triggers", createFTSTriggers},
	{5, "graph memory", createGraph},
	{6, "consensus layer", createConsensus},
	{7, "immutable ledger", createLedger},
	{8, "graph outbox", createOutbox},
	{9, "compaction log", createCompactionLog},
}
