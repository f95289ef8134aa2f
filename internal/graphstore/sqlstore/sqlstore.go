// Package sqlstore is the durable backend for the graph store: an
// embedded SQLite database matching the schema of
// original_source/services/graph-service/database/db.py (missions,
// nodes, edges, logs, layouts).
package sqlstore

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/mattn/go-sqlite3"
	"github.com/jmoiron/sqlx"

	"github.com/BetterCallFirewall/Hackerecon/internal/graphstore"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store is the sqlx-backed durable graph store, satisfying
// graphstore.Durable.
type Store struct {
	db *sqlx.DB
}

// Open opens (creating if needed) the SQLite file at path and runs
// pending migrations.
func Open(path string) (*Store, error) {
	db, err := sqlx.Connect("sqlite3", path+"?_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := migrate0(db.DB); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db}, nil
}

func migrate0(db *sql.DB) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return err
	}
	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		return err
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", driver)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return err
	}
	return nil
}

func (s *Store) Close() error { return s.db.Close() }

type nodeRow struct {
	ID         string `db:"id"`
	MissionID  string `db:"mission_id"`
	Type       string `db:"type"`
	Properties string `db:"properties"`
	Evidence   string `db:"evidence"`
	CreatedAt  string `db:"created_at"`
	UpdatedAt  string `db:"updated_at"`
}

func toNodeRow(n graphstore.Node) (nodeRow, error) {
	props, err := json.Marshal(n.Properties)
	if err != nil {
		return nodeRow{}, err
	}
	ev, err := json.Marshal(n.Evidence)
	if err != nil {
		return nodeRow{}, err
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	created := n.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	return nodeRow{
		ID: n.ID, MissionID: n.MissionID, Type: string(n.Type),
		Properties: string(props), Evidence: string(ev),
		CreatedAt: created.Format(time.RFC3339Nano), UpdatedAt: now,
	}, nil
}

type edgeRow struct {
	ID         string `db:"id"`
	MissionID  string `db:"mission_id"`
	Relation   string `db:"relation"`
	FromNode   string `db:"from_node"`
	ToNode     string `db:"to_node"`
	Properties string `db:"properties"`
	CreatedAt  string `db:"created_at"`
}

func toEdgeRow(e graphstore.Edge) (edgeRow, error) {
	props, err := json.Marshal(e.Properties)
	if err != nil {
		return edgeRow{}, err
	}
	created := e.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	return edgeRow{
		ID: e.ID, MissionID: e.MissionID, Relation: string(e.Relation),
		FromNode: e.From, ToNode: e.To, Properties: string(props),
		CreatedAt: created.Format(time.RFC3339Nano),
	}, nil
}

const upsertNodeSQL = `
INSERT INTO nodes (id, mission_id, type, properties, evidence, created_at, updated_at)
VALUES (:id, :mission_id, :type, :properties, :evidence, :created_at, :updated_at)
ON CONFLICT(mission_id, id) DO UPDATE SET
  properties = excluded.properties,
  evidence = excluded.evidence,
  updated_at = excluded.updated_at
`

const insertEdgeIgnoreSQL = `
INSERT OR IGNORE INTO edges (id, mission_id, relation, from_node, to_node, properties, created_at)
VALUES (:id, :mission_id, :relation, :from_node, :to_node, :properties, :created_at)
`

func (s *Store) UpsertNode(ctx context.Context, n graphstore.Node) error {
	row, err := toNodeRow(n)
	if err != nil {
		return err
	}
	_, err = s.db.NamedExecContext(ctx, upsertNodeSQL, row)
	return err
}

func (s *Store) UpsertEdge(ctx context.Context, e graphstore.Edge) error {
	row, err := toEdgeRow(e)
	if err != nil {
		return err
	}
	_, err = s.db.NamedExecContext(ctx, insertEdgeIgnoreSQL, row)
	return err
}

// BatchUpsert writes all nodes/edges in a single transaction: all or
// nothing, per spec.md §4.2.
func (s *Store) BatchUpsert(ctx context.Context, nodes []graphstore.Node, edges []graphstore.Edge) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck

	for _, n := range nodes {
		row, err := toNodeRow(n)
		if err != nil {
			return err
		}
		if _, err := tx.NamedExecContext(ctx, upsertNodeSQL, row); err != nil {
			return err
		}
	}
	for _, e := range edges {
		row, err := toEdgeRow(e)
		if err != nil {
			return err
		}
		if _, err := tx.NamedExecContext(ctx, insertEdgeIgnoreSQL, row); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) DeleteMission(ctx context.Context, missionID string) (int, int, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, 0, err
	}
	defer tx.Rollback() //nolint:errcheck

	nres, err := tx.ExecContext(ctx, `DELETE FROM nodes WHERE mission_id = ?`, missionID)
	if err != nil {
		return 0, 0, err
	}
	eres, err := tx.ExecContext(ctx, `DELETE FROM edges WHERE mission_id = ?`, missionID)
	if err != nil {
		return 0, 0, err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM missions WHERE id = ?`, missionID); err != nil {
		return 0, 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, 0, err
	}
	nc, _ := nres.RowsAffected()
	ec, _ := eres.RowsAffected()
	return int(nc), int(ec), nil
}

// MissionRow is the durable mission record, matching the `missions`
// table columns 1:1 so sqlx can scan directly into it.
type MissionRow struct {
	ID             string `db:"id"`
	TargetDomain   string `db:"target_domain"`
	Mode           string `db:"mode"`
	Status         string `db:"status"`
	CurrentPhase   string `db:"current_phase"`
	SeedSubdomains string `db:"seed_subdomains"`
	Options        string `db:"options"`
	Progress       string `db:"progress"`
	ErrorCode      string `db:"error_code"`
	CreatedAt      string `db:"created_at"`
	UpdatedAt      string `db:"updated_at"`
}

// SaveMission upserts a mission's durable record. Called at every
// phase boundary (spec.md §4.3 "Durability").
func (s *Store) SaveMission(ctx context.Context, m MissionRow) error {
	const q = `
INSERT INTO missions (id, target_domain, mode, status, current_phase, seed_subdomains, options, progress, error_code, created_at, updated_at)
VALUES (:id, :target_domain, :mode, :status, :current_phase, :seed_subdomains, :options, :progress, :error_code, :created_at, :updated_at)
ON CONFLICT(id) DO UPDATE SET
  status = excluded.status,
  current_phase = excluded.current_phase,
  progress = excluded.progress,
  error_code = excluded.error_code,
  updated_at = excluded.updated_at
`
	_, err := s.db.NamedExecContext(ctx, q, m)
	return err
}

// LoadMission fetches a single mission's durable record.
func (s *Store) LoadMission(ctx context.Context, missionID string) (MissionRow, error) {
	var row MissionRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM missions WHERE id = ?`, missionID)
	return row, err
}

// ListMissions enumerates every durable mission record, used on
// startup to find missions that need resuming or marking failed
// (spec.md §4.3 "A restart MUST be able to enumerate missions").
func (s *Store) ListMissions(ctx context.Context) ([]MissionRow, error) {
	var rows []MissionRow
	err := s.db.SelectContext(ctx, &rows, `SELECT * FROM missions ORDER BY created_at`)
	return rows, err
}

// LoadSnapshot reads a mission's full graph back from disk, used on
// restart to repopulate the in-memory Store.
func (s *Store) LoadSnapshot(ctx context.Context, missionID string) (graphstore.Snapshot, error) {
	var nodeRows []nodeRow
	if err := s.db.SelectContext(ctx, &nodeRows, `SELECT * FROM nodes WHERE mission_id = ?`, missionID); err != nil {
		return graphstore.Snapshot{}, err
	}
	var edgeRows []edgeRow
	if err := s.db.SelectContext(ctx, &edgeRows, `SELECT * FROM edges WHERE mission_id = ?`, missionID); err != nil {
		return graphstore.Snapshot{}, err
	}

	snap := graphstore.Snapshot{}
	for _, r := range nodeRows {
		var props map[string]any
		_ = json.Unmarshal([]byte(r.Properties), &props)
		var ev []graphstore.EvidenceItem
		_ = json.Unmarshal([]byte(r.Evidence), &ev)
		created, _ := time.Parse(time.RFC3339Nano, r.CreatedAt)
		updated, _ := time.Parse(time.RFC3339Nano, r.UpdatedAt)
		snap.Nodes = append(snap.Nodes, graphstore.Node{
			ID: r.ID, MissionID: r.MissionID, Type: graphstore.NodeType(r.Type),
			Properties: props, Evidence: ev, CreatedAt: created, UpdatedAt: updated,
		})
	}
	for _, r := range edgeRows {
		var props map[string]any
		_ = json.Unmarshal([]byte(r.Properties), &props)
		created, _ := time.Parse(time.RFC3339Nano, r.CreatedAt)
		snap.Edges = append(snap.Edges, graphstore.Edge{
			ID: r.ID, MissionID: r.MissionID, Relation: graphstore.Relation(r.Relation),
			From: r.FromNode, To: r.ToNode, Properties: props, CreatedAt: created,
		})
	}
	return snap, nil
}
