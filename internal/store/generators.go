package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"imaged/pkg/types"
)

// Generators is the repository of engine/GPU bindings.
type Generators struct{ s *Store }

const generatorColumns = `id, name, gpu_id, engine_id, status, last_error, created_at`

type generatorRow struct {
	g        types.Generator
	engineID int64
}

func scanGenerator(r rowScanner) (generatorRow, error) {
	var row generatorRow
	var status string
	err := r.Scan(&row.g.ID, &row.g.Name, &row.g.GPUID, &row.engineID, &status, &row.g.LastError, &row.g.CreatedAt)
	row.g.Status = types.GeneratorStatus(status)
	return row, err
}

// Create inserts g in status closed and sets its ID.
func (r *Generators) Create(ctx context.Context, g *types.Generator) error {
	if g.CreatedAt.IsZero() {
		g.CreatedAt = time.Now().UTC()
	}
	g.Status = types.GeneratorClosed
	id, err := r.s.insert(ctx, r.s.db,
		`INSERT INTO generators (name, gpu_id, engine_id, status, last_error, created_at) VALUES (?, ?, ?, ?, '', ?)`,
		g.Name, g.GPUID, g.Engine.ID, string(g.Status), g.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert generator: %w", err)
	}
	g.ID = id
	return nil
}

// Get returns the generator with its engine resolved.
func (r *Generators) Get(ctx context.Context, id int64) (types.Generator, error) {
	row, err := scanGenerator(r.s.queryRow(ctx, r.s.db, `SELECT `+generatorColumns+` FROM generators WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return types.Generator{}, notFound("generator", id)
	}
	if err != nil {
		return types.Generator{}, fmt.Errorf("get generator: %w", err)
	}
	eng, err := r.s.Engines.Get(ctx, row.engineID)
	if err != nil {
		return types.Generator{}, fmt.Errorf("generator %d engine: %w", id, err)
	}
	row.g.Engine = eng
	return row.g, nil
}

// Status returns only the persisted status of a generator.
func (r *Generators) Status(ctx context.Context, id int64) (types.GeneratorStatus, error) {
	var status string
	err := r.s.queryRow(ctx, r.s.db, `SELECT status FROM generators WHERE id = ?`, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return "", notFound("generator", id)
	}
	if err != nil {
		return "", fmt.Errorf("generator status: %w", err)
	}
	return types.GeneratorStatus(status), nil
}

// List returns every generator ordered by id.
func (r *Generators) List(ctx context.Context) ([]types.Generator, error) {
	rows, err := r.s.query(ctx, r.s.db, `SELECT `+generatorColumns+` FROM generators ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list generators: %w", err)
	}
	var raw []generatorRow
	for rows.Next() {
		row, err := scanGenerator(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan generator: %w", err)
		}
		raw = append(raw, row)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	engines := map[int64]types.Engine{}
	out := make([]types.Generator, 0, len(raw))
	for _, row := range raw {
		eng, ok := engines[row.engineID]
		if !ok {
			if eng, err = r.s.Engines.Get(ctx, row.engineID); err != nil {
				return nil, fmt.Errorf("generator %d engine: %w", row.g.ID, err)
			}
			engines[row.engineID] = eng
		}
		row.g.Engine = eng
		out = append(out, row.g)
	}
	return out, nil
}

// Exists reports whether a generator with id exists.
func (r *Generators) Exists(ctx context.Context, id int64) (bool, error) {
	var n int
	if err := r.s.queryRow(ctx, r.s.db, `SELECT COUNT(*) FROM generators WHERE id = ?`, id).Scan(&n); err != nil {
		return false, fmt.Errorf("generator exists: %w", err)
	}
	return n > 0, nil
}

// ExistsByName reports whether the generator name is taken.
func (r *Generators) ExistsByName(ctx context.Context, name string) (bool, error) {
	var n int
	if err := r.s.queryRow(ctx, r.s.db, `SELECT COUNT(*) FROM generators WHERE name = ?`, name).Scan(&n); err != nil {
		return false, fmt.Errorf("generator name exists: %w", err)
	}
	return n > 0, nil
}

// UpdateStatus persists a lifecycle transition. Moving to starting clears
// the last recorded error.
func (r *Generators) UpdateStatus(ctx context.Context, id int64, status types.GeneratorStatus) error {
	query := `UPDATE generators SET status = ? WHERE id = ?`
	if status == types.GeneratorStarting {
		query = `UPDATE generators SET status = ?, last_error = '' WHERE id = ?`
	}
	res, err := r.s.exec(ctx, r.s.db, query, string(status), id)
	if err != nil {
		return fmt.Errorf("update generator status: %w", err)
	}
	return expectOne(res, "generator", id)
}

// SetFailed moves the generator to failed and records msg.
func (r *Generators) SetFailed(ctx context.Context, id int64, msg string) error {
	res, err := r.s.exec(ctx, r.s.db, `UPDATE generators SET status = ?, last_error = ? WHERE id = ?`,
		string(types.GeneratorFailed), msg, id)
	if err != nil {
		return fmt.Errorf("set generator failed: %w", err)
	}
	return expectOne(res, "generator", id)
}

// NotClosed returns the ids of generators whose status is anything but closed.
func (r *Generators) NotClosed(ctx context.Context) ([]int64, error) {
	rows, err := r.s.query(ctx, r.s.db, `SELECT id FROM generators WHERE status <> ? ORDER BY id`, string(types.GeneratorClosed))
	if err != nil {
		return nil, fmt.Errorf("list open generators: %w", err)
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Delete removes the generator row. Jobs must be deleted first.
func (r *Generators) Delete(ctx context.Context, id int64) error {
	res, err := r.s.exec(ctx, r.s.db, `DELETE FROM generators WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete generator: %w", err)
	}
	return expectOne(res, "generator", id)
}
