// Copyright (C) 2022 Sneller, Inc.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

package meta

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
)

// SQLClient is a database/sql-backed MetaClient over a Postgres
// relational metadata store: tables, partitions, nodes, and
// id_mapping live as ordinary rows, queried with plain parameterized
// SQL rather than an ORM, matching how the rest of the retrieved
// corpus reaches for lib/pq directly instead of a query builder.
type SQLClient struct {
	db *sql.DB
}

// OpenSQLClient opens a connection pool to a Postgres metadata store
// at dsn and ensures its schema exists.
func OpenSQLClient(ctx context.Context, dsn string) (*SQLClient, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("meta: opening metadata store: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("meta: connecting to metadata store: %w", err)
	}
	c := &SQLClient{db: db}
	if err := c.ensureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return c, nil
}

func (c *SQLClient) ensureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS droplet_tables (
			name TEXT PRIMARY KEY,
			partition_count_per_day INTEGER NOT NULL,
			path TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS droplet_columns (
			table_name TEXT NOT NULL REFERENCES droplet_tables(name),
			column_name TEXT NOT NULL,
			column_type SMALLINT NOT NULL,
			column_id INTEGER NOT NULL,
			column_index INTEGER NOT NULL,
			PRIMARY KEY (table_name, column_name)
		)`,
		`CREATE TABLE IF NOT EXISTS droplet_key_ids (
			name TEXT PRIMARY KEY,
			id SERIAL
		)`,
		`CREATE TABLE IF NOT EXISTS droplet_nodes (
			id SERIAL PRIMARY KEY,
			name TEXT NOT NULL UNIQUE,
			ip TEXT NOT NULL,
			port INTEGER NOT NULL,
			token TEXT NOT NULL,
			used_disk_size BIGINT NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS droplet_partition_endpoints (
			table_name TEXT NOT NULL REFERENCES droplet_tables(name),
			partition_index INTEGER NOT NULL,
			endpoint TEXT NOT NULL,
			PRIMARY KEY (table_name, partition_index)
		)`,
		`CREATE TABLE IF NOT EXISTS droplet_partition_paths (
			table_name TEXT NOT NULL REFERENCES droplet_tables(name),
			date_yyyymmdd INTEGER NOT NULL,
			path TEXT NOT NULL,
			PRIMARY KEY (table_name, date_yyyymmdd, path)
		)`,
	}
	for _, s := range stmts {
		if _, err := c.db.ExecContext(ctx, s); err != nil {
			return fmt.Errorf("meta: creating schema: %w", err)
		}
	}
	return nil
}

func (c *SQLClient) GetPartitionCountPerDay(ctx context.Context, table string) (uint32, error) {
	var p int
	err := c.db.QueryRowContext(ctx,
		`SELECT partition_count_per_day FROM droplet_tables WHERE name = $1`, table).Scan(&p)
	if err == sql.ErrNoRows {
		return 0, fmt.Errorf("meta: unknown table %q", table)
	}
	if err != nil {
		return 0, err
	}
	return uint32(p), nil
}

func (c *SQLClient) GetOrInsertKeyID(ctx context.Context, name string) (uint32, error) {
	var id int
	err := c.db.QueryRowContext(ctx,
		`INSERT INTO droplet_key_ids (name) VALUES ($1)
		 ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
		 RETURNING id`, name).Scan(&id)
	if err != nil {
		return 0, err
	}
	return uint32(id), nil
}

func (c *SQLClient) GetServerEndpointByPartitionIndex(ctx context.Context, table string, partitionIndex uint32) (string, error) {
	var endpoint string
	err := c.db.QueryRowContext(ctx,
		`SELECT endpoint FROM droplet_partition_endpoints WHERE table_name = $1 AND partition_index = $2`,
		table, partitionIndex).Scan(&endpoint)
	if err == sql.ErrNoRows {
		return c.GetDefaultServerEndpoint(ctx)
	}
	if err != nil {
		return "", err
	}
	return endpoint, nil
}

func (c *SQLClient) GetDefaultServerEndpoint(ctx context.Context) (string, error) {
	var endpoint string
	err := c.db.QueryRowContext(ctx,
		`SELECT ip || ':' || port FROM droplet_nodes ORDER BY id LIMIT 1`).Scan(&endpoint)
	if err == sql.ErrNoRows {
		return "", fmt.Errorf("meta: no storage node registered")
	}
	if err != nil {
		return "", err
	}
	return endpoint, nil
}

func (c *SQLClient) GetPathByTable(ctx context.Context, table string) (string, error) {
	var path string
	err := c.db.QueryRowContext(ctx,
		`SELECT path FROM droplet_tables WHERE name = $1`, table).Scan(&path)
	if err == sql.ErrNoRows {
		return "", fmt.Errorf("meta: unknown table %q", table)
	}
	return path, err
}

func (c *SQLClient) GetTablePathsByDate(ctx context.Context, table string, yyyymmdd uint32) ([]string, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT path FROM droplet_partition_paths WHERE table_name = $1 AND date_yyyymmdd = $2 ORDER BY path`,
		table, yyyymmdd)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		paths = append(paths, p)
	}
	return paths, rows.Err()
}

func (c *SQLClient) GetKeyIDs(ctx context.Context, names []string) ([]uint32, error) {
	out := make([]uint32, len(names))
	for i, n := range names {
		id, err := c.GetOrInsertKeyID(ctx, n)
		if err != nil {
			return nil, err
		}
		out[i] = id
	}
	return out, nil
}

func (c *SQLClient) RegisterNode(ctx context.Context, name, ip string, port uint32) (uint32, string, error) {
	token := uuid.NewString()
	var id int
	err := c.db.QueryRowContext(ctx,
		`INSERT INTO droplet_nodes (name, ip, port, token) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (name) DO UPDATE SET ip = EXCLUDED.ip, port = EXCLUDED.port
		 RETURNING id, token`,
		name, ip, port, token).Scan(&id, &token)
	if err != nil {
		return 0, "", err
	}
	return uint32(id), token, nil
}

// RecordPartitionPath inserts path as a completed partition for table
// on yyyymmdd, idempotently, so GetTablePathsByDate sees it.
func (c *SQLClient) RecordPartitionPath(ctx context.Context, table string, yyyymmdd uint32, path string) error {
	_, err := c.db.ExecContext(ctx,
		`INSERT INTO droplet_partition_paths (table_name, date_yyyymmdd, path) VALUES ($1, $2, $3)
		 ON CONFLICT DO NOTHING`,
		table, yyyymmdd, path)
	return err
}

func (c *SQLClient) GetTableInfo(ctx context.Context, table string) ([]ColumnInfo, uint32, error) {
	p, err := c.GetPartitionCountPerDay(ctx, table)
	if err != nil {
		return nil, 0, err
	}
	rows, err := c.db.QueryContext(ctx,
		`SELECT column_name, column_type, column_id, column_index FROM droplet_columns
		 WHERE table_name = $1 ORDER BY column_index`, table)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var cols []ColumnInfo
	for rows.Next() {
		var c ColumnInfo
		var typ int
		if err := rows.Scan(&c.Name, &typ, &c.ID, &c.Index); err != nil {
			return nil, 0, err
		}
		c.Type = ColumnType(typ)
		cols = append(cols, c)
	}
	return cols, p, rows.Err()
}

func (c *SQLClient) InsertTableInfo(ctx context.Context, table string, partitionCountPerDay uint32, columns []ColumnInfo) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	path := fmt.Sprintf("/tmp/droplet/tables/%s", table)
	_, err = tx.ExecContext(ctx,
		`INSERT INTO droplet_tables (name, partition_count_per_day, path) VALUES ($1, $2, $3)
		 ON CONFLICT (name) DO UPDATE SET partition_count_per_day = EXCLUDED.partition_count_per_day`,
		table, partitionCountPerDay, path)
	if err != nil {
		return err
	}
	for _, col := range columns {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO droplet_columns (table_name, column_name, column_type, column_id, column_index)
			 VALUES ($1, $2, $3, $4, $5)
			 ON CONFLICT (table_name, column_name) DO UPDATE SET
				column_type = EXCLUDED.column_type,
				column_id = EXCLUDED.column_id,
				column_index = EXCLUDED.column_index`,
			table, col.Name, col.Type, col.ID, col.Index)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (c *SQLClient) ReportStorageInfo(ctx context.Context, nodeID uint32, usedDiskSize uint64) error {
	_, err := c.db.ExecContext(ctx,
		`UPDATE droplet_nodes SET used_disk_size = $1 WHERE id = $2`, usedDiskSize, nodeID)
	return err
}

func (c *SQLClient) Close() error {
	return c.db.Close()
}
