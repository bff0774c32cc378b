/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package database

import (
	"context"
	"database/sql"
	"embed"

	"github.com/blnkfinance/docflow/config"
	"github.com/blnkfinance/docflow/internal/cache"
	pgconn "github.com/blnkfinance/docflow/internal/pg-conn"
	migrate "github.com/rubenv/sql-migrate"
	"github.com/sirupsen/logrus"
)

// Schema holds every docflow table.
const Schema = "docflow"

// Datasource is the Postgres backed record store. Cache is optional and only ever holds
// documents in a terminal status.
type Datasource struct {
	Conn  *sql.DB
	Cache cache.Cache
}

// NewDataSource picks the store for the configuration: Postgres when a data source DNS is
// set, the in-memory store otherwise.
func NewDataSource(ctx context.Context, configuration *config.Configuration, c cache.Cache) (IDataSource, error) {
	if configuration.DataSource.Dns == "" {
		logrus.Info("using in-memory document store")
		return NewMemoryDataSource(), nil
	}

	con, err := ConnectDB(ctx, configuration.DataSource.Dns)
	if err != nil {
		return nil, err
	}
	return &Datasource{Conn: con, Cache: c}, nil
}

// ConnectDB opens the Postgres connection pool.
func ConnectDB(ctx context.Context, dns string) (*sql.DB, error) {
	return pgconn.ConnectDB(ctx, dns, pgconn.DefaultOptions())
}

// Migrate applies (or rolls back) the embedded migrations found under sql/ in files.
func Migrate(db *sql.DB, files embed.FS, direction migrate.MigrationDirection) (int, error) {
	if _, err := db.Exec(`CREATE SCHEMA IF NOT EXISTS ` + Schema); err != nil {
		return 0, err
	}

	migrations := migrate.EmbedFileSystemMigrationSource{
		FileSystem: files,
		Root:       "sql",
	}

	migrate.SetSchema(Schema)
	return migrate.Exec(db, "postgres", migrations, direction)
}
