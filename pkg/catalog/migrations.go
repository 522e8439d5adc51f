package catalog

import (
	"github.com/BurntSushi/migration"
	"github.com/cyclopcam/dbh"
	"github.com/cyclopcam/logs"
)

func Migrations(log logs.Log) []migration.Migrator {
	migs := []migration.Migrator{}
	idx := 0

	migs = append(migs, dbh.MakeMigrationFromSQL(log, &idx,
		`
		CREATE TABLE run(
			id TEXT PRIMARY KEY,
			created_at INT NOT NULL,
			seed INT NOT NULL,
			samples INT NOT NULL,
			classes BLOB,
			sources BLOB
		);

		CREATE TABLE sample(
			id INTEGER PRIMARY KEY,
			run_id TEXT NOT NULL,
			sample_id TEXT NOT NULL,
			source TEXT NOT NULL,
			image_path TEXT NOT NULL,
			width INT NOT NULL,
			height INT NOT NULL,
			tag TEXT NOT NULL,
			annotations BLOB
		);
		CREATE UNIQUE INDEX idx_sample_run_id_sample_id ON sample (run_id, sample_id);
	`))

	migs = append(migs, dbh.MakeMigrationFromSQL(log, &idx,
		`
		CREATE INDEX idx_run_created_at ON run(created_at);
	`))

	return migs
}
