// Copyright (C) 2025 Thinline Dynamic Solutions
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>

package main

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

type Database struct {
	Config *Config
	Sql    *sql.DB
}

func NewDatabase(config *Config) (*Database, error) {
	database := &Database{Config: config}

	dsn := fmt.Sprintf("host=%s port=%d dbname=%s user=%s password=%s",
		config.DbHost, config.DbPort, config.DbName, config.DbUsername, config.DbPassword)

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %v", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %v", err)
	}

	database.Sql = db

	if err := database.migrate(); err != nil {
		return nil, err
	}

	return database, nil
}

func (database *Database) migrate() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS "transcriptions" (
			"id" BIGSERIAL PRIMARY KEY,
			"userId" TEXT,
			"fileName" TEXT NOT NULL,
			"originalName" TEXT NOT NULL,
			"fileSize" BIGINT NOT NULL DEFAULT 0,
			"mimeType" TEXT NOT NULL DEFAULT '',
			"filePath" TEXT NOT NULL DEFAULT '',
			"transcriptionText" TEXT NOT NULL DEFAULT '',
			"confidence" DOUBLE PRECISION NOT NULL DEFAULT 0,
			"language" TEXT NOT NULL DEFAULT 'en-US',
			"duration" DOUBLE PRECISION NOT NULL DEFAULT 0,
			"wordCount" INTEGER NOT NULL DEFAULT 0,
			"status" TEXT NOT NULL DEFAULT 'completed',
			"errorMessage" TEXT NOT NULL DEFAULT '',
			"metadata" TEXT NOT NULL DEFAULT '{}',
			"createdAt" BIGINT NOT NULL,
			"updatedAt" BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS "transcriptionsUserCreatedIdx" ON "transcriptions" ("userId", "createdAt" DESC)`,
		`CREATE INDEX IF NOT EXISTS "transcriptionsStatusIdx" ON "transcriptions" ("status")`,
		`CREATE INDEX IF NOT EXISTS "transcriptionsCreatedIdx" ON "transcriptions" ("createdAt" DESC)`,
	}

	for _, query := range queries {
		if _, err := database.Sql.Exec(query); err != nil {
			return fmt.Errorf("migration failed: %v", err)
		}
	}

	return nil
}

func (database *Database) Close() error {
	if database.Sql != nil {
		return database.Sql.Close()
	}
	return nil
}
