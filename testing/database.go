// Package testing provides test utilities and database setup for the messenger automation backend
package testing

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ReZill392/Thesit-sub000/config"
	"github.com/ReZill392/Thesit-sub000/models"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// TestDB is a throwaway postgres database migrated with every model
type TestDB struct {
	DB     *gorm.DB
	Name   string
	server config.DatabaseConfig
}

// testServer reads the TEST_DB_* variables; the postgres maintenance
// database is used for create and drop.
func testServer() config.DatabaseConfig {
	port, err := strconv.Atoi(os.Getenv("TEST_DB_PORT"))
	if err != nil || port <= 0 {
		port = 5432
	}
	return config.DatabaseConfig{
		Host:     envOr("TEST_DB_HOST", "localhost"),
		Port:     port,
		User:     envOr("TEST_DB_USER", "postgres"),
		Password: envOr("TEST_DB_PASSWORD", "postgres"),
		SSLMode:  envOr("TEST_DB_SSL_MODE", "disable"),
		Name:     "postgres",
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func open(cfg config.DatabaseConfig) (*gorm.DB, error) {
	return gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
}

func closeDB(db *gorm.DB) {
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}

// SetupTestDB creates a uniquely named database and migrates it
func SetupTestDB() (*TestDB, error) {
	server := testServer()

	admin, err := open(server)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}
	defer closeDB(admin)

	name := fmt.Sprintf("fbauto_test_%d_%d", time.Now().Unix(), rand.Intn(10000))
	if err := admin.Exec("CREATE DATABASE " + name).Error; err != nil {
		return nil, fmt.Errorf("failed to create test database %s: %w", name, err)
	}

	target := server
	target.Name = name
	db, err := open(target)
	if err != nil {
		_ = admin.Exec("DROP DATABASE IF EXISTS " + name).Error
		return nil, fmt.Errorf("failed to connect to test database %s: %w", name, err)
	}

	tdb := &TestDB{DB: db, Name: name, server: server}
	if err := db.AutoMigrate(models.All()...); err != nil {
		_ = tdb.TeardownTestDB()
		return nil, fmt.Errorf("failed to migrate test database %s: %w", name, err)
	}
	return tdb, nil
}

// TeardownTestDB closes the connection and drops the database
func (tdb *TestDB) TeardownTestDB() error {
	if tdb.DB == nil {
		return nil
	}
	closeDB(tdb.DB)
	tdb.DB = nil

	admin, err := open(tdb.server)
	if err != nil {
		return fmt.Errorf("failed to connect to PostgreSQL for cleanup: %w", err)
	}
	defer closeDB(admin)

	// Straggling pool connections block DROP DATABASE
	_ = admin.Exec(
		"SELECT pg_terminate_backend(pid) FROM pg_stat_activity WHERE datname = ? AND pid <> pg_backend_pid()",
		tdb.Name,
	).Error

	if err := admin.Exec("DROP DATABASE IF EXISTS " + tdb.Name).Error; err != nil {
		return fmt.Errorf("failed to drop test database %s: %w", tdb.Name, err)
	}
	return nil
}

// ClearAllTables truncates every model table, keeping the schema
func (tdb *TestDB) ClearAllTables() error {
	var tables []string
	for _, m := range models.All() {
		stmt := &gorm.Statement{DB: tdb.DB}
		if err := stmt.Parse(m); err != nil {
			return fmt.Errorf("failed to resolve table for %T: %w", m, err)
		}
		tables = append(tables, stmt.Schema.Table)
	}

	sql := fmt.Sprintf("TRUNCATE TABLE %s RESTART IDENTITY CASCADE", strings.Join(tables, ", "))
	if err := tdb.DB.Exec(sql).Error; err != nil {
		return fmt.Errorf("failed to truncate tables: %w", err)
	}
	return nil
}

// CreateTestContext creates a context for testing
func CreateTestContext() context.Context {
	return context.Background()
}
