package database

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
)

// SchemaValidator checks a migrated database against what the store
// expects to find.
type SchemaValidator struct {
	db *sql.DB
}

func NewSchemaValidator(db *sql.DB) *SchemaValidator {
	return &SchemaValidator{db: db}
}

var requiredTables = map[string]map[string]string{
	"users": {
		"email":      "TEXT",
		"profile":    "TEXT",
		"created_at": "DATETIME",
		"updated_at": "DATETIME",
	},
	"rooms": {
		"room_address":  "TEXT",
		"participant_a": "TEXT",
		"participant_b": "TEXT",
		"pair_low":      "TEXT",
		"pair_high":     "TEXT",
		"blocked":       "TEXT",
		"created_at":    "DATETIME",
	},
	"messages": {
		"id":                "TEXT",
		"room_address":      "TEXT",
		"sender":            "TEXT",
		"receiver":          "TEXT",
		"pair_low":          "TEXT",
		"pair_high":         "TEXT",
		"data":              "TEXT",
		"current_time_mili": "INTEGER",
		"created_at":        "DATETIME",
	},
	"schema_migrations": {
		"version":    "TEXT",
		"applied_at": "DATETIME",
	},
}

var requiredIndexes = []string{
	"idx_rooms_participant_a",
	"idx_rooms_participant_b",
	"idx_messages_pair_time",
	"idx_messages_sender_time",
	"idx_messages_receiver_time",
}

// Validate runs every check.
func (v *SchemaValidator) Validate(ctx context.Context) error {
	if err := v.ValidateTablesExist(ctx); err != nil {
		return err
	}
	if err := v.ValidateTableStructure(ctx); err != nil {
		return err
	}
	return v.ValidateIndexes(ctx)
}

func (v *SchemaValidator) ValidateTablesExist(ctx context.Context) error {
	for _, table := range sortedKeys(requiredTables) {
		exists, err := v.objectExists(ctx, "table", table)
		if err != nil {
			return fmt.Errorf("error checking table %s: %w", table, err)
		}
		if !exists {
			return fmt.Errorf("required table %s does not exist", table)
		}
	}
	return nil
}

func (v *SchemaValidator) ValidateTableStructure(ctx context.Context) error {
	for _, table := range sortedKeys(requiredTables) {
		if err := v.validateColumns(ctx, table, requiredTables[table]); err != nil {
			return fmt.Errorf("%s table structure invalid: %w", table, err)
		}
	}
	return nil
}

func (v *SchemaValidator) ValidateIndexes(ctx context.Context) error {
	for _, index := range requiredIndexes {
		exists, err := v.objectExists(ctx, "index", index)
		if err != nil {
			return fmt.Errorf("error checking index %s: %w", index, err)
		}
		if !exists {
			return fmt.Errorf("required index %s does not exist", index)
		}
	}
	return nil
}

func (v *SchemaValidator) objectExists(ctx context.Context, kind, name string) (bool, error) {
	var count int
	err := v.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sqlite_master WHERE type = ? AND name = ?",
		kind, name,
	).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (v *SchemaValidator) validateColumns(ctx context.Context, tableName string, expected map[string]string) error {
	rows, err := v.db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", tableName))
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()

	found := make(map[string]string)
	for rows.Next() {
		var (
			cid          int
			name         string
			dataType     string
			notNull      int
			defaultValue interface{}
			pk           int
		)
		if err := rows.Scan(&cid, &name, &dataType, &notNull, &defaultValue, &pk); err != nil {
			return err
		}
		found[name] = dataType
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for _, col := range sortedKeys(expected) {
		foundType, ok := found[col]
		if !ok {
			return fmt.Errorf("column %s not found", col)
		}
		if foundType != expected[col] {
			return fmt.Errorf("column %s has type %s, expected %s", col, foundType, expected[col])
		}
	}
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
