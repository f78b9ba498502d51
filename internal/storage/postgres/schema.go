package postgres

import (
	"context"
	_ "embed"
	"fmt"
	"strings"
)

//go:embed schema.sql
var schemaTemplate string

// Migrate creates the record and batch tables when they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	ddl := strings.NewReplacer("{{records}}", s.records, "{{batches}}", s.batches).Replace(schemaTemplate)
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
