// Package schema owns the destination DDL and the secondary-index
// maintenance window used around bulk loads.
package schema

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"

	"github.com/rs/zerolog"
)

//go:embed sql/destination.sql
var destinationSQL string

// Apply creates the destination tables and indexes if they do not exist.
func Apply(ctx context.Context, db *sql.DB, logger zerolog.Logger) error {
	logger.Info().Msg("applying destination schema")
	if _, err := db.ExecContext(ctx, destinationSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}
	logger.Info().Msg("destination schema ready")
	return nil
}
