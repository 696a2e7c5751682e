// Package reaper removes catalog rows that nothing references any more.
package reaper

import (
	"context"
	"fmt"

	"github.com/fortressi/gatewaysync"
	"github.com/fortressi/gatewaysync/observability"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

// Rule describes one catalog table and the table referencing it.
type Rule struct {
	Catalog    string
	Key        string
	Reference  string
	ForeignKey string
}

// PluginCatalog drops plugin catalog entries without bindings.
var PluginCatalog = Rule{
	Catalog:    "plugins",
	Key:        "id",
	Reference:  "plugin_bindings",
	ForeignKey: "catalog_id",
}

func (r Rule) sql() string {
	return fmt.Sprintf(
		"DELETE FROM %[1]s WHERE NOT EXISTS (SELECT 1 FROM %[3]s WHERE %[3]s.%[4]s = %[1]s.%[2]s)",
		r.Catalog, r.Key, r.Reference, r.ForeignKey,
	)
}

// Reaper is the post-commit hook the orchestrator calls after every
// successful mirror transaction.
type Reaper struct {
	db    *gorm.DB
	rules []Rule
	log   zerolog.Logger
}

var _ gatewaysync.Reaper = (*Reaper)(nil)

// New creates a reaper for the given rules, PluginCatalog when none are given.
func New(db *gorm.DB, log zerolog.Logger, rules ...Rule) *Reaper {
	if len(rules) == 0 {
		rules = []Rule{PluginCatalog}
	}
	return &Reaper{db: db, rules: rules, log: log}
}

// Reap sweeps every rule. Failures are logged and counted, never returned.
func (r *Reaper) Reap(ctx context.Context) {
	for _, rule := range r.rules {
		n, err := r.Sweep(ctx, rule)
		if err != nil {
			observability.RecordReaperFailure(rule.Catalog)
			r.log.Error().
				Err(&gatewaysync.OrphanCleanupError{Catalog: rule.Catalog, Cause: err}).
				Msg("orphan cleanup failed")
			continue
		}

		if n > 0 {
			observability.RecordOrphansReaped(rule.Catalog, n)
			r.log.Info().
				Str("catalog", rule.Catalog).
				Int64("removed", n).
				Msg("removed orphaned catalog entries")
		}
	}
}

// Sweep deletes the unreferenced rows of one catalog and returns how many
// were removed.
func (r *Reaper) Sweep(ctx context.Context, rule Rule) (int64, error) {
	result := r.db.
		WithContext(ctx).
		Exec(rule.sql())

	if result.Error != nil {
		return 0, result.Error
	}

	return result.RowsAffected, nil
}
