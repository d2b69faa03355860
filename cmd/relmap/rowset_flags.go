package main

import (
	"database/sql/driver"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"relmap/internal/rowset"
)

// rowSetFlags are the row-set building flags shared by explain and query.
type rowSetFlags struct {
	entity   string
	filters  []string
	excludes []string
	ors      []string
	order    []string
	eager    []string
	eagerAll bool
	limit    int
	offset   int
	delete   bool
}

func (f *rowSetFlags) bind(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.StringVar(&f.entity, "entity", "", "entity to query (required)")
	flags.StringArrayVar(&f.filters, "filter", nil, "lookup=value condition, repeatable; all must hold")
	flags.StringArrayVar(&f.excludes, "exclude", nil, "lookup=value condition to exclude, repeatable")
	flags.StringArrayVar(&f.ors, "or", nil, "lookup=value condition, repeatable; any may hold")
	flags.StringSliceVar(&f.order, "order", nil, "ordering keys, prefix with - for descending")
	flags.StringSliceVar(&f.eager, "eager", nil, "foreign-key paths to load in the same query")
	flags.BoolVar(&f.eagerAll, "eager-all", false, "load every direct foreign key in the same query")
	flags.IntVar(&f.limit, "limit", 0, "maximum number of rows")
	flags.IntVar(&f.offset, "offset", 0, "rows to skip")
	flags.BoolVar(&f.delete, "delete", false, "delete the matching rows instead of selecting them")
	_ = cmd.MarkFlagRequired("entity")
}

// objectSource is a rowset.Manager or rowset.Session.
type objectSource interface {
	Objects(entity string) *rowset.RowSet
}

// build applies the flags to the entity's row set. Lookup errors surface on
// the first compile or terminal call.
func (f *rowSetFlags) build(cmd *cobra.Command, src objectSource) (*rowset.RowSet, error) {
	rs := src.Objects(f.entity)

	if len(f.filters) > 0 {
		conds, err := parseConditions(f.filters)
		if err != nil {
			return nil, fmt.Errorf("--filter: %w", err)
		}
		rs = rs.Filter(conds)
	}
	if len(f.ors) > 0 {
		conds, err := parseConditions(f.ors)
		if err != nil {
			return nil, fmt.Errorf("--or: %w", err)
		}
		rs = rs.OrFilter(conds)
	}
	for _, raw := range f.excludes {
		conds, err := parseConditions([]string{raw})
		if err != nil {
			return nil, fmt.Errorf("--exclude: %w", err)
		}
		rs = rs.Exclude(conds)
	}
	if len(f.order) > 0 {
		rs = rs.OrderBy(f.order...)
	}
	if f.eagerAll {
		rs = rs.EagerLoad()
	} else if len(f.eager) > 0 {
		rs = rs.EagerLoad(f.eager...)
	}

	limitSet := cmd.Flags().Changed("limit")
	if limitSet || f.offset != 0 {
		bounds := rowset.Bounds{Start: f.offset}
		if limitSet {
			stop := f.offset + f.limit
			bounds.Stop = &stop
		}
		rs = rs.Range(bounds)
	}
	return rs, nil
}

// parseConditions turns "lookup=value" pairs into a condition map. Values of
// __in lookups are split on commas; every other value is passed as a string
// and converted to the column kind by the compiler.
func parseConditions(pairs []string) (map[string]any, error) {
	conds := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("expected lookup=value, got %q", pair)
		}
		if _, dup := conds[key]; dup {
			return nil, fmt.Errorf("lookup %q given more than once", key)
		}
		if strings.HasSuffix(key, "__in") {
			items := []any{}
			if value != "" {
				for _, item := range strings.Split(value, ",") {
					items = append(items, strings.TrimSpace(item))
				}
			}
			conds[key] = items
			continue
		}
		conds[key] = value
	}
	return conds, nil
}

// formatArgs renders bound arguments for display. Driver valuers such as
// Postgres arrays are shown in their wire form.
func formatArgs(args []interface{}) []string {
	out := make([]string, len(args))
	for i, arg := range args {
		if valuer, ok := arg.(driver.Valuer); ok {
			if v, err := valuer.Value(); err == nil {
				arg = v
			}
		}
		if b, ok := arg.([]byte); ok {
			arg = string(b)
		}
		out[i] = fmt.Sprintf("%v", arg)
	}
	return out
}
