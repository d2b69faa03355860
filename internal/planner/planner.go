// Package planner converts row-set query descriptions into parameterized SQL.
// It resolves lookup keys into foreign-key joins, assigns each join a unique
// alias, and assembles projection, filtering, ordering and pagination clauses.
// Identifiers come only from registered schema metadata; every value is bound
// as a placeholder argument.
package planner
