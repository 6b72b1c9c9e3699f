// Package model defines the records produced by a collection pass.
//
// Conventions:
//   - Numeric values are shopspring decimals in the canonical unit of their (market, metal).
//   - Records are immutable once written; the pipeline only inserts.
//   - Quality verdicts drive IsError; the flag is never set independently.
package model
