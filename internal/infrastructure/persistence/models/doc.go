// Package models contains GORM-specific persistence models that map to database tables.
// These models are separate from domain entities to keep the domain layer free of ORM concerns.
//
// Money is stored in minor units: USD as integer cents, LBP as integer pounds.
// Rates keep four decimal places.
//
// Structure:
// - base.go: shared timestamp and version columns
// - cashbox.go: balance, ledger, rates, actor accounts and order cash state
package models
