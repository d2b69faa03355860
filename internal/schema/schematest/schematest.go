// Package schematest provides a small banking model shared by package tests.
package schematest

import (
	"relmap/internal/schema"
)

// BankingDefinitions returns the fixture entities:
//
//	Currency(id, code)                               personal.currency
//	Bank(id, name, currency -> Currency?)            personal.bank
//	Transaction(id, date_of_entry, amount, status, bank -> Bank?)
//	InterBankStatus(id, depositor -> Bank, receiver -> Bank, amount)
//	Employee(id, name, manager -> Employee?)
func BankingDefinitions() []schema.EntityDef {
	return []schema.EntityDef{
		{
			Name:   "Currency",
			Schema: "personal",
			Columns: []schema.ColumnDef{
				schema.Serial("id"),
				schema.Text("code", 3).AsUnique(),
			},
		},
		{
			Name:   "Bank",
			Schema: "personal",
			Columns: []schema.ColumnDef{
				schema.Serial("id"),
				schema.Text("name", 50),
				schema.ForeignKey("currency", "Currency").Null(),
			},
		},
		{
			Name:  "Transaction",
			Table: "transactions",
			Columns: []schema.ColumnDef{
				schema.Serial("id"),
				schema.Date("date_of_entry"),
				schema.Float("amount"),
				schema.Boolean("status"),
				schema.ForeignKey("bank", "Bank").Null(),
			},
		},
		{
			Name: "InterBankStatus",
			Columns: []schema.ColumnDef{
				schema.Serial("id"),
				schema.ForeignKey("depositor", "Bank"),
				schema.ForeignKey("receiver", "Bank"),
				schema.Float("amount"),
			},
		},
		{
			Name: "Employee",
			Columns: []schema.ColumnDef{
				schema.Serial("id"),
				schema.Text("name", 0),
				schema.ForeignKey("manager", "Employee").Null(),
			},
		},
	}
}

// Banking builds the fixture registry. It panics on error since the
// definitions are static.
func Banking() *schema.Registry {
	reg, err := schema.NewRegistry(BankingDefinitions())
	if err != nil {
		panic(err)
	}
	return reg
}
