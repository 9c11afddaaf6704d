// Copyright 2024-2026 Aiku AI

// Package upgrades holds the SQL schema of the pair store.
package upgrades

import (
	"embed"

	"go.mau.fi/util/dbutil"
)

// Table is the upgrade table applied to every SQL pair store.
var Table dbutil.UpgradeTable

//go:embed *.sql
var rawUpgrades embed.FS

func init() {
	Table.RegisterFS(rawUpgrades)
}
