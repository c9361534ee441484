// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package sqlite

import (
	"database/sql"
	"fmt"
	"strings"
)

// VerifyIntegrity runs PRAGMA quick_check (mode "quick") or integrity_check
// (mode "full") read-only against path. It returns the problems found, or nil
// when the database is healthy.
func VerifyIntegrity(path string, mode string) ([]string, error) {
	dsn := fmt.Sprintf("file:%s?mode=ro&_pragma=busy_timeout(2000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open for verification: %w", err)
	}
	defer func() { _ = db.Close() }()

	pragma := "PRAGMA quick_check;"
	if mode == "full" {
		pragma = "PRAGMA integrity_check;"
	}
	rows, err := db.Query(pragma)
	if err != nil {
		return nil, fmt.Errorf("integrity pragma failed: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var problems []string
	for rows.Next() {
		var res string
		if err := rows.Scan(&res); err != nil {
			return nil, fmt.Errorf("scan integrity row: %w", err)
		}
		if !strings.EqualFold(res, "ok") {
			problems = append(problems, res)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return problems, nil
}
