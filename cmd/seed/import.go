package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ikkim/account-backend/internal/app/service"
	"github.com/xuri/excelize/v2"
)

// column order of the import sheet
const (
	colEmail = iota
	colPassword
	colFirstName
	colLastName
	colCountry
	colImage
	minColumns = colLastName + 1
)

type importRow struct {
	Line  int
	Input service.RegisterInput
}

type importSummary struct {
	Created    int
	Duplicates int
	Invalid    int
	Failed     int
}

func readUsersFromXLSX(filePath string) ([]importRow, int, error) {
	f, err := excelize.OpenFile(filePath)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to open XLSX file: %w", err)
	}
	defer f.Close()

	sheetName := f.GetSheetName(0)
	if sheetName == "" {
		return nil, 0, fmt.Errorf("no sheets found in XLSX file")
	}

	rows, err := f.GetRows(sheetName)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read rows: %w", err)
	}
	if len(rows) == 0 {
		return nil, 0, fmt.Errorf("no data found in XLSX file")
	}

	var users []importRow
	seen := make(map[string]bool)
	skipped := 0

	// first row is the header
	for i, row := range rows[1:] {
		line := i + 2
		if len(row) < minColumns {
			skipped++
			continue
		}

		email := strings.ToLower(strings.TrimSpace(row[colEmail]))
		if email == "" || seen[email] {
			skipped++
			continue
		}
		seen[email] = true

		users = append(users, importRow{
			Line: line,
			Input: service.RegisterInput{
				Email:     email,
				Password:  row[colPassword],
				FirstName: strings.TrimSpace(row[colFirstName]),
				LastName:  strings.TrimSpace(row[colLastName]),
				Country:   cell(row, colCountry),
				Image:     cell(row, colImage),
			},
		})
	}

	return users, skipped, nil
}

func cell(row []string, idx int) string {
	if idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}

// importUsers registers every row, so each imported user gets a
// verification link like a regular sign-up.
func importUsers(ctx context.Context, accounts service.AccountService, rows []importRow, baseURL string) importSummary {
	var summary importSummary
	for _, row := range rows {
		_, err := accounts.Register(ctx, row.Input, baseURL)
		switch {
		case err == nil:
			summary.Created++
		case errors.Is(err, service.ErrEmailAlreadyExists):
			summary.Duplicates++
		case errors.Is(err, service.ErrValidation):
			fmt.Printf("  line %d: %v\n", row.Line, err)
			summary.Invalid++
		default:
			fmt.Printf("  line %d: %v\n", row.Line, err)
			summary.Failed++
		}
	}
	return summary
}
