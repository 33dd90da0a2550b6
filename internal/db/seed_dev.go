package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

type SeedDevOptions struct {
	// StudentNos are extra demo identities to create alongside the default one.
	StudentNos []string
}

// SeedDev inserts demo identities so a fresh gate can be exercised with a
// printed QR code. Existing rows are left untouched.
func SeedDev(ctx context.Context, db *sql.DB, d Dialect, opt SeedDevOptions) error {
	ids := append([]string{"2024-00001"}, opt.StudentNos...)

	for i, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		name := "Dev Student"
		if i > 0 {
			name = fmt.Sprintf("Dev Student %d", i+1)
		}
		if _, err := db.ExecContext(ctx, d.Rebind(`
INSERT INTO students(student_no, fullname, program, year_level, section, guardian_email, guardian_phone)
VALUES (?, ?, 'BSCS', '1', 'A', NULL, NULL)
ON CONFLICT(student_no) DO NOTHING;`), id, name); err != nil {
			return fmt.Errorf("seed student %s: %w", id, err)
		}
	}

	return nil
}
