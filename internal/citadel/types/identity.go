package types

import "strings"

// Identity is an enrolled student. StudentNo is the QR payload and the key
// for every template and attendance row.
type Identity struct {
	StudentNo     string
	FullName      string
	Program       string
	YearLevel     string
	Section       string
	GuardianEmail string
	GuardianPhone string
}

// DisplayName is what the gate screen shows after a decision.
func (i Identity) DisplayName() string {
	if strings.TrimSpace(i.FullName) != "" {
		return i.FullName
	}
	return i.StudentNo
}

// YearSection renders "<program> <year>-<section>" with empty parts omitted.
func (i Identity) YearSection() string {
	ys := i.YearLevel
	if i.Section != "" {
		if ys != "" {
			ys += "-"
		}
		ys += i.Section
	}
	return strings.TrimSpace(strings.Join([]string{i.Program, ys}, " "))
}
