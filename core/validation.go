// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package core

import (
	"fmt"
	"path/filepath"
	"strings"
)

// DefaultDepartment is assigned when a caller omits or misspells a department.
const DefaultDepartment = "General"

// Departments is the allow-list of known departments in canonical casing.
var Departments = []string{
	"General",
	"IT",
	"HR",
	"Finance",
	"Legal",
	"Operations",
	"Sales",
	"Marketing",
	"Engineering",
	"Support",
}

// NormalizeDepartment maps dept case-insensitively onto the allow-list.
// Empty or unknown values fall back to DefaultDepartment.
func NormalizeDepartment(dept string) string {
	dept = strings.TrimSpace(dept)
	for _, d := range Departments {
		if strings.EqualFold(d, dept) {
			return d
		}
	}
	return DefaultDepartment
}

// IsKnownDepartment reports whether dept matches the allow-list, ignoring case.
func IsKnownDepartment(dept string) bool {
	dept = strings.TrimSpace(dept)
	for _, d := range Departments {
		if strings.EqualFold(d, dept) {
			return true
		}
	}
	return false
}

// ValidateTransition checks a document status change.
//
// Allowed:
//   - pending -> processing
//   - processing -> processing (resume after interruption)
//   - processing -> completed | failed
//
// Terminal states are final.
func ValidateTransition(from, to DocumentStatus) error {
	switch from {
	case StatusPending:
		if to == StatusProcessing {
			return nil
		}
	case StatusProcessing:
		if to == StatusProcessing || to == StatusCompleted || to == StatusFailed {
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}

// SanitizeFilename returns the base name of filename, rejecting empty names
// and names that resolve to a directory reference.
func SanitizeFilename(filename string) (string, error) {
	name := strings.TrimSpace(filename)
	if name == "" {
		return "", fmt.Errorf("%w: %w", ErrValidation, ErrEmptyFilename)
	}
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	if name == "." || name == ".." || name == "/" {
		return "", fmt.Errorf("%w: unsafe filename %q", ErrValidation, filename)
	}
	return name, nil
}

// ValidateDocumentRecord checks a record before it is first persisted.
func ValidateDocumentRecord(doc *DocumentRecord) error {
	if doc == nil {
		return fmt.Errorf("%w: record is nil", ErrValidation)
	}
	if doc.ID == "" {
		return fmt.Errorf("%w: record id is empty", ErrValidation)
	}
	if doc.Filename == "" {
		return fmt.Errorf("%w: %w", ErrValidation, ErrEmptyFilename)
	}
	if !IsKnownDepartment(doc.Department) {
		return fmt.Errorf("%w: unknown department %q", ErrValidation, doc.Department)
	}
	return nil
}
