package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ReferenceDateLayout is the DDMMYY suffix of a CAD reference.
const ReferenceDateLayout = "020106"

// FormatReference renders counter n and the creation date as NNNNNN/DDMMYY.
func FormatReference(n int, at time.Time) string {
	return fmt.Sprintf("%06d/%s", n, at.Format(ReferenceDateLayout))
}

// ParseReferenceNumber extracts the numeric prefix of a CAD reference.
func ParseReferenceNumber(ref string) (int, error) {
	prefix, _, ok := strings.Cut(ref, "/")
	if !ok || prefix == "" {
		return 0, &ValidationError{Field: "reference", Reason: ReasonInvalid, Detail: ref}
	}
	n, err := strconv.Atoi(prefix)
	if err != nil || n < 0 {
		return 0, &ValidationError{Field: "reference", Reason: ReasonInvalid, Detail: ref}
	}
	return n, nil
}

// HighestReferenceNumber returns the largest numeric prefix among cads, or 0.
func HighestReferenceNumber(cads []CAD) int {
	highest := 0
	for _, c := range cads {
		if n, err := ParseReferenceNumber(c.Reference); err == nil && n > highest {
			highest = n
		}
	}
	return highest
}
