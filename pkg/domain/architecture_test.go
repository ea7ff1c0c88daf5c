package domain

import (
	"testing"

	"controlroom/testutil"
)

// TestDomainDoesNotImportInternal keeps the entity model free of I/O layers.
func TestDomainDoesNotImportInternal(t *testing.T) {
	testutil.AssertNoDirectImports(t, ".", testutil.InternalImportForbidden, "domain must not depend on internal packages")
}
