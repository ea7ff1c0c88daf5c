package questionnaire

import (
	"testing"

	"controlroom/testutil"
)

func TestQuestionnaireIsSelfContained(t *testing.T) {
	testutil.AssertNoDirectImports(t, ".", testutil.ModuleImportForbidden, "the decision tree is a pure table")
}
