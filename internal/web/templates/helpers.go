package templates

import (
	"time"

	"github.com/JonMunkholm/libinventory/internal/core"
)

// wizardSteps are the step labels in display order.
var wizardSteps = []struct {
	step  core.Step
	label string
}{
	{core.StepUpload, "Upload"},
	{core.StepPreview, "Preview"},
	{core.StepMapping, "Map columns"},
	{core.StepImporting, "Importing"},
	{core.StepResults, "Results"},
}

// formatTime formats a timestamp for display, or "-" for the zero time.
func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04")
}

// fieldLabel marks required fields with an asterisk.
func fieldLabel(f core.Field) string {
	if f.Required() {
		return f.Label() + " *"
	}
	return f.Label()
}
