package notifier

import (
	"strings"

	"controlroom/pkg/domain"
)

const descriptionPreview = 100

func orNA(s string) string {
	if strings.TrimSpace(s) == "" {
		return "N/A"
	}
	return s
}

func humanize(s string) string {
	return strings.ReplaceAll(s, "_", " ")
}

func truncate(s string) string {
	r := []rune(s)
	if len(r) <= descriptionPreview {
		return s
	}
	return string(r[:descriptionPreview]) + "..."
}

// OperatorBookedOn announces the start of a shift.
func OperatorBookedOn(op domain.Operator) Message {
	return Message{
		Title:       "👮 Operator Booked On",
		Description: "**" + op.Name + "** (" + op.ID + ") has started their shift",
		Color:       ColorBlue,
		Fields: []Field{
			{Name: "Operator", Value: op.Name, Inline: true},
			{Name: "ID", Value: op.ID, Inline: true},
		},
	}
}

// OperatorBookedOff announces the end of a shift.
func OperatorBookedOff(op domain.Operator) Message {
	return Message{
		Title:       "👋 Operator Booked Off",
		Description: "**" + op.Name + "** (" + op.ID + ") has ended their shift",
		Color:       ColorRed,
		Fields: []Field{
			{Name: "Operator", Value: op.Name, Inline: true},
			{Name: "ID", Value: op.ID, Inline: true},
		},
	}
}

// CADCreated announces a new call, coloured by grading.
func CADCreated(cad domain.CAD, by string) Message {
	return Message{
		Title:       "🚨 New CAD Created",
		Description: "A new call has been logged in the system",
		Color:       cad.Grading.Color(),
		Fields: []Field{
			{Name: "CAD Reference", Value: cad.Reference, Inline: true},
			{Name: "Grading", Value: string(cad.Grading), Inline: true},
			{Name: "Type", Value: cad.Type},
			{Name: "Location", Value: cad.Location},
			{Name: "Description", Value: truncate(cad.Description)},
			{Name: "Channel", Value: orNA(cad.Channel), Inline: true},
			{Name: "Logged By", Value: by, Inline: true},
		},
	}
}

// CADClosed announces an ended call and the units it released.
func CADClosed(cad domain.CAD, released []string, by string) Message {
	return Message{
		Title:       "✅ CAD Closed",
		Description: "Call " + cad.Reference + " has been ended",
		Color:       ColorGreen,
		Fields: []Field{
			{Name: "CAD Reference", Value: cad.Reference, Inline: true},
			{Name: "Type", Value: cad.Type, Inline: true},
			{Name: "Units Released", Value: orNA(strings.Join(released, ", "))},
			{Name: "Closed By", Value: by, Inline: true},
		},
	}
}

// CADDeleted announces a removed call.
func CADDeleted(cad domain.CAD, by string) Message {
	return Message{
		Title:       "🗑️ CAD Deleted",
		Description: "Call " + cad.Reference + " has been removed from the system",
		Color:       ColorRed,
		Fields: []Field{
			{Name: "CAD Reference", Value: cad.Reference, Inline: true},
			{Name: "Type", Value: cad.Type, Inline: true},
			{Name: "Deleted By", Value: by, Inline: true},
		},
	}
}

// UnitAdded announces a new unit.
func UnitAdded(unit domain.Unit, by string) Message {
	return Message{
		Title:       "🚓 Unit Added",
		Description: "A new unit has been added to the system",
		Color:       ColorGreen,
		Fields: []Field{
			{Name: "Callsign", Value: unit.Callsign, Inline: true},
			{Name: "Type", Value: humanize(unit.Type), Inline: true},
			{Name: "Crew", Value: unit.Crew},
			{Name: "Status", Value: humanize(string(unit.Status)), Inline: true},
			{Name: "Added By", Value: by, Inline: true},
		},
	}
}

// UnitDeleted announces a removed unit.
func UnitDeleted(unit domain.Unit, by string) Message {
	return Message{
		Title:       "❌ Unit Deleted",
		Description: "A unit has been removed from the system",
		Color:       ColorRed,
		Fields: []Field{
			{Name: "Callsign", Value: unit.Callsign, Inline: true},
			{Name: "Type", Value: humanize(unit.Type), Inline: true},
			{Name: "Crew", Value: unit.Crew},
			{Name: "Deleted By", Value: by, Inline: true},
		},
	}
}

// UnitAssigned announces a unit committed to a call.
func UnitAssigned(reference, callsign, by string) Message {
	return Message{
		Title:       "📻 Unit Assigned",
		Description: "**" + callsign + "** assigned to " + reference,
		Color:       ColorOrange,
		Fields: []Field{
			{Name: "CAD Reference", Value: reference, Inline: true},
			{Name: "Callsign", Value: callsign, Inline: true},
			{Name: "Assigned By", Value: by, Inline: true},
		},
	}
}

// UnitUnassigned announces a unit released from a call.
func UnitUnassigned(reference, callsign, by string) Message {
	return Message{
		Title:       "↩️ Unit Unassigned",
		Description: "**" + callsign + "** released from " + reference,
		Color:       ColorGrey,
		Fields: []Field{
			{Name: "CAD Reference", Value: reference, Inline: true},
			{Name: "Callsign", Value: callsign, Inline: true},
			{Name: "Released By", Value: by, Inline: true},
		},
	}
}

// AssessmentOpened announces use of the firearms risk assessment.
func AssessmentOpened(op domain.Operator) Message {
	return Message{
		Title:       "🔫 FIDS Opened",
		Description: "Firearms Incident Deployment System has been accessed",
		Color:       ColorYellow,
		Fields: []Field{
			{Name: "Accessed By", Value: op.Name, Inline: true},
			{Name: "Operator ID", Value: op.ID, Inline: true},
		},
	}
}
