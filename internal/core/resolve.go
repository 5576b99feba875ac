package core

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/JonMunkholm/libinventory/internal/catalog"
)

// Row rejection reasons shown to the operator.
const (
	ReasonMissingTitle   = "Missing title"
	ReasonInvalidCopies  = "Invalid physical copies count"
	UnknownTitle         = "Unknown"
	msgCreatedFormat     = "Created new entry with %d physical copies"
	msgUpdatedFormat     = "Updated physical copies: %d"
	msgDatabaseErrFormat = "Database error: %v"
	msgLookupErrFormat   = "Lookup error: %v"
)

// ActionKind is the decision made for one row.
type ActionKind int

const (
	ActionReject ActionKind = iota
	ActionUpdate
	ActionCreate
)

func (k ActionKind) String() string {
	switch k {
	case ActionReject:
		return "reject"
	case ActionUpdate:
		return "update"
	case ActionCreate:
		return "create"
	default:
		return fmt.Sprintf("ActionKind(%d)", int(k))
	}
}

// Action is the mutation to apply for one row. Only the payload matching
// Kind is populated.
type Action struct {
	Kind     ActionKind
	Reason   string
	Copies   int
	TargetID string
	Create   catalog.NewEntry
	Update   catalog.Patch
}

// ResolveEnv supplies the values a row cannot carry itself.
type ResolveEnv struct {
	Today  time.Time
	UserID string
}

// ValidateRow checks the fields that must be sane before any lookup.
// It returns the parsed copy count, or a reason when the row is rejected.
func ValidateRow(v RowValues) (int, string) {
	if strings.TrimSpace(v.Title) == "" {
		return 0, ReasonMissingTitle
	}
	n, ok := parseCopies(v.PhysicalCopies)
	if !ok {
		return 0, ReasonInvalidCopies
	}
	return n, ""
}

// Resolve decides between reject, update and create.
//
// An update refreshes the count and inventory date, moves the location only
// when the row names one and sets voicing only when the row has one. Title
// and composer of an existing entry are never touched.
func Resolve(v RowValues, match *catalog.Entry, env ResolveEnv) Action {
	copies, reason := ValidateRow(v)
	if reason != "" {
		return Action{Kind: ActionReject, Reason: reason}
	}

	today := dateOnly(env.Today)

	if match != nil {
		location := match.PhysicalLocation
		if v.LibraryNumber != "" {
			location = catalog.StringPtr(v.LibraryNumber)
		}
		return Action{
			Kind:     ActionUpdate,
			Copies:   copies,
			TargetID: match.ID,
			Update: catalog.Patch{
				PhysicalCopiesCount: copies,
				PhysicalLocation:    location,
				LastInventoryDate:   today,
				Voicing:             catalog.StringPtr(v.Voicing),
			},
		}
	}

	return Action{
		Kind:   ActionCreate,
		Copies: copies,
		Create: catalog.NewEntry{
			Title:               v.Title,
			Composer:            catalog.StringPtr(v.Composer),
			Voicing:             catalog.StringPtr(v.Voicing),
			PhysicalCopiesCount: copies,
			PhysicalLocation:    catalog.StringPtr(v.LibraryNumber),
			LastInventoryDate:   today,
			IsPublic:            true,
			CreatedBy:           env.UserID,
		},
	}
}

// parseCopies reads the leading integer of s the way spreadsheet exports
// tend to need it: "3 copies" is 3, text with no leading digits is 0.
// Negative values and values that overflow int are rejected.
func parseCopies(s string) (int, bool) {
	s = strings.TrimSpace(s)
	neg := false
	if s != "" && (s[0] == '-' || s[0] == '+') {
		neg = s[0] == '-'
		s = s[1:]
	}
	end := 0
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == 0 {
		return 0, true
	}
	n, err := strconv.Atoi(s[:end])
	if err != nil {
		return 0, false
	}
	if neg && n != 0 {
		return 0, false
	}
	return n, true
}

func dateOnly(t time.Time) time.Time {
	if t.IsZero() {
		t = time.Now()
	}
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
