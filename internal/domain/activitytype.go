package domain

// ActivityTypeDefinition describes one activity category a dog can be
// engaged in, and doubles as a column definition on the facility board.
type ActivityTypeDefinition struct {
	Code           string
	Label          string
	Icon           string
	Color          string
	MaxMinutes     int
	WarningMinutes int
	ShowOnBoard    bool
	IsCustom       bool
	SortOrder      int
}

// TypeOverride patches a built-in type for one facility. Nil fields keep
// the built-in value.
type TypeOverride struct {
	Code           string
	Label          *string
	Icon           *string
	Color          *string
	MaxMinutes     *int
	WarningMinutes *int
	ShowOnBoard    *bool
	SortOrder      *int
}

// RestTypeCode is the canonical "at rest" column. Ending an activity
// without starting another moves the dog here.
const RestTypeCode = "kennel"

// BuiltinTypes returns a fresh copy of the fixed catalog every facility
// starts from. Callers may patch the copy freely.
func BuiltinTypes() []ActivityTypeDefinition {
	return []ActivityTypeDefinition{
		{Code: RestTypeCode, Label: "Kennel", Icon: "house", Color: "#8d99ae", MaxMinutes: 240, WarningMinutes: 180, ShowOnBoard: true, SortOrder: 10},
		{Code: "training", Label: "Training", Icon: "whistle", Color: "#2b9348", MaxMinutes: 60, WarningMinutes: 45, ShowOnBoard: true, SortOrder: 20},
		{Code: "feeding", Label: "Feeding", Icon: "bowl", Color: "#f77f00", MaxMinutes: 30, WarningMinutes: 20, ShowOnBoard: true, SortOrder: 30},
		{Code: "play", Label: "Play Yard", Icon: "ball", Color: "#00b4d8", MaxMinutes: 90, WarningMinutes: 60, ShowOnBoard: true, SortOrder: 40},
		{Code: "walk", Label: "Walk", Icon: "leash", Color: "#606c38", MaxMinutes: 45, WarningMinutes: 30, ShowOnBoard: true, SortOrder: 50},
		{Code: "grooming", Label: "Grooming", Icon: "scissors", Color: "#9d4edd", MaxMinutes: 120, WarningMinutes: 90, ShowOnBoard: true, SortOrder: 60},
		{Code: "medical", Label: "Medical", Icon: "cross", Color: "#d62828", MaxMinutes: 60, WarningMinutes: 40, ShowOnBoard: true, SortOrder: 70},
	}
}
