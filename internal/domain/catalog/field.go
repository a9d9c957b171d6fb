package catalog

import (
	"fmt"
	"strings"
)

// Root selects the document a condition field reads from.
type Root int

// Field roots.
const (
	RootMetadata Root = iota + 1
	RootUser
)

func (r Root) String() string {
	switch r {
	case RootMetadata:
		return "metadata"
	case RootUser:
		return "user"
	default:
		return "unknown"
	}
}

// User snapshot fields a condition may reference.
const (
	UserID                    = "id"
	UserXP                    = "xp"
	UserPoints                = "points"
	UserLevel                 = "level"
	UserTeamID                = "teamId"
	UserDisplayName           = "displayName"
	UserUnlockedAchievements  = "unlockedAchievements"
	UserAchievementProgress   = "achievementProgress"
	UserAchievementLastAction = "achievementLastAction"
)

// Field is a parsed condition path such as "metadata.count" or
// "user.achievementProgress.hymn_reader".
type Field struct {
	Root Root
	Path []string
}

// ParseField parses and validates a dotted field path.
func ParseField(s string) (Field, error) {
	parts := strings.Split(strings.TrimSpace(s), ".")
	if len(parts) < 2 {
		return Field{}, fmt.Errorf("%w: %q needs a root and a path", ErrInvalidField, s)
	}
	for _, p := range parts {
		if p == "" {
			return Field{}, fmt.Errorf("%w: %q has an empty segment", ErrInvalidField, s)
		}
	}

	f := Field{Path: parts[1:]}
	switch parts[0] {
	case "metadata":
		f.Root = RootMetadata
	case "user":
		f.Root = RootUser
		if err := validateUserPath(f.Path); err != nil {
			return Field{}, fmt.Errorf("%w: %q: %w", ErrInvalidField, s, err)
		}
	default:
		return Field{}, fmt.Errorf("%w: %q has unknown root %q", ErrInvalidField, s, parts[0])
	}
	return f, nil
}

func validateUserPath(path []string) error {
	switch path[0] {
	case UserID, UserXP, UserPoints, UserLevel, UserTeamID, UserDisplayName, UserUnlockedAchievements:
		if len(path) != 1 {
			return fmt.Errorf("user field %q has no sub-fields", path[0])
		}
	case UserAchievementProgress, UserAchievementLastAction:
		if len(path) > 2 {
			return fmt.Errorf("user field %q takes at most one rule id", path[0])
		}
	default:
		return fmt.Errorf("unknown user field %q", path[0])
	}
	return nil
}

// String renders the field in its dotted catalog form.
func (f Field) String() string {
	return f.Root.String() + "." + strings.Join(f.Path, ".")
}

// MarshalText implements encoding.TextMarshaler.
func (f Field) MarshalText() ([]byte, error) {
	return []byte(f.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (f *Field) UnmarshalText(b []byte) error {
	parsed, err := ParseField(string(b))
	if err != nil {
		return err
	}
	*f = parsed
	return nil
}
