package room

import "strings"

// activityTable maps activity keywords to themed rooms. Order matters: the
// first row with a matching keyword wins.
var activityTable = []struct {
	keywords []string
	roomID   string
	theme    string
}{
	{[]string{"music", "guitar", "piano"}, "music-lounge", "Music Lounge"},
	{[]string{"art", "draw", "paint"}, "art-studio", "Art Studio"},
	{[]string{"code", "coding", "program", "study"}, "focus-den", "Focus Den"},
	{[]string{"game", "gaming"}, "gaming-corner", "Gaming Corner"},
	{[]string{"watching", "movie", "judge", "judging"}, "cinema", "Cinema"},
	{[]string{"party", "city", "walking"}, "city", "City"},
}

const (
	defaultRoomID = "hangout-hub"
	defaultTheme  = "Hangout Hub"
)

// RouteActivity classifies a declared activity into a (room id, theme) pair.
// Matching is by case-insensitive substring; unmatched activities land in the
// hangout hub.
func RouteActivity(activity string) (roomID, theme string) {
	lower := strings.ToLower(activity)
	for _, row := range activityTable {
		for _, kw := range row.keywords {
			if strings.Contains(lower, kw) {
				return row.roomID, row.theme
			}
		}
	}
	return defaultRoomID, defaultTheme
}
