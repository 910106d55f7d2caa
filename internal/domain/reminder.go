package domain

import "time"

// TestReminderDelay is used by the "send a test reminder" action.
const TestReminderDelay = 5 * time.Second

// ReminderContent is what gets scheduled for a mood.
type ReminderContent struct {
	Title string
	Body  string
	Delay time.Duration
}

var reminderPolicy = map[Mood]ReminderContent{
	MoodHungry: {
		Title: "🍎 Feeding time!",
		Body:  "Your friend needs something to eat!",
		Delay: 2 * time.Hour,
	},
	MoodBored: {
		Title: "🎮 Play time!",
		Body:  "Your friend wants to play with you!",
		Delay: 3 * time.Hour,
	},
	MoodTired: {
		Title: "💤 Rest time!",
		Body:  "Your friend would like to rest...",
		Delay: 4 * time.Hour,
	},
	MoodHappy: {
		Title: "🥺 I miss you!",
		Body:  "Your friend misses you, come spend some time together!",
		Delay: 6 * time.Hour,
	},
}

// ReminderFor returns the fixed reminder for a mood. Unknown moods get the check-in reminder.
func ReminderFor(m Mood) ReminderContent {
	if c, ok := reminderPolicy[m]; ok {
		return c
	}
	return reminderPolicy[MoodHappy]
}

// Reminder is a scheduled, not yet delivered, notification.
type Reminder struct {
	ID      ReminderID
	Mood    Mood
	Title   string
	Body    string
	Delay   time.Duration
	FiresAt Timestamp
}
