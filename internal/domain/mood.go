package domain

// transitions is indexed by interaction, then by current mood.
// happy absorbs every interaction.
var transitions = map[InteractionKind]map[Mood]Mood{
	InteractionFeed: {
		MoodHungry: MoodHappy,
		MoodTired:  MoodBored,
		MoodHappy:  MoodHappy,
		MoodBored:  MoodHappy,
	},
	InteractionPlay: {
		MoodHungry: MoodBored,
		MoodTired:  MoodTired,
		MoodHappy:  MoodHappy,
		MoodBored:  MoodHappy,
	},
	InteractionRest: {
		MoodHungry: MoodTired,
		MoodTired:  MoodHappy,
		MoodHappy:  MoodHappy,
		MoodBored:  MoodTired,
	},
}

// NextMood returns the mood a companion moves to after the given interaction.
// Inputs outside the enumerations leave the mood unchanged.
func NextMood(current Mood, kind InteractionKind) Mood {
	next, ok := transitions[kind][current]
	if !ok {
		return current
	}
	return next
}

// ─────────────────────────────────────────
// Presentation helpers
// ─────────────────────────────────────────

func (m Mood) Label() string {
	switch m {
	case MoodHungry:
		return "Hungry"
	case MoodTired:
		return "Tired"
	case MoodHappy:
		return "Happy"
	case MoodBored:
		return "Bored"
	default:
		return "Unknown"
	}
}

func (m Mood) Emoji() string {
	switch m {
	case MoodHungry:
		return "🍽️"
	case MoodTired:
		return "😴"
	case MoodHappy:
		return "😊"
	case MoodBored:
		return "😐"
	default:
		return "❓"
	}
}

func (k InteractionKind) Label() string {
	switch k {
	case InteractionFeed:
		return "Feed"
	case InteractionPlay:
		return "Play"
	case InteractionRest:
		return "Rest"
	default:
		return "Unknown"
	}
}

func (k InteractionKind) Emoji() string {
	switch k {
	case InteractionFeed:
		return "🍎"
	case InteractionPlay:
		return "🎮"
	case InteractionRest:
		return "💤"
	default:
		return "❓"
	}
}
