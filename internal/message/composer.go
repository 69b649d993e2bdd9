// Package message maps reminder types to the notification text shown to users.
package message

// Reminder types with dedicated copy.
const (
	TypeWorkout = "workout"
	TypeWater   = "water"
	TypeDiet    = "diet"
	TypeSnack   = "snack"
)

// Message is the display block of a push notification.
type Message struct {
	Title string
	Body  string
}

var templates = map[string]Message{
	TypeWorkout: {Title: "Time to Exercise", Body: "Let's get some movement in today! 💪"},
	TypeWater:   {Title: "Stay Hydrated", Body: "Remember to drink some water! 💧"},
	TypeDiet:    {Title: "Healthy Eating Time", Body: "Time for a nutritious meal! 🥗"},
	TypeSnack:   {Title: "Snack Time", Body: "Grab a healthy snack! 🍎"},
}

// Fallback is used for any type without a template.
var Fallback = Message{
	Title: "Wellness Reminder",
	Body:  "Check Mental Zen for your wellness reminder",
}

// Compose returns the title and body for a reminder type. It never returns empty text.
func Compose(reminderType string) Message {
	if msg, ok := templates[reminderType]; ok {
		return msg
	}
	return Fallback
}

// Known reports whether a type has dedicated copy.
func Known(reminderType string) bool {
	_, ok := templates[reminderType]
	return ok
}
