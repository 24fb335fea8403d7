package services

// CatalogVersion is bumped whenever Levels or Actions change.
const CatalogVersion = 3

// MaxLevel is the top of the level table.
const MaxLevel = 6

// LevelInfo is one row of the level table. Name and Unlocks are descriptive.
type LevelInfo struct {
	Level       int    `json:"level"`
	EXPRequired int64  `json:"exp_required"`
	Name        string `json:"name"`
	Unlocks     string `json:"unlocks"`
}

// Levels is ordered by Level; EXPRequired strictly increases and Levels[0] is 0.
var Levels = [MaxLevel]LevelInfo{
	{Level: 1, EXPRequired: 0, Name: "Newcomer", Unlocks: "Create and chat with characters"},
	{Level: 2, EXPRequired: 100, Name: "Apprentice Creator", Unlocks: "Fork public characters"},
	{Level: 3, EXPRequired: 300, Name: "Storyteller", Unlocks: "Custom greeting scenes"},
	{Level: 4, EXPRequired: 700, Name: "World Builder", Unlocks: "List characters for sale"},
	{Level: 5, EXPRequired: 1500, Name: "Master Creator", Unlocks: "Featured profile slot"},
	{Level: 6, EXPRequired: 3000, Name: "Legend", Unlocks: "Legend frame and all features"},
}

// ActionKey names an EXP-granting user action.
type ActionKey string

const (
	ActionDailyLogin      ActionKey = "daily_login"
	ActionCreateCharacter ActionKey = "create_character"
	ActionForkCharacter   ActionKey = "fork_character"
	ActionReceiveLike     ActionKey = "receive_like"
	ActionGiveLike        ActionKey = "give_like"
	ActionChatMessage     ActionKey = "chat_message"
	ActionSellCharacter   ActionKey = "sell_character"
)

// ActionInfo: flat EXP value, and how many times per day it may grant.
// DailyLimit 0 means unbounded.
type ActionInfo struct {
	Key         ActionKey `json:"key"`
	Value       int64     `json:"value"`
	DailyLimit  int       `json:"daily_limit,omitempty"`
	Description string    `json:"description"`
}

func (a ActionInfo) Limited() bool { return a.DailyLimit > 0 }

var Actions = map[ActionKey]ActionInfo{
	ActionDailyLogin:      {Key: ActionDailyLogin, Value: 10, DailyLimit: 1, Description: "First visit of the day"},
	ActionCreateCharacter: {Key: ActionCreateCharacter, Value: 30, DailyLimit: 5, Description: "Publish a new character"},
	ActionForkCharacter:   {Key: ActionForkCharacter, Value: 15, DailyLimit: 2, Description: "Fork a public character"},
	ActionReceiveLike:     {Key: ActionReceiveLike, Value: 5, DailyLimit: 20, Description: "One of your characters was liked"},
	ActionGiveLike:        {Key: ActionGiveLike, Value: 2, DailyLimit: 10, Description: "Like another creator's character"},
	ActionChatMessage:     {Key: ActionChatMessage, Value: 1, DailyLimit: 50, Description: "Send a chat message"},
	ActionSellCharacter:   {Key: ActionSellCharacter, Value: 50, Description: "Sell a character"},
}

// actionOrder keeps catalog listings stable.
var actionOrder = []ActionKey{
	ActionDailyLogin,
	ActionCreateCharacter,
	ActionForkCharacter,
	ActionReceiveLike,
	ActionGiveLike,
	ActionChatMessage,
	ActionSellCharacter,
}

// ListActions returns the action table in display order.
func ListActions() []ActionInfo {
	out := make([]ActionInfo, 0, len(actionOrder))
	for _, k := range actionOrder {
		out = append(out, Actions[k])
	}
	return out
}

// LookupAction returns the catalog entry for key.
func LookupAction(key ActionKey) (ActionInfo, bool) {
	a, ok := Actions[key]
	return a, ok
}

// Threshold returns the EXP required for level, clamped to 1..MaxLevel.
func Threshold(level int) int64 {
	if level < 1 {
		level = 1
	}
	if level > MaxLevel {
		level = MaxLevel
	}
	return Levels[level-1].EXPRequired
}

// LevelForEXP returns the largest level whose threshold is met by exp.
func LevelForEXP(exp int64) int {
	level := 1
	for _, l := range Levels {
		if exp >= l.EXPRequired {
			level = l.Level
		}
	}
	return level
}

// LevelName returns the display name of level, clamped to the table.
func LevelName(level int) string {
	if level < 1 {
		level = 1
	}
	if level > MaxLevel {
		level = MaxLevel
	}
	return Levels[level-1].Name
}
