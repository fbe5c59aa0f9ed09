package store

import "fmt"

// Scope identifies one (userId, agentId) ownership boundary. All
// user-visible entities — notes, lists, schedules, memory, undo history,
// subscriptions, location reminders — are stored under a composite key
// built from a Scope.
type Scope struct {
	UserID  string
	AgentID string
}

func (s Scope) String() string {
	return fmt.Sprintf("%s:%s", s.UserID, s.AgentID)
}

// Collection enumerates the per-agent collections in the
// persistence key layout.
type Collection string

const (
	CollectionNotes         Collection = "notes"
	CollectionLists         Collection = "lists"
	CollectionSchedules     Collection = "schedules"
	CollectionExpenses      Collection = "expenses"
	CollectionMemory        Collection = "memory"
	CollectionSkills        Collection = "skills"
	CollectionSubscriptions Collection = "subscriptions"
	CollectionLocations     Collection = "locations"
	CollectionUndo          Collection = "undo"
	CollectionWorkingMemory Collection = "workingMemory"
)

// AgentWorkspaceKey is the key under which a user's array of agent
// configs lives: "user:<userId>:agentWorkspace".
func AgentWorkspaceKey(userID string) string {
	return fmt.Sprintf("user:%s:agentWorkspace", userID)
}

// CollectionKey builds "user:<userId>:agent:<agentId>:<collection>".
func CollectionKey(scope Scope, collection Collection) string {
	return fmt.Sprintf("user:%s:agent:%s:%s", scope.UserID, scope.AgentID, collection)
}

// ItemKey builds a per-item key within a collection:
// "user:<userId>:agent:<agentId>:<collection>:<itemId>".
func ItemKey(scope Scope, collection Collection, itemID string) string {
	return fmt.Sprintf("%s:%s", CollectionKey(scope, collection), itemID)
}

// CollectionPrefix returns the prefix that ScanPrefix should be given to
// enumerate every item in a scoped collection.
func CollectionPrefix(scope Scope, collection Collection) string {
	return CollectionKey(scope, collection) + ":"
}

// UsageEventsKey and ResourceEventsKey are the two append-only
// accounting streams.
const (
	UsageEventsKey    = "user_usage_events"
	ResourceEventsKey = "user_resource_events"
)
