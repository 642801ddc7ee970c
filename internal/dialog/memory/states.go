package memory

import "tourism-assistant/internal/models"

// Event drives a dialog state transition.
type Event string

const (
	EventGreet            Event = "greet"
	EventFarewell         Event = "farewell"
	EventMissingEntities  Event = "missing_entities"
	EventEntitiesComplete Event = "entities_complete"
	EventFallback         Event = "fallback"
	EventSmalltalk        Event = "smalltalk"
)

// transitions is keyed by (state, event). goal_tracking is only entered on a complete
// knowledge query made from information_gathering or goal_tracking.
var transitions = map[models.State]map[Event]models.State{
	models.StateGreeting: {
		EventGreet:            models.StateInformationGathering,
		EventFarewell:         models.StateFarewell,
		EventMissingEntities:  models.StateClarifying,
		EventEntitiesComplete: models.StateInformationGathering,
		EventFallback:         models.StateInformationGathering,
		EventSmalltalk:        models.StateInformationGathering,
	},
	models.StateInformationGathering: {
		EventGreet:            models.StateInformationGathering,
		EventFarewell:         models.StateFarewell,
		EventMissingEntities:  models.StateClarifying,
		EventEntitiesComplete: models.StateGoalTracking,
		EventFallback:         models.StateInformationGathering,
		EventSmalltalk:        models.StateInformationGathering,
	},
	models.StateClarifying: {
		EventGreet:            models.StateClarifying,
		EventFarewell:         models.StateFarewell,
		EventMissingEntities:  models.StateClarifying,
		EventEntitiesComplete: models.StateInformationGathering,
		EventFallback:         models.StateClarifying,
		EventSmalltalk:        models.StateClarifying,
	},
	models.StateGoalTracking: {
		EventGreet:            models.StateGoalTracking,
		EventFarewell:         models.StateFarewell,
		EventMissingEntities:  models.StateClarifying,
		EventEntitiesComplete: models.StateGoalTracking,
		EventFallback:         models.StateGoalTracking,
		EventSmalltalk:        models.StateGoalTracking,
	},
	models.StateFarewell: {
		EventGreet:            models.StateInformationGathering,
		EventFarewell:         models.StateFarewell,
		EventMissingEntities:  models.StateClarifying,
		EventEntitiesComplete: models.StateInformationGathering,
		EventFallback:         models.StateInformationGathering,
		EventSmalltalk:        models.StateInformationGathering,
	},
}

// NextState looks up the transition table. Unknown states restart from greeting.
func NextState(from models.State, ev Event) models.State {
	row, ok := transitions[from]
	if !ok {
		row = transitions[models.StateGreeting]
	}
	if to, ok := row[ev]; ok {
		return to
	}
	return from
}

// EventFor maps a dialog action to the event it represents.
func EventFor(action models.DialogAction) Event {
	switch action.Kind {
	case models.ActionEnd:
		return EventFarewell
	case models.ActionClarify:
		return EventMissingEntities
	case models.ActionQueryKnowledge:
		return EventEntitiesComplete
	}
	switch action.Intent {
	case models.IntentGreeting:
		return EventGreet
	case models.FallbackIntent:
		return EventFallback
	default:
		return EventSmalltalk
	}
}
