package domain

import (
	"strings"

	appErrors "arbor-backend/pkg/errors"
)

// ActorKind distinguishes human and automated writers.
type ActorKind string

const (
	ActorUser  ActorKind = "user"
	ActorAgent ActorKind = "agent"
)

// Actor identifies who performed a write, recorded in CreatedBy/UpdatedBy.
// The wire form is "user:<id>" or "agent:<model-id>".
type Actor struct {
	Kind ActorKind
	ID   string
}

// ParseActor parses the "kind:id" provenance form.
func ParseActor(s string) (Actor, error) {
	kind, id, ok := strings.Cut(s, ":")
	if !ok || id == "" {
		return Actor{}, appErrors.NewValidation("actor must be of the form user:<id> or agent:<model-id>")
	}
	actor := Actor{Kind: ActorKind(kind), ID: id}
	if err := actor.Validate(); err != nil {
		return Actor{}, err
	}
	return actor, nil
}

// Validate checks the actor kind and identifier.
func (a Actor) Validate() error {
	if a.Kind != ActorUser && a.Kind != ActorAgent {
		return appErrors.NewValidation("unknown actor kind: " + string(a.Kind))
	}
	if a.ID == "" {
		return appErrors.NewValidation("actor id cannot be empty")
	}
	return nil
}

func (a Actor) String() string {
	return string(a.Kind) + ":" + a.ID
}
