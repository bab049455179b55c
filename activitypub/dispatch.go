package activitypub

import (
	"palisade/domain"
)

// Dispatch axes. Each axis is a closed enumeration; an inbound activity is
// routed on the discriminant tuple (actor kind, verb, nested verb, object
// kind) to the single handler registered for the most specific match.
type ActorKind string

const (
	ActorPerson ActorKind = "Person"
	ActorGroup  ActorKind = "Group"
	ActorAny    ActorKind = "*"
)

type Verb string

const (
	VerbAdd      Verb = "Add"
	VerbCreate   Verb = "Create"
	VerbAnnounce Verb = "Announce"
	VerbLike     Verb = "Like"
	VerbFollow   Verb = "Follow"
	VerbUndo     Verb = "Undo"
	VerbAccept   Verb = "Accept"
	VerbReject   Verb = "Reject"
	VerbUpdate   Verb = "Update"
	VerbDelete   Verb = "Delete"
)

type ObjectKind string

const (
	ObjectNote   ObjectKind = "Note"
	ObjectPerson ObjectKind = "Person"
	ObjectAny    ObjectKind = "*"
)

// HandlerKey is a registration tuple. Empty Nested means "no nested
// activity"; ActorAny/ObjectAny are wildcards.
type HandlerKey struct {
	Actor  ActorKind
	Verb   Verb
	Nested Verb
	Object ObjectKind
}

// HandlerFunc processes one delivery on behalf of a verified remote actor.
type HandlerFunc func(hc *HandlerContext, actor *domain.RemoteAccount, d *Delivery) error

var handlers = map[HandlerKey]HandlerFunc{}

// Register binds a handler to a discriminant tuple. Later registrations for
// the same tuple replace earlier ones.
func Register(key HandlerKey, fn HandlerFunc) {
	handlers[key] = fn
}

// Lookup returns the handler for the most specific registered tuple. For
// activities carrying a nested activity, a registration that names the
// nested verb always beats one that matches only the outer verb; within the
// same nesting level, concrete actor and object kinds beat wildcards.
//
// An unknown shape returns (nil, false): such activities are acknowledged
// and dropped, never rejected, so that newer verbs on the remote side do not
// turn into retry storms.
func Lookup(actor ActorKind, verb Verb, nested Verb, object ObjectKind) (HandlerFunc, bool) {
	nestedCandidates := []Verb{nested}
	if nested != "" {
		nestedCandidates = append(nestedCandidates, "")
	}

	objectCandidates := []ObjectKind{object}
	if object != ObjectAny {
		objectCandidates = append(objectCandidates, ObjectAny)
	}

	for _, n := range nestedCandidates {
		for _, a := range []ActorKind{actor, ActorAny} {
			for _, o := range objectCandidates {
				if fn, ok := handlers[HandlerKey{Actor: a, Verb: verb, Nested: n, Object: o}]; ok {
					return fn, true
				}
			}
			if a == ActorAny {
				break
			}
		}
	}
	return nil, false
}

// RegisterHandlers installs the built-in activity handlers. Called once at
// startup before the first delivery is accepted.
func RegisterHandlers() {
	Register(HandlerKey{ActorAny, VerbAdd, "", ObjectNote}, HandleAddNote)
	Register(HandlerKey{ActorPerson, VerbCreate, "", ObjectNote}, HandleCreateNote)
	Register(HandlerKey{ActorAny, VerbAnnounce, "", ObjectAny}, HandleAnnounceNote)
	Register(HandlerKey{ActorPerson, VerbLike, "", ObjectAny}, HandleLikeNote)
	Register(HandlerKey{ActorPerson, VerbFollow, "", ObjectAny}, HandleFollow)
	Register(HandlerKey{ActorPerson, VerbAccept, VerbFollow, ObjectAny}, HandleAcceptFollow)
	Register(HandlerKey{ActorAny, VerbUndo, VerbAnnounce, ObjectAny}, HandleUndoAnnounceNote)
	Register(HandlerKey{ActorPerson, VerbUndo, VerbLike, ObjectAny}, HandleUndoLikeNote)
	Register(HandlerKey{ActorPerson, VerbUndo, VerbFollow, ObjectAny}, HandleUndoFollow)
	Register(HandlerKey{ActorAny, VerbUpdate, "", ObjectNote}, HandleUpdateNote)
	Register(HandlerKey{ActorPerson, VerbUpdate, "", ObjectPerson}, HandleUpdatePerson)
	Register(HandlerKey{ActorAny, VerbDelete, "", ObjectAny}, HandleDelete)
}

// actorKindOf maps a cached remote account onto the dispatch axis.
func actorKindOf(actor *domain.RemoteAccount) ActorKind {
	if actor.Kind == string(ActorGroup) {
		return ActorGroup
	}
	return ActorPerson
}

// objectKindOf maps a delivery's object reference onto the dispatch axis.
// Bare URIs carry no type and match only wildcard registrations.
func objectKindOf(ref ObjectRef) ObjectKind {
	switch ref.objectType() {
	case "Note", "Article":
		return ObjectNote
	case "Person", "Service":
		return ObjectPerson
	default:
		return ObjectAny
	}
}
