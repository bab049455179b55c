package activitypub

import (
	"encoding/json"
)

// Activity is the generic envelope of an inbound ActivityPub activity. The
// object and target keep their raw JSON: depending on the verb they are a
// bare URI string, an embedded object, or a nested activity.
type Activity struct {
	Context interface{}     `json:"@context,omitempty"`
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Actor   string          `json:"actor"`
	Object  json.RawMessage `json:"object,omitempty"`
	Target  json.RawMessage `json:"target,omitempty"`
	To      []string        `json:"to,omitempty"`
	Cc      []string        `json:"cc,omitempty"`
}

// Note is the payload of a post object shipped inside an activity.
type Note struct {
	ID           string   `json:"id"`
	Type         string   `json:"type"`
	AttributedTo string   `json:"attributedTo"`
	InReplyTo    string   `json:"inReplyTo,omitempty"`
	Content      string   `json:"content"`
	Published    string   `json:"published,omitempty"`
	Updated      string   `json:"updated,omitempty"`
	Sensitive    bool     `json:"sensitive,omitempty"`
	Summary      *string  `json:"summary,omitempty"`
	Tag          []Tag    `json:"tag,omitempty"`
	To           []string `json:"to,omitempty"`
	Cc           []string `json:"cc,omitempty"`
}

// Tag is a mention or hashtag attached to a Note.
type Tag struct {
	Type string `json:"type"`
	Href string `json:"href,omitempty"`
	Name string `json:"name,omitempty"`
}

// CollectionRef is the abbreviated form of a collection used as an
// activity target.
type CollectionRef struct {
	ID   string `json:"id"`
	Type string `json:"type"`
}

// ObjectRef is a reference that arrives either as a bare URI string or as an
// embedded object carrying its own id.
type ObjectRef struct {
	URI string
	Raw json.RawMessage // nil when the reference was a bare URI
}

// ParseObjectRef decodes a raw object field into an ObjectRef, accepting
// both the URI-string and embedded-object forms.
func ParseObjectRef(raw json.RawMessage) (ObjectRef, error) {
	if len(raw) == 0 {
		return ObjectRef{}, badActivity("missing object")
	}

	var uri string
	if err := json.Unmarshal(raw, &uri); err == nil {
		if uri == "" {
			return ObjectRef{}, badActivity("empty object URI")
		}
		return ObjectRef{URI: uri}, nil
	}

	var embedded struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &embedded); err != nil {
		return ObjectRef{}, badActivity("object is neither a URI nor an object: %v", err)
	}
	return ObjectRef{URI: embedded.ID, Raw: raw}, nil
}

// objectType returns the embedded object's type, or "" for bare URIs.
func (ref ObjectRef) objectType() string {
	if ref.Raw == nil {
		return ""
	}
	var typed struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(ref.Raw, &typed); err != nil {
		return ""
	}
	return typed.Type
}

// Delivery is one parsed inbound delivery: the outer activity, the nested
// activity if the object embeds one (Undo(Announce), Accept(Follow), ...),
// and the resolved object reference.
type Delivery struct {
	Activity Activity
	Nested   *Activity // non-nil when the object is itself an activity
	Object   ObjectRef // the innermost object reference
	RawBody  []byte
}

// nestedObjectVerbs are the verbs whose object may itself be an activity.
var nestedObjectVerbs = map[string]bool{
	string(VerbUndo):   true,
	string(VerbAccept): true,
	string(VerbReject): true,
}

// ParseDelivery decomposes a raw activity document. For verbs that wrap
// another activity it unwraps one level of nesting; the nested activity's
// own object becomes the delivery's object reference.
func ParseDelivery(body []byte) (*Delivery, error) {
	var activity Activity
	if err := json.Unmarshal(body, &activity); err != nil {
		return nil, badActivity("unparseable activity: %v", err)
	}
	if activity.Type == "" || activity.Actor == "" {
		return nil, badActivity("activity is missing type or actor")
	}

	d := &Delivery{Activity: activity, RawBody: body}

	// Intransitive shapes with verbs this server does not dispatch are kept
	// parseable so they can be dropped downstream instead of rejected.
	if len(activity.Object) == 0 {
		if isActivityType(activity.Type) {
			return nil, badActivity("missing object")
		}
		return d, nil
	}

	ref, err := ParseObjectRef(activity.Object)
	if err != nil {
		return nil, err
	}

	if nestedObjectVerbs[activity.Type] && ref.Raw != nil {
		var nested Activity
		if err := json.Unmarshal(ref.Raw, &nested); err == nil && nested.Type != "" && isActivityType(nested.Type) {
			d.Nested = &nested
			inner, err := ParseObjectRef(nested.Object)
			if err != nil {
				// A nested activity without an object (e.g. a bare Follow
				// reference) keeps the nested activity itself as object.
				d.Object = ref
				return d, nil
			}
			d.Object = inner
			return d, nil
		}
	}

	d.Object = ref
	return d, nil
}

func isActivityType(t string) bool {
	switch Verb(t) {
	case VerbAdd, VerbCreate, VerbAnnounce, VerbLike, VerbFollow, VerbUndo, VerbAccept, VerbReject, VerbUpdate, VerbDelete:
		return true
	}
	return false
}

// TargetURI normalizes the activity target to a collection URI. The target
// arrives either as a direct link or as an abbreviated collection object
// carrying its own id; both forms reduce to the same URI.
func (d *Delivery) TargetURI() (string, error) {
	if len(d.Activity.Target) == 0 {
		return "", badActivity("target is required (either collection URI or abbreviated collection object)")
	}

	var uri string
	if err := json.Unmarshal(d.Activity.Target, &uri); err == nil && uri != "" {
		return uri, nil
	}

	var collection CollectionRef
	if err := json.Unmarshal(d.Activity.Target, &collection); err != nil || collection.ID == "" {
		return "", badActivity("target is neither a collection URI nor a collection object")
	}
	if collection.Type != "Collection" && collection.Type != "OrderedCollection" {
		return "", badActivity("target object %s is not a collection", collection.ID)
	}
	return collection.ID, nil
}

// NestedVerb returns the nested activity's verb, or "".
func (d *Delivery) NestedVerb() Verb {
	if d.Nested == nil {
		return ""
	}
	return Verb(d.Nested.Type)
}

// ObjectNote decodes the delivery's object as a Note. Fails when the object
// was a bare URI or is not a Note-like object.
func (d *Delivery) ObjectNote() (*Note, error) {
	if d.Object.Raw == nil {
		return nil, badActivity("object must be embedded, got bare URI %s", d.Object.URI)
	}
	var note Note
	if err := json.Unmarshal(d.Object.Raw, &note); err != nil {
		return nil, badActivity("unparseable object: %v", err)
	}
	if note.ID == "" {
		return nil, badActivity("object is missing id")
	}
	return &note, nil
}

// Mentions returns the hrefs of the note's Mention tags.
func (n *Note) Mentions() []string {
	var hrefs []string
	for _, tag := range n.Tag {
		if tag.Type == "Mention" && tag.Href != "" {
			hrefs = append(hrefs, tag.Href)
		}
	}
	return hrefs
}
