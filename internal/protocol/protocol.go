// Package protocol defines the JSON wire frames exchanged with clients over
// the /stream websocket. Every frame is an object tagged by an "action" field
// with camelCase payload keys. SDP and ICE candidate payloads are carried
// verbatim; the server never inspects them.
package protocol

import (
	"encoding/json"
	"errors"

	"github.com/pion/webrtc/v4"
)

// ErrMissingAction is returned for frames without an action discriminator.
var ErrMissingAction = errors.New("protocol: frame has no action")

// Inbound actions (client -> server).
const (
	ActionPing           = "ping"
	ActionPublisherInit  = "publisherInit"
	ActionSubscriberInit = "subscriberInit"
	ActionPublisherIce   = "publisherIce"
	ActionSubscriberIce  = "subscriberIce"
	ActionOffer          = "offer"
	ActionAnswer         = "answer"
	ActionPublish        = "publish"
	ActionSubscribe      = "subscribe"
	ActionStopPublish    = "stopPublish"
	ActionStopSubscribe  = "stopSubscribe"
	ActionChatMessage    = "chatMessage"
	ActionPlayerMove     = "playerMove"
	ActionPlayAnimation  = "playAnimation"
)

// Outbound actions (server -> client).
const (
	ActionPong            = "pong"
	ActionPublished       = "published"
	ActionSubscribed      = "subscribed"
	ActionSubscribeFailed = "subscribeFailed"
	ActionUnpublished     = "unpublished"
	ActionRoomState       = "roomState"
	ActionPlayerJoined    = "playerJoined"
	ActionPlayerLeft      = "playerLeft"
	ActionPlayerMoved     = "playerMoved"
	ActionPlayerAnimation = "playerAnimation"
)

// Position is a location in the 3D world.
type Position struct {
	X float32 `json:"x"`
	Y float32 `json:"y"`
	Z float32 `json:"z"`
}

// FacialFeatures is an opaque avatar customization bundle. The server passes
// it through unchanged.
type FacialFeatures struct {
	EyeStyle      string `json:"eyeStyle"`
	NoseStyle     string `json:"noseStyle"`
	MouthStyle    string `json:"mouthStyle"`
	CharacterType string `json:"characterType"`
}

// PlayerData is the full public state of a player in a room.
type PlayerData struct {
	ID             string         `json:"id"`
	Name           string         `json:"name"`
	Color          string         `json:"color"`
	Activity       string         `json:"activity"`
	FacialFeatures FacialFeatures `json:"facialFeatures"`
	Position       Position       `json:"position"`
	Rotation       float32        `json:"rotation"`
	IsMoving       bool           `json:"isMoving"`
}

// IceServer is the client-facing form of an ICE server group. Credentials are
// omitted for STUN-only groups.
type IceServer struct {
	URLs       []string `json:"urls"`
	Username   string   `json:"username,omitempty"`
	Credential string   `json:"credential,omitempty"`
}

// ClientFrame is the union of all inbound frames. Only the fields relevant to
// the given Action are populated.
type ClientFrame struct {
	Action       string                     `json:"action"`
	Candidate    *webrtc.ICECandidateInit   `json:"candidate,omitempty"`
	SDP          *webrtc.SessionDescription `json:"sdp,omitempty"`
	PublisherID  string                     `json:"publisherId,omitempty"`
	SubscriberID string                     `json:"subscriberId,omitempty"`
	Message      string                     `json:"message,omitempty"`
	Position     Position                   `json:"position"`
	Rotation     float32                    `json:"rotation,omitempty"`
	IsMoving     bool                       `json:"isMoving,omitempty"`
	Animation    string                     `json:"animation,omitempty"`
}

// DecodeClientFrame parses an inbound text frame. Frames without an action
// are rejected; unknown actions are left to the caller to drop.
func DecodeClientFrame(data []byte) (*ClientFrame, error) {
	var f ClientFrame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	if f.Action == "" {
		return nil, ErrMissingAction
	}
	return &f, nil
}
