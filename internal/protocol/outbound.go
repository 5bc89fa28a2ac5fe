package protocol

import "github.com/pion/webrtc/v4"

// Outbound frames. Each constructor stamps the action tag so callers can hand
// the struct straight to a JSON encoder.

type Pong struct {
	Action string `json:"action"`
}

func NewPong() Pong { return Pong{Action: ActionPong} }

type Offer struct {
	Action string                    `json:"action"`
	SDP    webrtc.SessionDescription `json:"sdp"`
}

func NewOffer(sdp webrtc.SessionDescription) Offer {
	return Offer{Action: ActionOffer, SDP: sdp}
}

type Answer struct {
	Action string                    `json:"action"`
	SDP    webrtc.SessionDescription `json:"sdp"`
}

func NewAnswer(sdp webrtc.SessionDescription) Answer {
	return Answer{Action: ActionAnswer, SDP: sdp}
}

type PublisherIce struct {
	Action    string                  `json:"action"`
	Candidate webrtc.ICECandidateInit `json:"candidate"`
}

func NewPublisherIce(c webrtc.ICECandidateInit) PublisherIce {
	return PublisherIce{Action: ActionPublisherIce, Candidate: c}
}

type SubscriberIce struct {
	Action    string                  `json:"action"`
	Candidate webrtc.ICECandidateInit `json:"candidate"`
}

func NewSubscriberIce(c webrtc.ICECandidateInit) SubscriberIce {
	return SubscriberIce{Action: ActionSubscriberIce, Candidate: c}
}

// Published announces one player's tracks to a client, either on publish
// completion or as part of the subscriberInit catch-up.
type Published struct {
	Action       string   `json:"action"`
	PublisherIDs []string `json:"publisherIds"`
	PlayerID     string   `json:"playerId"`
}

func NewPublished(publisherIDs []string, playerID string) Published {
	return Published{Action: ActionPublished, PublisherIDs: publisherIDs, PlayerID: playerID}
}

type Subscribed struct {
	Action       string `json:"action"`
	SubscriberID string `json:"subscriberId"`
}

func NewSubscribed(subscriberID string) Subscribed {
	return Subscribed{Action: ActionSubscribed, SubscriberID: subscriberID}
}

type SubscribeFailed struct {
	Action      string `json:"action"`
	PublisherID string `json:"publisherId"`
	Error       string `json:"error"`
}

func NewSubscribeFailed(publisherID, errMsg string) SubscribeFailed {
	return SubscribeFailed{Action: ActionSubscribeFailed, PublisherID: publisherID, Error: errMsg}
}

type Unpublished struct {
	Action      string `json:"action"`
	PublisherID string `json:"publisherId"`
}

func NewUnpublished(publisherID string) Unpublished {
	return Unpublished{Action: ActionUnpublished, PublisherID: publisherID}
}

type ChatMessage struct {
	Action  string `json:"action"`
	Sender  string `json:"sender"`
	Message string `json:"message"`
}

func NewChatMessage(sender, message string) ChatMessage {
	return ChatMessage{Action: ActionChatMessage, Sender: sender, Message: message}
}

// RoomState is the first frame a client receives after joining.
type RoomState struct {
	Action       string       `json:"action"`
	YourPlayerID string       `json:"yourPlayerId"`
	Players      []PlayerData `json:"players"`
	RoomTheme    string       `json:"roomTheme"`
	IceServers   []IceServer  `json:"iceServers"`
}

func NewRoomState(yourPlayerID string, players []PlayerData, theme string, ice []IceServer) RoomState {
	return RoomState{
		Action:       ActionRoomState,
		YourPlayerID: yourPlayerID,
		Players:      players,
		RoomTheme:    theme,
		IceServers:   ice,
	}
}

type PlayerJoined struct {
	Action string     `json:"action"`
	Player PlayerData `json:"player"`
}

func NewPlayerJoined(player PlayerData) PlayerJoined {
	return PlayerJoined{Action: ActionPlayerJoined, Player: player}
}

type PlayerLeft struct {
	Action   string `json:"action"`
	PlayerID string `json:"playerId"`
}

func NewPlayerLeft(playerID string) PlayerLeft {
	return PlayerLeft{Action: ActionPlayerLeft, PlayerID: playerID}
}

type PlayerMoved struct {
	Action   string   `json:"action"`
	PlayerID string   `json:"playerId"`
	Position Position `json:"position"`
	Rotation float32  `json:"rotation"`
	IsMoving bool     `json:"isMoving"`
}

func NewPlayerMoved(playerID string, pos Position, rotation float32, isMoving bool) PlayerMoved {
	return PlayerMoved{Action: ActionPlayerMoved, PlayerID: playerID, Position: pos, Rotation: rotation, IsMoving: isMoving}
}

type PlayerAnimation struct {
	Action    string `json:"action"`
	PlayerID  string `json:"playerId"`
	Animation string `json:"animation"`
}

func NewPlayerAnimation(playerID, animation string) PlayerAnimation {
	return PlayerAnimation{Action: ActionPlayerAnimation, PlayerID: playerID, Animation: animation}
}
