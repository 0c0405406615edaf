package engine

import "encoding/json"

// PlayerID is the colour the rules engine uses to identify a seat.
type PlayerID string

const (
	Red    PlayerID = "RED"
	Blue   PlayerID = "BLUE"
	White  PlayerID = "WHITE"
	Orange PlayerID = "ORANGE"
)

// Colors in seating order.
var Colors = []PlayerID{Red, Blue, White, Orange}

type ActionKind string

const (
	Roll             ActionKind = "ROLL"
	EndTurn          ActionKind = "END_TURN"
	BuildSettlement  ActionKind = "BUILD_SETTLEMENT"
	BuildCity        ActionKind = "BUILD_CITY"
	BuildRoad        ActionKind = "BUILD_ROAD"
	BuyDevCard       ActionKind = "BUY_DEVELOPMENT_CARD"
	PlayKnight       ActionKind = "PLAY_KNIGHT_CARD"
	PlayYearOfPlenty ActionKind = "PLAY_YEAR_OF_PLENTY"
	PlayMonopoly     ActionKind = "PLAY_MONOPOLY"
	PlayRoadBuilding ActionKind = "PLAY_ROAD_BUILDING"
	MaritimeTrade    ActionKind = "MARITIME_TRADE"
	OfferTrade       ActionKind = "OFFER_TRADE"
	AcceptTrade      ActionKind = "ACCEPT_TRADE"
	RejectTrade      ActionKind = "REJECT_TRADE"
	ConfirmTrade     ActionKind = "CONFIRM_TRADE"
	CancelTrade      ActionKind = "CANCEL_TRADE"
	MoveRobber       ActionKind = "MOVE_ROBBER"
	Discard          ActionKind = "DISCARD"
)

// Action is one legal move as presented by the engine. Value is kept raw so the
// engine stays authoritative over its own parameter encoding.
type Action struct {
	Player PlayerID        `json:"color"`
	Kind   ActionKind      `json:"action_type"`
	Value  json.RawMessage `json:"value,omitempty"`
}

// Resources in the engine's canonical order.
var Resources = []string{"WOOD", "BRICK", "SHEEP", "WHEAT", "ORE"}

// DevCards in the engine's canonical order.
var DevCards = []string{"KNIGHT", "YEAR_OF_PLENTY", "MONOPOLY", "ROAD_BUILDING", "VICTORY_POINT"}
