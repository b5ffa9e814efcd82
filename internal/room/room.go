// Package room manages persisted room metadata and membership. All
// lifecycle mutations for one room are written as a single atomic batch
// against the keyed store; readers never observe a half-applied join or
// leave.
package room

import (
	"encoding/json"
	"fmt"
	"strconv"
)

type Visibility string

const (
	VisibilityPublic  Visibility = "PUBLIC"
	VisibilityPrivate Visibility = "PRIVATE"
)

type Status string

const (
	StatusWaiting Status = "WAITING"
	StatusPlaying Status = "PLAYING"
	StatusEnded   Status = "ENDED"
)

// Room is the persisted, shared room record. CurrentPlayers always equals
// len(Players); exactly one player is host while the room is non-empty.
type Room struct {
	RoomID         string
	AppID          string
	Name           string
	GameMode       string
	MaxPlayers     int
	CurrentPlayers int
	Visibility     Visibility
	// Status is WAITING at creation. Transitions to PLAYING/ENDED are
	// application-driven; this layer preserves whatever value it is given.
	Status     Status
	CreatedAt  int64
	UpdatedAt  int64
	CustomData map[string]any
	Players    map[int]*Player
}

// Player is one room member. IDs start at 1, are assigned as
// currentPlayers+1 at join time, and are never compacted, so gaps appear
// after departures.
type Player struct {
	PlayerID    int            `json:"playerId"`
	OpenID      string         `json:"openId"`
	DisplayName string         `json:"displayName"`
	IsHost      bool           `json:"isHost"`
	JoinedAt    int64          `json:"joinedAt"`
	Metadata    map[string]any `json:"metadata"`
}

const playerFieldPrefix = "player_"

func metadataFields(r *Room) (map[string]string, error) {
	customData, err := json.Marshal(r.CustomData)
	if err != nil {
		return nil, fmt.Errorf("encode custom data: %w", err)
	}
	return map[string]string{
		"name":           r.Name,
		"gameMode":       r.GameMode,
		"maxPlayers":     strconv.Itoa(r.MaxPlayers),
		"currentPlayers": strconv.Itoa(r.CurrentPlayers),
		"visibility":     string(r.Visibility),
		"status":         string(r.Status),
		"createdAt":      strconv.FormatInt(r.CreatedAt, 10),
		"updatedAt":      strconv.FormatInt(r.UpdatedAt, 10),
		"customData":     string(customData),
	}, nil
}

func parseMetadata(appID, roomID string, fields map[string]string) (*Room, error) {
	maxPlayers, err := strconv.Atoi(fields["maxPlayers"])
	if err != nil {
		return nil, fmt.Errorf("parse maxPlayers: %w", err)
	}
	currentPlayers, err := strconv.Atoi(fields["currentPlayers"])
	if err != nil {
		return nil, fmt.Errorf("parse currentPlayers: %w", err)
	}
	createdAt, _ := strconv.ParseInt(fields["createdAt"], 10, 64)
	updatedAt, _ := strconv.ParseInt(fields["updatedAt"], 10, 64)

	customData := make(map[string]any)
	if raw := fields["customData"]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &customData); err != nil {
			return nil, fmt.Errorf("decode custom data: %w", err)
		}
	}

	return &Room{
		RoomID:         roomID,
		AppID:          appID,
		Name:           fields["name"],
		GameMode:       fields["gameMode"],
		MaxPlayers:     maxPlayers,
		CurrentPlayers: currentPlayers,
		Visibility:     Visibility(fields["visibility"]),
		Status:         Status(fields["status"]),
		CreatedAt:      createdAt,
		UpdatedAt:      updatedAt,
		CustomData:     customData,
		Players:        make(map[int]*Player),
	}, nil
}

func playerFields(players map[int]*Player) (map[string]string, error) {
	fields := make(map[string]string, len(players))
	for id, player := range players {
		encoded, err := json.Marshal(player)
		if err != nil {
			return nil, fmt.Errorf("encode player %d: %w", id, err)
		}
		fields[playerFieldPrefix+strconv.Itoa(id)] = string(encoded)
	}
	return fields, nil
}

func parsePlayers(fields map[string]string) (map[int]*Player, error) {
	players := make(map[int]*Player, len(fields))
	for key, raw := range fields {
		if len(key) < len(playerFieldPrefix) || key[:len(playerFieldPrefix)] != playerFieldPrefix {
			continue
		}
		var player Player
		if err := json.Unmarshal([]byte(raw), &player); err != nil {
			return nil, fmt.Errorf("decode player field %s: %w", key, err)
		}
		players[player.PlayerID] = &player
	}
	return players, nil
}
