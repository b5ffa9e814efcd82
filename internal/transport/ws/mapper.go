package ws

import (
	"sort"

	"github.com/realsync/gateway/internal/proto"
	"github.com/realsync/gateway/internal/room"
)

func mapRoom(r *room.Room) *proto.Room {
	return &proto.Room{
		RoomID:         r.RoomID,
		Name:           r.Name,
		GameMode:       r.GameMode,
		MaxPlayers:     r.MaxPlayers,
		CurrentPlayers: r.CurrentPlayers,
		Visibility:     string(r.Visibility),
		Status:         string(r.Status),
		CreatedAt:      r.CreatedAt,
		CustomData:     r.CustomData,
	}
}

func mapPlayer(p *room.Player) *proto.Player {
	if p == nil {
		return nil
	}
	return &proto.Player{
		PlayerID:    p.PlayerID,
		OpenID:      p.OpenID,
		DisplayName: p.DisplayName,
		IsHost:      p.IsHost,
		JoinedAt:    p.JoinedAt,
		Metadata:    p.Metadata,
	}
}

func mapPlayers(players map[int]*room.Player) []*proto.Player {
	ids := make([]int, 0, len(players))
	for id := range players {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	out := make([]*proto.Player, 0, len(ids))
	for _, id := range ids {
		out = append(out, mapPlayer(players[id]))
	}
	return out
}
