package kv

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// Key layout. Every key carries an app:{appId}: prefix for tenant
// isolation, and every per-room key embeds the {appId:roomId} hash tag so
// a partitioned store keeps one room's keys together and can mutate them
// in a single atomic batch.

func RoomMetadataKey(appID, roomID string) string {
	return fmt.Sprintf("app:%s:room:metadata:{%s:%s}", appID, appID, roomID)
}

func RoomPlayersKey(appID, roomID string) string {
	return fmt.Sprintf("app:%s:room:members:{%s:%s}", appID, appID, roomID)
}

func RoomIndexKey(appID string) string {
	return fmt.Sprintf("app:%s:rooms:index", appID)
}

func PlayerRoomKey(appID, openID string) string {
	return fmt.Sprintf("app:%s:player:%s:room", appID, openID)
}

func GameStateKey(appID, roomID string) string {
	return fmt.Sprintf("app:%s:game:state:{%s:%s}", appID, appID, roomID)
}

func StateChannelKey(appID, roomID string) string {
	return fmt.Sprintf("app:%s:game:events:{%s:%s}", appID, appID, roomID)
}

func PlayerIDsKey(appID, roomID string) string {
	return fmt.Sprintf("app:%s:game:player_ids:{%s:%s}", appID, appID, roomID)
}

// NewRoomID generates a room identifier. The timestamp prefix keeps IDs
// roughly sortable when eyeballing the store.
func NewRoomID() string {
	buf := make([]byte, 3)
	_, _ = rand.Read(buf)
	return fmt.Sprintf("room_%d_%s", time.Now().UnixMilli(), hex.EncodeToString(buf))
}
