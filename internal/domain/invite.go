package domain

import (
	"errors"
	"net/url"
	"strings"
)

var ErrInviteNoRoom = errors.New("invite has no room")

// Invite is the shareable URL-fragment form of a room: who to meet and how.
type Invite struct {
	RoomID    string
	Secret    string
	Name      string
	CreatorID string
}

// ParseInvite decodes a "#room=...&pass=...&name=...&creator=..." fragment.
// The leading '#' is optional.
func ParseInvite(fragment string) (Invite, error) {
	raw := strings.TrimPrefix(fragment, "#")
	vals, err := url.ParseQuery(raw)
	if err != nil {
		return Invite{}, err
	}
	inv := Invite{
		RoomID:    vals.Get("room"),
		Secret:    vals.Get("pass"),
		Name:      vals.Get("name"),
		CreatorID: vals.Get("creator"),
	}
	if inv.RoomID == "" {
		return Invite{}, ErrInviteNoRoom
	}
	return inv, nil
}

// Fragment encodes the invite back into its fragment form.
func (i Invite) Fragment() string {
	vals := url.Values{}
	vals.Set("room", i.RoomID)
	if i.Secret != "" {
		vals.Set("pass", i.Secret)
	}
	if i.Name != "" {
		vals.Set("name", i.Name)
	}
	if i.CreatorID != "" {
		vals.Set("creator", i.CreatorID)
	}
	return "#" + vals.Encode()
}
