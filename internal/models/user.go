package models

import "time"

// Profile is the public part of a player, joined onto matches and rankings.
type Profile struct {
	ID         string `json:"id,omitempty"`
	Username   string `json:"username"`
	Reputation int    `json:"reputation,omitempty"`
	AvatarURL  string `json:"avatar_url,omitempty"`
	Bio        string `json:"bio,omitempty"`
}

// User is the identity carried by an auth session.
type User struct {
	ID           string                 `json:"id"`
	Email        string                 `json:"email"`
	Role         string                 `json:"role,omitempty"`
	UserMetadata map[string]interface{} `json:"user_metadata,omitempty"`
	AppMetadata  map[string]interface{} `json:"app_metadata,omitempty"`
	CreatedAt    *time.Time             `json:"created_at,omitempty"`
}

// MetaString returns a string entry of the user metadata, or "".
func (u *User) MetaString(key string) string {
	if u == nil || u.UserMetadata == nil {
		return ""
	}
	s, _ := u.UserMetadata[key].(string)
	return s
}

func (u *User) Username() string  { return u.MetaString("username") }
func (u *User) AvatarURL() string { return u.MetaString("avatar_url") }
