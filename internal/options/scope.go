package options

import "fmt"

// Scope is a level in the option inheritance hierarchy.
type Scope uint8

const (
	ScopeGlobal Scope = iota
	ScopeUser
	ScopeFolder
	ScopeSubscription
)

func (s Scope) String() string {
	switch s {
	case ScopeGlobal:
		return "global"
	case ScopeUser:
		return "user"
	case ScopeFolder:
		return "folder"
	case ScopeSubscription:
		return "subscription"
	default:
		return fmt.Sprintf("scope(%d)", uint8(s))
	}
}

// ScopeKey identifies one option slot. Only the id field matching Scope is
// meaningful; the others stay zero so the struct compares structurally.
type ScopeKey struct {
	Scope          Scope
	UserID         string
	FolderID       int64
	SubscriptionID int64
	Key            string
}

func GlobalKey(key string) ScopeKey {
	return ScopeKey{Scope: ScopeGlobal, Key: key}
}

func UserKey(userID, key string) ScopeKey {
	return ScopeKey{Scope: ScopeUser, UserID: userID, Key: key}
}

func FolderKey(folderID int64, key string) ScopeKey {
	return ScopeKey{Scope: ScopeFolder, FolderID: folderID, Key: key}
}

func SubscriptionKey(subscriptionID int64, key string) ScopeKey {
	return ScopeKey{Scope: ScopeSubscription, SubscriptionID: subscriptionID, Key: key}
}

// withKey returns a copy of k pointing at another option.
func (k ScopeKey) withKey(key string) ScopeKey {
	k.Key = key
	return k
}

func (k ScopeKey) String() string {
	switch k.Scope {
	case ScopeUser:
		return fmt.Sprintf("user[%s]/%s", k.UserID, k.Key)
	case ScopeFolder:
		return fmt.Sprintf("folder[%d]/%s", k.FolderID, k.Key)
	case ScopeSubscription:
		return fmt.Sprintf("subscription[%d]/%s", k.SubscriptionID, k.Key)
	default:
		return "global/" + k.Key
	}
}
