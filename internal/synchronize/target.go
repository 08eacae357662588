package synchronize

import "strconv"

type targetKind int

const (
	targetAll targetKind = iota
	targetSubscription
	targetFolder
)

// Target selects the subscriptions a run covers.
type Target struct {
	kind targetKind
	id   int64
}

// AllTarget covers every subscription.
func AllTarget() Target { return Target{kind: targetAll} }

// SubscriptionTarget covers one subscription.
func SubscriptionTarget(id int64) Target { return Target{kind: targetSubscription, id: id} }

// FolderTarget covers every subscription in a folder and its subfolders.
func FolderTarget(id int64) Target { return Target{kind: targetFolder, id: id} }

// Kind returns "all", "subscription" or "folder".
func (t Target) Kind() string {
	switch t.kind {
	case targetSubscription:
		return "subscription"
	case targetFolder:
		return "folder"
	default:
		return "all"
	}
}

// ID returns the subscription or folder id; zero for all.
func (t Target) ID() int64 { return t.id }

func (t Target) String() string {
	if t.kind == targetAll {
		return "all"
	}
	return t.Kind() + ":" + strconv.FormatInt(t.id, 10)
}
