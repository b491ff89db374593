package service

import (
	"slices"

	"github.com/osrs-friend-monitor/friend-monitor-server/internal/domain/model"
)

// FriendsDiff compares a reported in-game list with the current validated list.
type FriendsDiff struct {
	// Added names are reported in game but have no validated entry yet.
	Added []string
	// Removed entries are validated but no longer reported.
	Removed []model.ValidatedFriend
	// Unchanged entries keep their hash and timestamp.
	Unchanged []model.ValidatedFriend
}

func (d FriendsDiff) Empty() bool { return len(d.Added) == 0 && len(d.Removed) == 0 }

// DiffFriends matches by display name. current may be nil.
func DiffFriends(inGame []string, current *model.ValidatedFriendsList) FriendsDiff {
	names := model.NormalizeFriendNames(inGame)

	var d FriendsDiff
	seen := make(map[string]struct{}, len(names))
	if current != nil {
		for _, f := range current.Friends {
			if _, ok := slices.BinarySearch(names, f.DisplayName); ok {
				d.Unchanged = append(d.Unchanged, f)
				seen[f.DisplayName] = struct{}{}
				continue
			}
			d.Removed = append(d.Removed, f)
		}
	}
	for _, n := range names {
		if _, ok := seen[n]; !ok {
			d.Added = append(d.Added, n)
		}
	}
	return d
}
