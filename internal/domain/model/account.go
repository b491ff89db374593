package model

import (
	"slices"
	"strconv"
	"time"
)

// AccountHash is the stable identity of a game account. Display names change, hashes do not.
type AccountHash int64

func (h AccountHash) String() string { return strconv.FormatInt(int64(h), 10) }

// ParseAccountHash parses the decimal form used in URLs and cache keys.
func ParseAccountHash(s string) (AccountHash, error) {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, err
	}
	return AccountHash(v), nil
}

// Version is the optimistic concurrency token of a durable record.
// A write carrying a nil *Version creates the record and fails if it already exists.
type Version int64

// RunescapeAccount links a game account to the user that registered it.
type RunescapeAccount struct {
	AccountHash  AccountHash `json:"accountHash"`
	UserID       string      `json:"userId"`
	DisplayName  string      `json:"displayName"`
	PreviousName string      `json:"previousName,omitempty"`
	Version      Version     `json:"version"`
}

// InGameFriendsList is the raw, one-sided list reported by a game client. Keyed by display name.
type InGameFriendsList struct {
	DisplayName        string      `json:"displayName"`
	AccountHash        AccountHash `json:"accountHash"`
	FriendDisplayNames []string    `json:"friendDisplayNames"`
	Version            Version     `json:"version"`
}

// Contains reports whether name is listed as a friend.
func (l *InGameFriendsList) Contains(name string) bool {
	if l == nil {
		return false
	}
	return slices.Contains(l.FriendDisplayNames, name)
}

// SameFriends reports whether both lists name the same set of friends, ignoring order and duplicates.
func (l *InGameFriendsList) SameFriends(names []string) bool {
	if l == nil {
		return false
	}
	a := normalizeNames(l.FriendDisplayNames)
	b := normalizeNames(names)
	return slices.Equal(a, b)
}

func normalizeNames(names []string) []string {
	out := slices.Clone(names)
	slices.Sort(out)
	return slices.Compact(out)
}

// NormalizeFriendNames returns a sorted copy of names with duplicates and empty names removed.
func NormalizeFriendNames(names []string) []string {
	out := normalizeNames(names)
	return slices.DeleteFunc(out, func(s string) bool { return s == "" })
}

// ValidatedFriend is one entry of the hash-based friend graph.
// AccountHash stays nil until mutuality has been confirmed.
type ValidatedFriend struct {
	DisplayName string       `json:"displayName"`
	AccountHash *AccountHash `json:"accountHash"`
	LastUpdated time.Time    `json:"lastUpdated"`
}

// Confirmed reports whether the friendship is mutual.
func (f ValidatedFriend) Confirmed() bool { return f.AccountHash != nil }

// ValidatedFriendsList is keyed by the owner's account hash.
type ValidatedFriendsList struct {
	AccountHash AccountHash       `json:"accountHash"`
	Friends     []ValidatedFriend `json:"friends"`
	Version     Version           `json:"version"`
}

// ConfirmedHashes returns the hashes of all mutual friends.
func (l *ValidatedFriendsList) ConfirmedHashes() []AccountHash {
	if l == nil {
		return nil
	}
	out := make([]AccountHash, 0, len(l.Friends))
	for _, f := range l.Friends {
		if f.AccountHash != nil {
			out = append(out, *f.AccountHash)
		}
	}
	return out
}

// Find returns the index of the entry with the given display name, or -1.
func (l *ValidatedFriendsList) Find(displayName string) int {
	if l == nil {
		return -1
	}
	return slices.IndexFunc(l.Friends, func(f ValidatedFriend) bool {
		return f.DisplayName == displayName
	})
}

// HashPtr returns a pointer to a copy of h.
func HashPtr(h AccountHash) *AccountHash { return &h }
