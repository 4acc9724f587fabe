// Package matchmaking turns queued match requests into playable groups and
// drives room creation on a periodic tick.
package matchmaking

import (
	"sort"
	"time"
)

// RegionAny is the grouping key used when a request carries no region
// preference.
const RegionAny = "any"

// Preferences are the client-supplied matchmaking constraints.
type Preferences struct {
	// GameMode is required.
	GameMode string `json:"gameMode"`
	// Region is optional; empty means any region.
	Region string `json:"region,omitempty"`
	// MinPlayers is resolved server-side from the mode catalog; zero means
	// the configured default.
	MinPlayers int `json:"minPlayers,omitempty"`
	// MaxPlayers is optional; zero means the configured default.
	MaxPlayers int `json:"maxPlayers,omitempty"`
	// SkillLevel is optional and currently advisory only.
	SkillLevel int `json:"skillLevel,omitempty"`
}

// Request is one queued matchmaking attempt.
type Request struct {
	// ID uniquely identifies the request.
	ID string
	// PlayerID is the requesting player identity.
	PlayerID string
	// ConnID is the requesting connection. At most one active request per
	// connection exists at a time.
	ConnID string
	// Prefs are the matchmaking constraints.
	Prefs Preferences
	// EnqueuedAt orders requests within a group (oldest first).
	EnqueuedAt time.Time
}

// GroupKey returns the partition key for this request.
func (r Request) GroupKey() string {
	region := r.Prefs.Region
	if region == "" {
		region = RegionAny
	}
	return r.Prefs.GameMode + "/" + region
}

// Group is one match result: a set of requests that will share a room.
type Group struct {
	// GameMode is the shared mode of every member.
	GameMode string
	// Region is the shared region key (RegionAny when unconstrained).
	Region string
	// Requests are the matched members, oldest first.
	Requests []Request
}

// Partition groups the pending requests into playable matches.
//
// Requests are grouped by (game mode, region-or-any). Each bucket matches
// against the mode's own player floor when the requests carry one, falling
// back to minPlayers otherwise. Within each group the oldest requests are
// matched first; each taken prefix has size
// max(floor, min(first.MaxPlayers, remaining)). No group smaller than its
// floor is ever produced; leftovers remain queued.
//
// Partition is pure and deterministic for a fixed input, which keeps it safe
// to run in an offload worker.
//
// Precondition: minPlayers must be >= 2.
// Postcondition: Every returned group meets its bucket's floor and has a
// single (mode, region) key; no request appears in more than one group.
func Partition(requests []Request, minPlayers int) []Group {
	buckets := make(map[string][]Request)
	var keyOrder []string
	for _, req := range requests {
		key := req.GroupKey()
		if _, seen := buckets[key]; !seen {
			keyOrder = append(keyOrder, key)
		}
		buckets[key] = append(buckets[key], req)
	}

	var groups []Group
	for _, key := range keyOrder {
		bucket := buckets[key]
		sort.SliceStable(bucket, func(i, j int) bool {
			return bucket[i].EnqueuedAt.Before(bucket[j].EnqueuedAt)
		})

		floor := groupFloor(bucket, minPlayers)
		for len(bucket) >= floor {
			size := effectiveSize(bucket, floor)
			taken := bucket[:size]
			bucket = bucket[size:]

			first := taken[0]
			region := first.Prefs.Region
			if region == "" {
				region = RegionAny
			}
			groups = append(groups, Group{
				GameMode: first.Prefs.GameMode,
				Region:   region,
				Requests: append([]Request(nil), taken...),
			})
		}
	}
	return groups
}

// groupFloor picks the minimum match size for a bucket. Every member of a
// bucket shares a game mode, so the first request's resolved MinPlayers
// speaks for the whole bucket; zero falls back to the server default.
func groupFloor(bucket []Request, fallback int) int {
	if m := bucket[0].Prefs.MinPlayers; m >= 2 {
		return m
	}
	return fallback
}

// effectiveSize computes the next match size for a sorted bucket.
func effectiveSize(bucket []Request, minPlayers int) int {
	max := bucket[0].Prefs.MaxPlayers
	if max <= 0 {
		max = minPlayers
	}
	size := max
	if len(bucket) < size {
		size = len(bucket)
	}
	if size < minPlayers {
		size = minPlayers
	}
	return size
}
