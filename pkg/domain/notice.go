package domain

import (
	"sort"
	"time"
)

// ChangeNotice announces a commit to other processes sharing the same
// durable store. It names the touched collections, not the records.
type ChangeNotice struct {
	Origin      string       `json:"origin"`
	Collections []EntityType `json:"collections"`
	At          time.Time    `json:"at"`
}

// NoticeFor summarizes changes committed by origin.
func NoticeFor(origin string, changes []Change, at time.Time) ChangeNotice {
	seen := make(map[EntityType]struct{}, len(changes))
	collections := make([]EntityType, 0, len(changes))
	for _, c := range changes {
		if _, ok := seen[c.Entity]; ok {
			continue
		}
		seen[c.Entity] = struct{}{}
		collections = append(collections, c.Entity)
	}
	sort.Slice(collections, func(i, j int) bool { return collections[i] < collections[j] })
	return ChangeNotice{Origin: origin, Collections: collections, At: at.UTC()}
}
