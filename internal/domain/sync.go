package domain

import "time"

// ContainerRecord tracks the last fully processed pass over a container
// (folder-like node) of the source tree. The timestamp only advances once
// every item discovered under the container in a pass has been durably
// persisted, so a stale timestamp always means "re-scan".
type ContainerRecord struct {
	ContainerID          string
	DisplayName          string
	LastFullyProcessedAt time.Time
}
