package domain

// BlockInfo is the subset of an Arweave block header the discovery engine
// cares about: its height and wall-clock timestamp.
type BlockInfo struct {
	Height    int64 `json:"height"`
	Timestamp int64 `json:"timestamp"` // seconds since epoch
}
