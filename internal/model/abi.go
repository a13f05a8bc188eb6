package model

import "time"

// CachedABI is an explorer ABI kept in the store to avoid repeat lookups.
type CachedABI struct {
	ChainID      int64     `json:"chain_id"`
	Address      string    `json:"address"`
	ContractName string    `json:"contract_name,omitempty"`
	ABI          string    `json:"abi"`
	Source       string    `json:"source"`
	FetchedAt    time.Time `json:"fetched_at"`
}

// Expired reports whether the entry is older than ttl. A non-positive ttl
// never expires.
func (c *CachedABI) Expired(now time.Time, ttl time.Duration) bool {
	return ttl > 0 && now.Sub(c.FetchedAt) > ttl
}

// AbiPayload summarizes a resolved ABI for trace output.
type AbiPayload struct {
	Source       string   `json:"source"`
	ContractName string   `json:"contract_name,omitempty"`
	Methods      int      `json:"methods"`
	Signatures   []string `json:"signatures,omitempty"`
}

func (AbiPayload) payloadKind() string { return "abi" }
