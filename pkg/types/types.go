package types

import "time"

// Variable is one entry of a kernel namespace listing.
type Variable struct {
	Name  string `json:"name"`
	Type  string `json:"type"`
	Value string `json:"value"`
	// Shape is a size hint such as "3x3" for arrays or "3" for containers.
	Shape string `json:"shape,omitempty"`
}

// Snapshot is a complete picture of a kernel namespace. A newer snapshot
// always replaces an older one; they are never merged.
type Snapshot struct {
	Seq       uint64              `json:"seq"`
	KernelID  string              `json:"kernel_id"`
	TakenAt   time.Time           `json:"taken_at"`
	Variables map[string]Variable `json:"variables"`
}

// Len returns the number of variables in the snapshot.
func (s Snapshot) Len() int { return len(s.Variables) }
