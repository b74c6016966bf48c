package export

import (
	"encoding/json"

	"github.com/lotas/unicart/internal/types"
)

// JSON formats a snapshot as a 2-space indented document.
func JSON(snap types.Snapshot) (string, error) {
	if snap.Items == nil {
		snap.Items = []types.Item{}
	}
	b, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return "", err
	}
	return string(b) + "\n", nil
}
