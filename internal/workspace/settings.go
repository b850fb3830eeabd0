package workspace

import (
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// SettingsPayload builds the pgt/update_settings parameters around a raw
// worker configuration document. An empty config sends an empty object.
func SettingsPayload(config json.RawMessage, workspaceDir string, skipDB bool) (json.RawMessage, error) {
	if len(config) == 0 {
		config = json.RawMessage("{}")
	}
	if !gjson.ValidBytes(config) {
		return nil, fmt.Errorf("settings payload: configuration is not valid JSON")
	}

	out := []byte(`{"gitignore_matches":[]}`)
	out, err := sjson.SetRawBytes(out, "configuration", config)
	if err != nil {
		return nil, fmt.Errorf("settings payload: %w", err)
	}
	if out, err = sjson.SetBytes(out, "skip_db", skipDB); err != nil {
		return nil, fmt.Errorf("settings payload: %w", err)
	}
	if workspaceDir != "" {
		if out, err = sjson.SetBytes(out, "workspace_directory", workspaceDir); err != nil {
			return nil, fmt.Errorf("settings payload: %w", err)
		}
	}
	return out, nil
}
