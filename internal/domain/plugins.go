package domain

// PluginInfo describes one format plugin known to the engine.
type PluginInfo struct {
	Identifier string   `json:"identifier"`
	Name       string   `json:"name"`
	Version    string   `json:"version"`
	Suffix     string   `json:"suffix"`
	Website    string   `json:"website,omitempty"`
	IconBase64 string   `json:"iconBase64,omitempty"`
	Categories []string `json:"categories"`
}
