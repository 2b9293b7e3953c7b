package protocol

// HELLO (client -> server)
type HelloMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	PlayerID        string `json:"player_id"`
}

// WELCOME (server -> client)
type WelcomeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	PlayerID        string `json:"player_id"`
	SessionID       string `json:"session_id"`
}

// SAVE_SHIP (client -> server): serialize a live grid owned by the caller.
type SaveShipMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	RequestID       string `json:"request_id,omitempty"`
	GridID          string `json:"grid_id"`
	ShipName        string `json:"ship_name"`
	Archive         bool   `json:"archive,omitempty"`
}

// SHIP_SAVED (server -> client)
type ShipSavedMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	RequestID       string `json:"request_id,omitempty"`
	Checksum        string `json:"checksum"`
	Document        string `json:"document"`
	ArchivePath     string `json:"archive_path,omitempty"`
}

// LOAD_SHIP (client -> server)
type LoadShipMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	RequestID       string `json:"request_id,omitempty"`
	Document        string `json:"document"`
}

// SHIP_LOADED (server -> client)
type ShipLoadedMsg struct {
	Type            string   `json:"type"`
	ProtocolVersion string   `json:"protocol_version"`
	RequestID       string   `json:"request_id,omitempty"`
	GridID          string   `json:"grid_id"`
	SplitGrids      []string `json:"split_grids,omitempty"`
	Migrated        bool     `json:"migrated"`
	Spawned         int      `json:"spawned"`
	Dropped         int      `json:"dropped"`
}

// ERROR (server -> client)
type ErrorMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	RequestID       string `json:"request_id,omitempty"`
	Code            string `json:"code"`
	Message         string `json:"message"`
}
