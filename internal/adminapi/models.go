package adminapi

// StatusResponse is the plain liveness-check response shape.
type StatusResponse struct {
	Status string `json:"status"`
}

// CountersResponse is the wire shape of status.CountersSnapshot.
type CountersResponse struct {
	JoinsAttempted   uint64 `json:"joins_attempted"`
	JoinsSucceeded   uint64 `json:"joins_succeeded"`
	JoinsAborted     uint64 `json:"joins_aborted"`
	Leaves           uint64 `json:"leaves"`
	Finds            uint64 `json:"finds"`
	SequenceTimeouts uint64 `json:"sequence_timeouts"`
	RegsServed       uint64 `json:"regs_served"`
	UnrsServed       uint64 `json:"unrs_served"`
	QrysServed       uint64 `json:"qrys_served"`
}

// StatsResponse is the read-only view of the node's full
// status.Snapshot, rendered by GET /api/v1/status.
type StatsResponse struct {
	Uptime        string           `json:"uptime"`
	UptimeSeconds int64            `json:"uptime_seconds"`
	NumCPU        int              `json:"num_cpu"`
	CPUPercent    float64          `json:"cpu_percent"`
	MemUsedMB     float64          `json:"mem_used_mb"`
	MemTotalMB    float64          `json:"mem_total_mb"`
	MemPercent    float64          `json:"mem_percent"`
	Counters      CountersResponse `json:"counters"`
	JoinStatus    string           `json:"join_status"`
	FindStatus    string           `json:"find_status"`
	NameServer    string           `json:"name_server,omitempty"`
	RosterSize    int              `json:"roster_size"`
}

// RosterContactResponse is one entry of GET /api/v1/roster.
type RosterContactResponse struct {
	Name     string `json:"name"`
	IP       string `json:"ip"`
	TalkPort uint16 `json:"talk_port"`
	DNSPort  uint16 `json:"dns_port"`
}

// RosterResponse wraps the roster list with the node's own identity, the
// way a family member browsing the admin API would want it framed.
type RosterResponse struct {
	Self     string                  `json:"self"`
	Contacts []RosterContactResponse `json:"contacts"`
}
