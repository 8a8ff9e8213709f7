package audit

type Entry struct {
	ID     int64  `json:"id"`
	At     int64  `json:"at"` // epoch millis
	Actor  string `json:"actor"`
	Action string `json:"action"`
	Detail string `json:"detail"`
}
