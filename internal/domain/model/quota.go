package model

// Quota — квота хранения пользователя.
// Limit берётся из роли, если нет персонального переопределения.
type Quota struct {
	UserID     string `json:"userId"`
	Role       string `json:"role"`
	Limit      int64  `json:"limit"`
	Used       int64  `json:"used"`
	Overridden bool   `json:"overridden"`
}

// Exceeds — загрузка size байт превысит квоту.
func (q Quota) Exceeds(size int64) bool {
	return q.Used+size > q.Limit
}

// Remaining — остаток квоты, не меньше нуля.
func (q Quota) Remaining() int64 {
	if q.Used >= q.Limit {
		return 0
	}
	return q.Limit - q.Used
}
