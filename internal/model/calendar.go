package model

// EventTime はGoogleカレンダーイベントの開始・終了時刻を表す。
// 終日イベントはDate（YYYY-MM-DD）、時刻付きイベントはDateTime（RFC3339）が設定される。
type EventTime struct {
	Date     string `json:"date,omitempty"`
	DateTime string `json:"dateTime,omitempty"`
}

// CalendarEvent はGoogleカレンダーから取得した読み取り専用イベントを表す。
// 永続化せず、表示のたびにフェッチする。
type CalendarEvent struct {
	ID      string    `json:"id"`
	Summary string    `json:"summary"`
	Start   EventTime `json:"start"`
	End     EventTime `json:"end"`
}
