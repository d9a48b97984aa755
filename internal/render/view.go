package render

import (
	"github.com/ashureev/qa-demo/internal/session"
)

// EntryView is one history entry as shown in the UI.
type EntryView struct {
	Index        int    `json:"index"`
	Question     string `json:"question"`
	Response     string `json:"response"`
	ResponseHTML string `json:"response_html"`
}

// HistoryView is the full redraw payload for a session.
type HistoryView struct {
	State          session.State `json:"state"`
	Entries        []EntryView   `json:"entries"`
	ResponseLength int           `json:"response_length"`
	Warning        string        `json:"warning,omitempty"`
}

// History builds the redraw payload. Entries keep insertion order and carry
// their 1-based position.
func History(snap session.Snapshot) HistoryView {
	entries := make([]EntryView, 0, len(snap.Entries))
	for i, e := range snap.Entries {
		entries = append(entries, EntryView{
			Index:        i + 1,
			Question:     e.Question,
			Response:     e.Response,
			ResponseHTML: HTML(e.Response),
		})
	}
	return HistoryView{
		State:          snap.State,
		Entries:        entries,
		ResponseLength: snap.ResponseLength,
	}
}
