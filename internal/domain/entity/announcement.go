package entity

import "time"

// AnnouncementRequest is emitted by the call state machine after a call or recall
type AnnouncementRequest struct {
	Patient     Patient   `json:"patient"`
	Stage       Stage     `json:"stage"`
	Room        string    `json:"room"`
	Recall      bool      `json:"recall"`
	RequestedAt time.Time `json:"requestedAt"`
}

// AnnouncementResult is what the display and voice channel receive
type AnnouncementResult struct {
	PatientID        string    `json:"patientId"`
	Ticket           string    `json:"ticket"`
	Name             string    `json:"name"`
	Stage            Stage     `json:"stage"`
	Room             string    `json:"room"`
	Text             string    `json:"text"`
	AudioKey         string    `json:"audioKey,omitempty"`
	AudioURL         string    `json:"audioUrl,omitempty"`
	CacheHit         bool      `json:"cacheHit"`
	AudioUnavailable bool      `json:"audioUnavailable"`
	Recall           bool      `json:"recall"`
	Error            string    `json:"error,omitempty"`
	AnnouncedAt      time.Time `json:"announcedAt"`

	Err error `json:"-"`
}

// AudioEntry is a stored audio object with its last write time
type AudioEntry struct {
	Key       string    `json:"key"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// PhraseTemplate maps a stage code to an announcement template
type PhraseTemplate struct {
	Stage    Stage  `json:"stage"`
	Template string `json:"template"`
}
