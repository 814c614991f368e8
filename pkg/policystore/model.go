package policystore

import "time"

// Fragment is one backend-tagged piece of a Policy's content (spec.md
// §3: "content: ordered list of backend-tagged fragments"). Ordinal
// preserves submission order since GORM's preload order isn't otherwise
// guaranteed, and R1 requires a byte-for-byte round trip of content.
type Fragment struct {
	ID              uint   `json:"-" gorm:"primaryKey"`
	PolicyVersion   int    `json:"-" gorm:"index"`
	Ordinal         int    `json:"-"`
	Reasoner        string `json:"reasoner"`
	ReasonerVersion string `json:"reasoner_version"`
	Content         string `json:"content" gorm:"type:text"`
}

// Policy is one versioned policy document submitted to the store
// (spec.md §3: "(version: monotonic integer, description,
// version_description, creator, created_at, content: ordered list of
// backend-tagged fragments)"). Versions are immutable once inserted;
// only the ActiveVersion log changes.
type Policy struct {
	Version            int        `json:"version" gorm:"primaryKey"`
	Description        string     `json:"description"`
	VersionDescription string     `json:"version_description"`
	Creator            string     `json:"creator"`
	CreatedAt          time.Time  `json:"created_at"`
	Content            []Fragment `json:"content" gorm:"foreignKey:PolicyVersion;references:Version"`
}

// ActiveVersionEntry is one row of the active-version log (spec.md §3's
// "append-only log of (version, activated_at, activated_by)"; §6's
// active_version_log table). A row with Version == 0 is the sentinel
// meaning "no policy active" — activate and deactivate both append,
// never update or delete, so the log stays a full history of every
// switch. The current active version is whichever row has the latest
// ActivatedAt.
type ActiveVersionEntry struct {
	Version     int       `json:"version" gorm:"primaryKey"`
	ActivatedAt time.Time `json:"activated_at" gorm:"primaryKey"`
	ActivatedBy string    `json:"activated_by"`
}

// noneActiveVersion is the ActiveVersionEntry.Version sentinel a
// Deactivate call appends.
const noneActiveVersion = 0
