package models

import (
	"time"
)

// SpaceRecord is the primary record row, one per logical record.
type SpaceRecord struct {
	URI         string    `json:"uri" gorm:"primaryKey;type:text"`
	Space       string    `json:"space" gorm:"type:text;index:idx_space_collection"`
	Collection  string    `json:"collection" gorm:"type:text;index:idx_space_collection;index"`
	RKey        string    `json:"rkey" gorm:"column:rkey;type:text;index"`
	CID         string    `json:"cid" gorm:"column:cid;type:text;not null"`
	Record      string    `json:"record" gorm:"type:text"`
	IndexedAt   time.Time `json:"indexedAt" gorm:"not null"`
	DID         string    `json:"did" gorm:"column:did;type:text;index"`
	TakedownRef *string   `json:"takedownRef" gorm:"type:text"`
}

func (SpaceRecord) TableName() string { return "space_records" }

// RecordVersion tracks the current version of each record, keyed by URI.
type RecordVersion struct {
	URI        string    `json:"uri" gorm:"primaryKey;type:text"`
	CID        string    `json:"cid" gorm:"column:cid;type:text;not null"`
	Collection string    `json:"collection" gorm:"type:text"`
	RKey       string    `json:"rkey" gorm:"column:rkey;type:text"`
	RepoRev    string    `json:"repoRev" gorm:"type:text;index"`
	IndexedAt  time.Time `json:"indexedAt" gorm:"not null"`
}

func (RecordVersion) TableName() string { return "record_versions" }

// Backlink is one extracted outward reference, replaced wholesale on
// every re-index of its owning record.
type Backlink struct {
	URI    string `json:"uri" gorm:"primaryKey;type:text"`
	Path   string `json:"path" gorm:"primaryKey;type:text"`
	LinkTo string `json:"linkTo" gorm:"primaryKey;type:text;index:idx_backlink_target"`
}

func (Backlink) TableName() string { return "backlinks" }
