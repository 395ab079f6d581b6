package storage

import "time"

// StateObject is one versioned row of the sqlite backend.
type StateObject struct {
	Key       string    `gorm:"column:object_key;primaryKey" json:"key"`
	Version   int64     `gorm:"not null" json:"version"`
	Data      []byte    `gorm:"type:blob;not null" json:"-"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
