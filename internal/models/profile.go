package models

import (
	"time"

	"github.com/lib/pq"
	"gorm.io/datatypes"
)

// Profile is the user directory row consulted by matchmaking. Identity itself
// lives with the auth collaborator; this only carries what ranking and
// filtering need.
type Profile struct {
	UserID      string `gorm:"column:user_id;type:uuid;primaryKey" json:"user_id"`
	DisplayName string `gorm:"column:display_name;type:text" json:"display_name"`

	Region string `gorm:"column:region;type:text;index" json:"region"`
	Level  string `gorm:"column:level;type:text" json:"level"` // beginner|intermediate|advanced

	Languages pq.StringArray `gorm:"column:languages;type:text[]" json:"languages"`

	// JSONB, structure left to the client
	Preferences datatypes.JSON `gorm:"column:preferences;type:jsonb" json:"preferences"`

	LastActiveAt time.Time `gorm:"column:last_active_at;type:timestamptz;index" json:"last_active_at"`
	UpdatedAt    time.Time `gorm:"column:updated_at;type:timestamptz" json:"updated_at"`
}

func (Profile) TableName() string { return "profiles" }
