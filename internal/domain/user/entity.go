package user

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// User represents the users table. Account management lives in a separate
// service; this backend only reads profiles for message fan-out.
type User struct {
	ID          uuid.UUID
	Username    sql.NullString
	DisplayName string
	AvatarURL   string
	Status      string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (User) TableName() string {
	return "users"
}
