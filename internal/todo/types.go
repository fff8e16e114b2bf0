package todo

import "time"

// GuestUserID marks todos created without a session. The original schema uses
// -1 rather than a nullable owner column; rows carrying it render with no
// owner.
const GuestUserID int64 = -1

type Owner struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
}

type Todo struct {
	ID        int64     `json:"id"`
	Title     string    `json:"title"`
	User      *Owner    `json:"user"`
	Completed bool      `json:"completed"`
	CreatedAt time.Time `json:"created_at"`
}
