package todos

import "time"

// Todo is the single persisted entity. Version is the optimistic-concurrency
// token; it never leaves the server in the body (see ETag handling in http.go).
type Todo struct {
	ID          int64      `json:"id" db:"id"`
	Title       string     `json:"title" db:"title"`
	Description *string    `json:"description" db:"description"`
	IsCompleted bool       `json:"isCompleted" db:"is_completed"`
	CreatedDate time.Time  `json:"createdDate" db:"created_date"`
	DueDate     *time.Time `json:"dueDate" db:"due_date"`
	Version     string     `json:"-" db:"version"`
}
