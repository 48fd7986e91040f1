package tasks

import "time"

type Task struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Category    string    `json:"category"`
	Location    string    `json:"location"`
	BudgetMin   *float64  `json:"budget_min"`
	BudgetMax   *float64  `json:"budget_max"`
	Photos      []string  `json:"photos"`
	Status      string    `json:"status"` // open | in_progress | completed
	CreatedBy   string    `json:"created_by"`
	CreatedAt   time.Time `json:"created_at"`
}

// Application is a worker's offer on a task.
type Application struct {
	ID         string    `json:"id"`
	TaskID     string    `json:"task_id"`
	WorkerID   string    `json:"worker_id"`
	OfferPrice float64   `json:"offer_price"`
	Message    string    `json:"message"`
	Status     string    `json:"status"` // pending | accepted | rejected
	CreatedAt  time.Time `json:"created_at"`
}

type Review struct {
	ID         string    `json:"id"`
	TaskID     string    `json:"task_id"`
	ReviewerID string    `json:"reviewer_id"`
	WorkerID   string    `json:"worker_id"`
	Rating     int       `json:"rating"`
	Comment    string    `json:"comment"`
	CreatedAt  time.Time `json:"created_at"`
}
