package model

import "time"

// SubmissionRow - строка заказа в формате внешнего API.
type SubmissionRow struct {
	Phone      string  `json:"phone" db:"phone" validate:"required,len=10,numeric"`
	CapacityGB float64 `json:"capacity_gb" db:"capacity_gb" validate:"gt=0"`
	Network    string  `json:"network" db:"network" validate:"required,oneof=MTN AirtelTigo Telecel"`
	RawPhone   string  `json:"raw_phone" db:"raw_phone"`
}

// BulkSubmission - тело запроса к API приема заказов.
type BulkSubmission struct {
	AgentID             string          `json:"agent_id" validate:"required"`
	Source              string          `json:"source" validate:"required,oneof=csv text"`
	Rows                []SubmissionRow `json:"rows" validate:"required,min=1,max=2000,dive"`
	PaymentInstructions string          `json:"payment_instructions" validate:"required"`
}

// SubmissionAccepted - успешный ответ API приема заказов.
type SubmissionAccepted struct {
	SubmissionID string `json:"submission_id"`
	PaymentPIN   string `json:"payment_pin"`
}

// StoredSubmission - принятый пакет в хранилище сервиса приема заказов.
type StoredSubmission struct {
	ID                  string          `json:"submission_id" db:"id"`
	AgentID             string          `json:"agent_id" db:"agent_id"`
	Source              string          `json:"source" db:"source"`
	PaymentPIN          string          `json:"-" db:"payment_pin"`
	PaymentInstructions string          `json:"payment_instructions" db:"payment_instructions"`
	Fingerprint         string          `json:"-" db:"fingerprint"`
	RowCount            int             `json:"row_count" db:"row_count"`
	TotalCapacityGB     float64         `json:"total_capacity_gb" db:"total_capacity_gb"`
	CreatedAt           time.Time       `json:"created_at" db:"created_at"`
	Rows                []SubmissionRow `json:"rows" db:"-"`
}

// BatchRequest - сообщение Kafka с пакетом в текстовом виде.
type BatchRequest struct {
	AgentID string `json:"agent_id" validate:"required"`
	Text    string `json:"text" validate:"required"`
}
