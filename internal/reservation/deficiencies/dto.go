package deficiencies

import "time"

// 不備登録リクエスト
type LogRequest struct {
	Type        string  `json:"type" binding:"required"`
	Description *string `json:"description,omitempty"`
	// 省略時は Borrow の借用者
	UserID        *string `json:"user_id,omitempty"`
	FICToNotifyID *string `json:"fic_to_notify_id,omitempty"`
}

type UpdateRequest struct {
	Status      *string `json:"status,omitempty"`
	Description *string `json:"description,omitempty"`
	Resolution  *string `json:"resolution,omitempty"`
}

type DeficiencyResponse struct {
	DeficiencyID  string    `json:"deficiency_id"`
	Type          Type      `json:"type"`
	Status        Status    `json:"status"`
	Description   *string   `json:"description,omitempty"`
	Resolution    *string   `json:"resolution,omitempty"`
	UserID        string    `json:"user_id"`
	TaggedByID    string    `json:"tagged_by_id"`
	FICToNotifyID *string   `json:"fic_to_notify_id,omitempty"`
	BorrowID      string    `json:"borrow_id"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

type ListResult struct {
	Items      []DeficiencyResponse `json:"items"`
	Total      int64                `json:"total"`
	NextOffset int                  `json:"next_offset"`
}

func toResponse(d *Deficiency) DeficiencyResponse {
	return DeficiencyResponse{
		DeficiencyID:  d.ID,
		Type:          d.Type,
		Status:        d.Status,
		Description:   nullToPtr(d.Description),
		Resolution:    nullToPtr(d.Resolution),
		UserID:        d.UserID,
		TaggedByID:    d.TaggedByID,
		FICToNotifyID: nullToPtr(d.FICToNotifyID),
		BorrowID:      d.BorrowID,
		CreatedAt:     d.CreatedAt,
		UpdatedAt:     d.UpdatedAt,
	}
}
