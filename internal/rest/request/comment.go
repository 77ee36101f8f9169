package request

import "github.com/Guyuepp/videohub/domain"

type Comment struct {
	Content  string `json:"content" binding:"required,max=2000"`
	ParentID int64  `json:"parent_id" binding:"min=0"`
}

// ToDomain: Request -> Domain
func (r *Comment) ToDomain(videoID, userID int64) domain.Comment {
	return domain.Comment{
		VideoID:  videoID,
		UserID:   userID,
		Content:  r.Content,
		ParentID: r.ParentID,
	}
}
