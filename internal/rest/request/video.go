package request

import "github.com/Guyuepp/videohub/domain"

type Video struct {
	Title     string `json:"title" binding:"required,max=255"`
	SourceURL string `json:"source_url" binding:"required,url"`
}

func (r *Video) ToDomain(userID int64) domain.Video {
	return domain.Video{
		UserID:    userID,
		Title:     r.Title,
		SourceURL: r.SourceURL,
	}
}

type VideoStatus struct {
	Status       domain.VideoStatus `json:"status" binding:"required,oneof=processing transcoding transcribing summarizing completed failed"`
	ErrorMessage string             `json:"error_message" binding:"required_if=Status failed,max=1000"`
}
